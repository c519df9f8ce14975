// Package migrations embebe los scripts SQL del esquema Postgres.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
