// Package pg implementa core.Repository sobre PostgreSQL via pgx.
//
// El material de claves del cliente y las preferencias de notificación se
// guardan como JSONB: el server los trata como blobs opacos y no necesita
// consultarlos por campo.
package pg

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	migrations "github.com/perchsec/perch/migrations/postgres"

	"github.com/perchsec/perch/internal/store/core"
)

type Store struct {
	pool *pgxpool.Pool

	accounts accountRepo
	sessions sessionRepo
	canaries canaryRepo
}

// New abre el pool y verifica la conexión.
func New(ctx context.Context, dsn string, maxConns int32) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pg: parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pg: ping: %w", err)
	}

	s := &Store{pool: pool}
	s.accounts.pool = pool
	s.sessions.pool = pool
	s.canaries.pool = pool
	return s, nil
}

// Migrate aplica las migraciones embebidas en orden lexicográfico. Los
// scripts usan IF NOT EXISTS, así que re-ejecutarlos es seguro.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("pg: leyendo migraciones: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := fs.ReadFile(migrations.FS, name)
		if err != nil {
			return fmt.Errorf("pg: leyendo %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("pg: aplicando %s: %w", name, err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Accounts() core.AccountRepository { return &s.accounts }
func (s *Store) Sessions() core.SessionRepository { return &s.sessions }
func (s *Store) Canaries() core.CanaryRepository  { return &s.canaries }
