// Package health expone el endpoint de salud.
package health

import (
	"net/http"

	"github.com/perchsec/perch/internal/http/helpers"
	"github.com/perchsec/perch/internal/store/core"
)

type Controller struct {
	repo core.Repository
}

func NewController(repo core.Repository) *Controller {
	return &Controller{repo: repo}
}

// Healthz maneja GET /healthz. Responde degradado (503) si el storage no
// contesta el ping.
func (c *Controller) Healthz(w http.ResponseWriter, r *http.Request) {
	if err := c.repo.Ping(r.Context()); err != nil {
		helpers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	helpers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
