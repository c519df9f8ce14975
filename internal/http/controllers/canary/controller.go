// Package canary expone los endpoints de dominios canary.
package canary

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	canarycore "github.com/perchsec/perch/internal/canary"
	dto "github.com/perchsec/perch/internal/http/dto/canary"
	httperrors "github.com/perchsec/perch/internal/http/errors"
	"github.com/perchsec/perch/internal/http/helpers"
	accountsvc "github.com/perchsec/perch/internal/http/services/account"
	svc "github.com/perchsec/perch/internal/http/services/canary"
	"github.com/perchsec/perch/internal/store/core"
)

type Controller struct {
	service *svc.Service
}

func NewController(service *svc.Service) *Controller {
	return &Controller{service: service}
}

func mapErr(err error) *httperrors.AppError {
	switch {
	case errors.Is(err, canarycore.ErrBadDomain):
		return httperrors.ErrInvalidDomain
	case errors.Is(err, canarycore.ErrDomainRetired):
		return httperrors.ErrDomainRetired
	case errors.Is(err, canarycore.ErrRateLimited):
		return httperrors.ErrRateLimitExceeded
	case errors.Is(err, accountsvc.ErrUnauthorized):
		return httperrors.ErrUnauthorized
	case errors.Is(err, core.ErrNotFound):
		return httperrors.ErrNotFound
	case errors.Is(err, core.ErrConflict):
		return httperrors.ErrConflict
	default:
		return httperrors.ErrInternalServerError.WithCause(err)
	}
}

// Register maneja POST /canary/domain/add
func (c *Controller) Register(w http.ResponseWriter, r *http.Request) {
	var req dto.RegisterRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	view, err := c.service.Register(r.Context(), helpers.AccountID(r.Context()), req)
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusCreated, view)
}

// Get maneja GET /canary/domain/{domain}. Funciona con o sin sesión: el
// dueño ve el estado completo, el resto solo dominios verificados.
func (c *Controller) Get(w http.ResponseWriter, r *http.Request) {
	view, err := c.service.Get(r.Context(),
		chi.URLParam(r, "domain"), helpers.AccountID(r.Context()))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, view)
}

// List maneja GET /canary/list
func (c *Controller) List(w http.ResponseWriter, r *http.Request) {
	views, err := c.service.List(r.Context(), helpers.AccountID(r.Context()))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, views)
}

// VerifyNow maneja POST /canary/domain/{domain}/verify
func (c *Controller) VerifyNow(w http.ResponseWriter, r *http.Request) {
	view, err := c.service.VerifyNow(r.Context(),
		chi.URLParam(r, "domain"), helpers.AccountID(r.Context()))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, view)
}

// Trust maneja POST /canary/domain/{domain}/trusted/add
func (c *Controller) Trust(w http.ResponseWriter, r *http.Request) {
	var req dto.TrustRequest
	if !helpers.ReadJSON(w, r, &req) {
		return
	}
	err := c.service.Trust(r.Context(),
		helpers.AccountID(r.Context()), chi.URLParam(r, "domain"), req)
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Trusted maneja GET /canary/domain/{domain}/trusted
func (c *Controller) Trusted(w http.ResponseWriter, r *http.Request) {
	resp, err := c.service.Trusted(r.Context(),
		helpers.AccountID(r.Context()), chi.URLParam(r, "domain"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	helpers.WriteJSON(w, http.StatusOK, resp)
}

// Delete maneja DELETE /canary/domain/{domain}/delete?otp
func (c *Controller) Delete(w http.ResponseWriter, r *http.Request) {
	err := c.service.Delete(r.Context(),
		chi.URLParam(r, "domain"), helpers.AccountID(r.Context()), r.URL.Query().Get("otp"))
	if err != nil {
		httperrors.WriteError(w, r, mapErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
