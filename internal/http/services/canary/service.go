// Package canary adapta el verificador de dominios al contrato HTTP:
// vistas por dueño vs. públicas y el gate OTP del borrado.
package canary

import (
	"context"
	"errors"

	canarycore "github.com/perchsec/perch/internal/canary"
	dto "github.com/perchsec/perch/internal/http/dto/canary"
	accountsvc "github.com/perchsec/perch/internal/http/services/account"
	"github.com/perchsec/perch/internal/store/core"
)

type Service struct {
	verifier *canarycore.Verifier
	accounts core.AccountRepository
	otp      *accountsvc.OtpGuard
}

func NewService(verifier *canarycore.Verifier, accounts core.AccountRepository, otp *accountsvc.OtpGuard) *Service {
	return &Service{verifier: verifier, accounts: accounts, otp: otp}
}

// Register da de alta el dominio para la cuenta autenticada.
func (s *Service) Register(ctx context.Context, accountID string, in dto.RegisterRequest) (dto.Canary, error) {
	c, err := s.verifier.Register(ctx, canarycore.RegisterInput{
		Domain:    in.Domain,
		AccountID: accountID,
		About:     in.About,
		Signature: in.Signature,
		PublicKey: in.PublicKey,
	})
	if err != nil {
		return dto.Canary{}, err
	}
	return toView(c, true), nil
}

// Get retorna el canary. El dueño ve el sub-estado completo (incluido el TXT
// a publicar); cualquier otro caller solo ve dominios ya verificados.
func (s *Service) Get(ctx context.Context, domain, accountID string) (dto.Canary, error) {
	if accountID != "" {
		c, err := s.verifier.Get(ctx, domain, accountID)
		if err == nil {
			return toView(c, true), nil
		}
		if !errors.Is(err, core.ErrNotFound) {
			return dto.Canary{}, err
		}
		// no es del caller: cae a la vista pública
	}
	c, err := s.verifier.GetPublic(ctx, domain)
	if err != nil {
		return dto.Canary{}, err
	}
	return toView(c, false), nil
}

// List retorna los canaries del dueño.
func (s *Service) List(ctx context.Context, accountID string) ([]dto.Canary, error) {
	cs, err := s.verifier.List(ctx, accountID)
	if err != nil {
		return nil, err
	}
	out := make([]dto.Canary, 0, len(cs))
	for _, c := range cs {
		out = append(out, toView(c, true))
	}
	return out, nil
}

// VerifyNow dispara el chequeo manual del dueño.
func (s *Service) VerifyNow(ctx context.Context, domain, accountID string) (dto.Canary, error) {
	c, err := s.verifier.VerifyNow(ctx, domain, accountID)
	if err != nil {
		return dto.Canary{}, err
	}
	return toView(c, true), nil
}

// Trust registra confianza de la cuenta sobre un canary ajeno.
func (s *Service) Trust(ctx context.Context, accountID, domain string, in dto.TrustRequest) error {
	return s.verifier.Trust(ctx, accountID, domain, in.PublicKeyHash, in.Signature)
}

// Trusted retorna el registro de confianza de la cuenta sobre un dominio.
func (s *Service) Trusted(ctx context.Context, accountID, domain string) (dto.TrustResponse, error) {
	t, err := s.verifier.Trusted(ctx, accountID, domain)
	if err != nil {
		return dto.TrustResponse{}, err
	}
	return dto.TrustResponse{
		Domain:        t.Domain,
		PublicKeyHash: t.PublicKeyHash,
		Signature:     t.Signature,
		CreatedAt:     t.CreatedAt.Unix(),
	}, nil
}

// Delete borra el canary. Gated por OTP si la cuenta lo tiene habilitado.
func (s *Service) Delete(ctx context.Context, domain, accountID, otp string) error {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if err := s.otp.Require(ctx, acc, otp); err != nil {
		return err
	}
	return s.verifier.Delete(ctx, domain, accountID)
}

// toView arma la vista JSON. El código TXT solo se expone al dueño y solo
// mientras la verificación sigue abierta.
func toView(c *core.CanaryDomain, owner bool) dto.Canary {
	v := dto.Verification{
		State:     string(c.Verification.State),
		Completed: c.Verification.Completed,
		Attempts:  c.Verification.Attempts,
	}
	if owner && c.Verification.State != core.StateVerified {
		v.TXTRecord = canarycore.RecordPrefix + c.Verification.Code
		v.NextCheckAt = c.Verification.NextCheckAt.Unix()
	}
	return dto.Canary{
		Domain:       c.Domain,
		About:        c.About,
		Signature:    c.Signature,
		PublicKey:    c.PublicKey,
		CreatedAt:    c.CreatedAt.Unix(),
		Verification: v,
	}
}
