package account

import (
	"context"
	"fmt"
	"time"

	"github.com/perchsec/perch/internal/cache"
	dto "github.com/perchsec/perch/internal/http/dto/account"
	"github.com/perchsec/perch/internal/observability/logger"
	"github.com/perchsec/perch/internal/security/secretbox"
	"github.com/perchsec/perch/internal/security/totp"
	"github.com/perchsec/perch/internal/store/core"
)

// OtpGuard maneja el enrolamiento y verificación TOTP. El secreto vive
// cifrado at-rest (secretbox); durante el enrolamiento el candidato queda en
// cache hasta que el cliente demuestra poseerlo con un código válido.
type OtpGuard struct {
	accounts    core.AccountRepository
	cache       cache.Client
	windowSteps int
	issuer      string // nombre mostrado en la app autenticadora
}

func NewOtpGuard(accounts core.AccountRepository, c cache.Client, windowSteps int, issuer string) *OtpGuard {
	if windowSteps <= 0 {
		windowSteps = 1
	}
	return &OtpGuard{accounts: accounts, cache: c, windowSteps: windowSteps, issuer: issuer}
}

// Setup enrola OTP en dos pasos. Sin código: genera un secreto provisional
// (no persistido) y lo devuelve para cargar en la app. Con código: lo valida
// contra el provisional y recién entonces persiste el secreto y habilita.
func (g *OtpGuard) Setup(ctx context.Context, accountID, code string) (dto.OTPSetupResponse, error) {
	acc, err := g.accounts.GetByID(ctx, accountID)
	if err != nil {
		return dto.OTPSetupResponse{}, err
	}
	if acc.OTP.Enabled {
		return dto.OTPSetupResponse{}, fmt.Errorf("%w: otp ya habilitado", ErrConflict)
	}

	if code == "" {
		_, b32, err := totp.GenerateSecret()
		if err != nil {
			return dto.OTPSetupResponse{}, err
		}
		if err := g.cache.Set(ctx, pendingOTPPrefix+accountID, b32, pendingOTPTTL); err != nil {
			return dto.OTPSetupResponse{}, err
		}
		return dto.OTPSetupResponse{
			Secret:          b32,
			ProvisioningURI: totp.ProvisioningURI(g.issuer, acc.Email, b32),
		}, nil
	}

	b32, err := g.cache.Get(ctx, pendingOTPPrefix+accountID)
	if err != nil {
		// sin enrolamiento pendiente: mismo 401 que un código inválido
		return dto.OTPSetupResponse{}, ErrUnauthorized
	}
	raw, err := totp.DecodeSecret(b32)
	if err != nil {
		return dto.OTPSetupResponse{}, ErrUnauthorized
	}
	ok, counter := totp.Verify(raw, code, time.Now().UTC(), g.windowSteps, nil)
	if !ok {
		return dto.OTPSetupResponse{}, ErrUnauthorized
	}

	enc, err := secretbox.Encrypt(b32)
	if err != nil {
		return dto.OTPSetupResponse{}, err
	}
	acc.OTP = core.OTPConfig{SecretEnc: enc, Enabled: true, LastCounter: counter}
	if err := g.accounts.Update(ctx, acc); err != nil {
		return dto.OTPSetupResponse{}, err
	}
	_ = g.cache.Delete(ctx, pendingOTPPrefix+accountID)

	logger.From(ctx).Info("otp habilitado", logger.AccountID(accountID))
	return dto.OTPSetupResponse{Enabled: true}, nil
}

// VerifyEnabled valida un código contra el secreto persistido, con tolerancia
// de ventana y anti-replay por contador. Persiste el último contador usado.
func (g *OtpGuard) VerifyEnabled(ctx context.Context, acc *core.Account, code string) bool {
	if !acc.OTP.Enabled || acc.OTP.SecretEnc == "" {
		return false
	}
	b32, err := secretbox.Decrypt(acc.OTP.SecretEnc)
	if err != nil {
		logger.From(ctx).Error("no se pudo descifrar el secreto otp",
			logger.AccountID(acc.ID), logger.Err(err))
		return false
	}
	raw, err := totp.DecodeSecret(b32)
	if err != nil {
		return false
	}

	last := acc.OTP.LastCounter
	ok, counter := totp.Verify(raw, code, time.Now().UTC(), g.windowSteps, &last)
	if !ok {
		return false
	}

	acc.OTP.LastCounter = counter
	if err := g.accounts.Update(ctx, acc); err != nil {
		logger.From(ctx).Warn("no se pudo persistir el contador otp", logger.Err(err))
	}
	return true
}

// Require es el gate para operaciones sensibles: si la cuenta no tiene OTP,
// pasa; si tiene, exige un código válido.
func (g *OtpGuard) Require(ctx context.Context, acc *core.Account, code string) error {
	if !acc.OTP.Enabled {
		return nil
	}
	if code == "" || !g.VerifyEnabled(ctx, acc, code) {
		return ErrUnauthorized
	}
	return nil
}

// Reset deshabilita OTP previa verificación del código vigente.
func (g *OtpGuard) Reset(ctx context.Context, accountID, code string) (dto.OTPResetResponse, error) {
	acc, err := g.accounts.GetByID(ctx, accountID)
	if err != nil {
		return dto.OTPResetResponse{}, err
	}
	if !acc.OTP.Enabled {
		return dto.OTPResetResponse{Enabled: false}, nil
	}
	if code == "" || !g.VerifyEnabled(ctx, acc, code) {
		return dto.OTPResetResponse{}, ErrUnauthorized
	}

	acc.OTP = core.OTPConfig{}
	if err := g.accounts.Update(ctx, acc); err != nil {
		return dto.OTPResetResponse{}, err
	}
	logger.From(ctx).Info("otp deshabilitado", logger.AccountID(accountID))
	return dto.OTPResetResponse{Enabled: false}, nil
}
