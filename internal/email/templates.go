package email

import "fmt"

// Templates mínimos del producto. HTML simple a propósito: los clientes de
// mail castigan el CSS complejo.

// VerificationEmail arma el mail de verificación de cuenta.
func VerificationEmail(siteName, verifyURL string) (subject, html, text string) {
	subject = fmt.Sprintf("Verificá tu email — %s", siteName)
	html = fmt.Sprintf(
		`<p>Hola,</p><p>Confirmá tu dirección haciendo click en el enlace:</p><p><a href="%s">%s</a></p><p>Si no creaste una cuenta en %s, ignorá este mensaje.</p>`,
		verifyURL, verifyURL, siteName,
	)
	text = fmt.Sprintf("Confirmá tu dirección visitando: %s\n\nSi no creaste una cuenta en %s, ignorá este mensaje.\n", verifyURL, siteName)
	return subject, html, text
}

// CanaryVerifiedEmail notifica que el dominio quedó verificado.
func CanaryVerifiedEmail(siteName, domain string) (subject, html, text string) {
	subject = fmt.Sprintf("Dominio %s verificado — %s", domain, siteName)
	html = fmt.Sprintf(
		`<p>Tu dominio <strong>%s</strong> pasó la verificación DNS. El canary ya está activo.</p>`,
		domain,
	)
	text = fmt.Sprintf("Tu dominio %s pasó la verificación DNS. El canary ya está activo.\n", domain)
	return subject, html, text
}
