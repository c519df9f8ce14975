// Package email define el contrato de envío y la implementación SMTP.
package email

// Sender envía un email con cuerpo HTML y/o texto plano.
type Sender interface {
	Send(to, subject, htmlBody, textBody string) error
}

// SMTPConfig configuración del sender SMTP.
type SMTPConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	FromEmail string `yaml:"from_email"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	TLSMode   string `yaml:"tls_mode"` // "auto" | "starttls" | "ssl" | "none"
}

// Noop descarta todos los emails. Para dev/tests.
type Noop struct{}

func (Noop) Send(to, subject, htmlBody, textBody string) error { return nil }
