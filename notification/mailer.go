package notification

import (
	"fmt"
	"net/smtp"
	"strings"

	extErrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

// MailerOptions provides initialization parameters for Mailer
type MailerOptions struct {
	SMTPAuth smtp.Auth
	Hostname string // host:port of the SMTP server
	From     string
	SiteName string
	Logger   *zap.Logger
}

// Mailer delivers notification events as plain-text email
type Mailer struct {
	MailerOptions
}

// NewMailer returns a Mailer
func NewMailer(option MailerOptions) (*Mailer, error) {
	if option.Hostname == "" {
		return nil, fmt.Errorf("empty Hostname is invalid")
	}
	if option.From == "" {
		return nil, fmt.Errorf("empty From is invalid")
	}
	if option.Logger == nil {
		return nil, fmt.Errorf("nil Logger is invalid")
	}
	return &Mailer{
		MailerOptions: option,
	}, nil
}

// SendProvisioned delivers the "server ready" mail with the access credentials
func (m *Mailer) SendProvisioned(event ProvisionedEvent) error {
	if event.Email == "" {
		return fmt.Errorf("event has no recipient email")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s <%s>\r\n", m.SiteName, m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", event.Email)
	fmt.Fprintf(&msg, "Subject: Your server is ready\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Your server in %s has been provisioned.\r\n\r\n", event.Region)
	fmt.Fprintf(&msg, "Address:       %s\r\n", event.ServerAddr)
	fmt.Fprintf(&msg, "Root password: %s\r\n\r\n", event.RootPassword)
	fmt.Fprintf(&msg, "Please change the root password after your first login.\r\n")
	if event.DashboardLink != "" {
		fmt.Fprintf(&msg, "Manage your server: %s\r\n", event.DashboardLink)
	}

	if err := smtp.SendMail(m.Hostname, m.SMTPAuth, m.From, []string{event.Email}, []byte(msg.String())); err != nil {
		m.Logger.Error("Unable to deliver provisioned mail",
			zap.String("UserID", event.UserID),
			zap.Error(err),
		)
		return extErrors.Wrap(err, "Cannot deliver mail")
	}
	return nil
}
