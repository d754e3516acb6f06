// Package email provides the email client for sending operator alerts.
package email

import (
	"fmt"
	"time"

	"github.com/AmberSignal/pulsestat-go/pkg/config"
	"github.com/resendlabs/resend-go"
)

// Service defines the interface for sending alert emails, allowing for mock
// implementations in tests.
type Service interface {
	SendBanAlert(identifier string, violations int, bannedUntil time.Time) error
}

// ResendClient is the concrete implementation of the email Service using the Resend API.
type ResendClient struct {
	client    *resend.Client
	fromEmail string
	toEmail   string
}

// NewService creates a new email service client, returning the Service interface.
// Returns an error when the deployment has no alert email configured; callers
// treat that as "alerts disabled", not as a startup failure.
func NewService() (Service, error) {
	if config.ResendAPIKey == "" {
		return nil, fmt.Errorf("RESEND_API_KEY is not configured")
	}
	if config.AdminEmail == "" {
		return nil, fmt.Errorf("ADMIN_EMAIL is not configured")
	}

	return &ResendClient{
		client:    resend.NewClient(config.ResendAPIKey),
		fromEmail: config.AlertEmailFrom,
		toEmail:   config.AdminEmail,
	}, nil
}

// SendBanAlert composes and sends the abuse escalation email.
func (c *ResendClient) SendBanAlert(identifier string, violations int, bannedUntil time.Time) error {
	subject := fmt.Sprintf("PulseStat: banned %s for repeated rate-limit violations", identifier)

	html := fmt.Sprintf(
		`<p>The identifier <strong>%s</strong> exceeded the heartbeat rate limit %d times and has been banned until %s.</p>
<p>Rejections are logged on the abuse channel.</p>`,
		identifier, violations, bannedUntil.UTC().Format(time.RFC3339))

	params := &resend.SendEmailRequest{
		From:    fmt.Sprintf("PulseStat <%s>", c.fromEmail),
		To:      []string{c.toEmail},
		Subject: subject,
		Html:    html,
	}

	_, err := c.client.Emails.Send(params)
	if err != nil {
		return fmt.Errorf("failed to send ban alert via Resend: %w", err)
	}

	return nil
}
