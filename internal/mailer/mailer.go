package mailer

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"email-auth-service/internal/config"
	"email-auth-service/internal/util"
)

// Mailer delivers short plain-text messages over SMTP. Delivery is
// best-effort: callers decide whether a failure aborts their operation.
type Mailer struct {
	client *mail.Client
	from   string
	logger *zap.Logger
}

func NewMailer(cfg *config.Config, logger *zap.Logger) (*Mailer, error) {
	smtpConfig := cfg.SMTP

	opts := []mail.Option{
		mail.WithPort(smtpConfig.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if smtpConfig.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(smtpConfig.Username),
			mail.WithPassword(smtpConfig.Password),
		)
	}

	client, err := mail.NewClient(smtpConfig.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP client: %w", err)
	}

	util.Info("SMTP mailer initialized",
		zap.String("host", smtpConfig.Host),
		zap.Int("port", smtpConfig.Port),
		zap.String("from", smtpConfig.From))

	return &Mailer{
		client: client,
		from:   smtpConfig.From,
		logger: logger,
	}, nil
}

// Send delivers a plain-text message to a single recipient.
func (m *Mailer) Send(ctx context.Context, to, subject, body string) error {
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("invalid sender address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return fmt.Errorf("invalid recipient address: %w", err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("failed to send mail: %w", err)
	}

	m.logger.Debug("Mail sent",
		util.String("to", to),
		util.String("subject", subject))

	return nil
}
