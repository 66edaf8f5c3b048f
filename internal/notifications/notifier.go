// Package notifications renders incident events and delivers them by email.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bissquit/incident-relay/internal/domain"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
)

// Sender delivers one message to a set of recipients.
type Sender interface {
	SendBatch(ctx context.Context, subject, body string, recipients []string) error
}

// Config holds mailer configuration.
type Config struct {
	Enabled bool
	BaseURL string
	Retry   RetryConfig
}

// Mailer renders incident events and hands them to a Sender.
type Mailer struct {
	config   Config
	sender   Sender
	renderer *Renderer
}

// NewMailer creates a new mailer.
func NewMailer(config Config, sender Sender, renderer *Renderer) *Mailer {
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryConfig()
	}
	return &Mailer{
		config:   config,
		sender:   sender,
		renderer: renderer,
	}
}

// Notify sends the event to the recipients. Every failure is wrapped with ErrDeliveryFailed.
func (m *Mailer) Notify(ctx context.Context, inc *domain.Incident, kind domain.EventKind, recipients []string) error {
	log := ctxlog.FromContext(ctx).With(
		slog.String("incident_id", inc.ID),
		slog.String("kind", string(kind)),
	)

	if !m.config.Enabled {
		log.Debug("notifications disabled, skipping")
		recordNotificationSent(string(kind), "skipped")
		return nil
	}
	if len(recipients) == 0 {
		log.Debug("no recipients, skipping")
		recordNotificationSent(string(kind), "skipped")
		return nil
	}

	subject, body, err := m.renderer.Render(NewPayload(inc, kind, m.config.BaseURL))
	if err != nil {
		recordNotificationSent(string(kind), "failed")
		return fmt.Errorf("%w: render: %w", ErrDeliveryFailed, err)
	}

	start := time.Now()
	attempts, err := withRetry(ctx, m.config.Retry, func(ctx context.Context) error {
		return m.sender.SendBatch(ctx, subject, body, recipients)
	})
	recordNotificationDuration(string(kind), time.Since(start))
	notificationRecipients.Observe(float64(len(recipients)))

	if err != nil {
		recordNotificationSent(string(kind), "failed")
		log.Error("notification delivery failed",
			"attempts", attempts,
			"recipient_count", len(recipients),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, err)
	}

	recordNotificationSent(string(kind), "sent")
	log.Info("notification sent",
		"attempts", attempts,
		"recipient_count", len(recipients),
	)
	return nil
}
