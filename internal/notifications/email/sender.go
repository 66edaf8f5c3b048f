// Package email sends notifications over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"github.com/bissquit/incident-relay/internal/notifications"
	"github.com/bissquit/incident-relay/internal/pkg/ctxlog"
	"golang.org/x/time/rate"
)

// Config holds email sender configuration.
type Config struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	BatchSize    int
	// RatePerSecond limits SMTP sessions. Zero means unlimited.
	RatePerSecond float64
	DialTimeout   time.Duration
}

// Sender delivers mail via SMTP with STARTTLS.
type Sender struct {
	config  Config
	auth    smtp.Auth
	limiter *rate.Limiter
}

// NewSender creates a new email sender.
func NewSender(config Config) (*Sender, error) {
	if config.SMTPHost == "" {
		return nil, errors.New("email sender: SMTP host is required")
	}
	if config.FromAddress == "" {
		return nil, errors.New("email sender: from address is required")
	}

	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.BatchSize == 0 {
		config.BatchSize = 50
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if config.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), 1)
	}

	return &Sender{
		config:  config,
		auth:    auth,
		limiter: limiter,
	}, nil
}

// SendBatch sends an email to multiple recipients using BCC.
// Recipients are split into batches to respect SMTP server limits.
// Errors are classified with notifications.NewRetryableError / NewNonRetryableError.
func (s *Sender) SendBatch(ctx context.Context, subject, body string, recipients []string) error {
	if len(recipients) == 0 {
		return nil
	}
	log := ctxlog.FromContext(ctx)

	var errs []error
	for _, batch := range splitBatches(recipients, s.config.BatchSize) {
		if err := s.limiter.Wait(ctx); err != nil {
			return notifications.NewNonRetryableError(fmt.Errorf("rate limit wait: %w", err))
		}

		if err := s.sendEmail(ctx, subject, body, batch); err != nil {
			log.Error("failed to send email batch",
				"batch_size", len(batch),
				"error", err,
			)
			errs = append(errs, err)
			continue
		}

		log.Debug("email batch sent", "batch_size", len(batch))
	}

	if len(errs) == 0 {
		return nil
	}
	err := errors.Join(errs...)
	if IsRetryable(err) {
		return notifications.NewRetryableError(err)
	}
	return notifications.NewNonRetryableError(err)
}

func splitBatches(recipients []string, size int) [][]string {
	if size <= 0 {
		size = len(recipients)
	}
	var batches [][]string
	for i := 0; i < len(recipients); i += size {
		end := min(i+size, len(recipients))
		batches = append(batches, recipients[i:end])
	}
	return batches
}

func (s *Sender) sendEmail(ctx context.Context, subject, body string, recipients []string) error {
	msg := s.buildMessage(subject, body)
	addr := net.JoinHostPort(s.config.SMTPHost, fmt.Sprint(s.config.SMTPPort))

	tlsConfig := &tls.Config{
		ServerName: s.config.SMTPHost,
		MinVersion: tls.VersionTLS12,
	}

	return s.sendWithSTARTTLS(ctx, addr, tlsConfig, recipients, msg)
}

// buildMessage constructs the email message with headers.
func (s *Sender) buildMessage(subject, body string) []byte {
	var msg strings.Builder

	fmt.Fprintf(&msg, "From: %s\r\n", s.config.FromAddress)
	msg.WriteString("To: undisclosed-recipients:;\r\n")
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	return []byte(msg.String())
}

func (s *Sender) sendWithSTARTTLS(ctx context.Context, addr string, tlsConfig *tls.Config, recipients []string, msg []byte) error {
	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}

	// BCC: recipients only appear in the envelope.
	var added int
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			ctxlog.FromContext(ctx).Warn("smtp rejected recipient", "error", err)
			continue
		}
		added++
	}
	if added == 0 {
		return errors.New("no valid recipients")
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// IsRetryable reports whether an SMTP failure is temporary.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	// 4xx replies are transient.
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		return tpErr.Code >= 400 && tpErr.Code < 500
	}

	errStr := err.Error()
	for _, code := range []string{"421", "450", "451", "452"} {
		if strings.Contains(errStr, code) {
			return true
		}
	}
	return false
}
