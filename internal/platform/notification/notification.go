// Package notification provides the outbound patient-portal invite channel.
// Invites are best-effort: delivery failure is logged and reported to the
// caller but never escalates into the payment pipeline's outcome.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates
// pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]*Template)}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "portal-invite",
			Name:    "Patient Portal Invite",
			Subject: "Set up your patient portal account",
			Body:    "Hi {{patient_name}}, thanks for your payment. Create your patient portal account here: {{invite_link}}. Your care team will use the portal to share visit notes and follow-ups.",
		},
		{
			ID:      "payment-receipt",
			Name:    "Payment Receipt",
			Subject: "Receipt for your payment",
			Body:    "Hi {{patient_name}}, we received your payment of {{amount}}. Reference: {{payment_ref}}.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are
// left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// InviteService sends portal invites through the configured email channel.
type InviteService struct {
	sender    EmailSender
	templates *TemplateEngine
	log       zerolog.Logger
}

// NewInviteService builds an InviteService.
func NewInviteService(sender EmailSender, log zerolog.Logger) *InviteService {
	return &InviteService{
		sender:    sender,
		templates: NewTemplateEngine(),
		log:       log.With().Str("component", "notification").Logger(),
	}
}

// SendPortalInvite renders and sends the portal invite email. The reason is
// recorded in logs only; identity fields never appear in log output.
func (s *InviteService) SendPortalInvite(ctx context.Context, to, patientName, inviteLink, reason string) error {
	if to == "" {
		return errors.New("notification: recipient email is empty")
	}

	subject, body, err := s.templates.Render("portal-invite", map[string]string{
		"patient_name": patientName,
		"invite_link":  inviteLink,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	if err := s.sender.SendEmail(ctx, to, subject, body); err != nil {
		s.log.Warn().Str("reason", reason).Dur("elapsed", time.Since(start)).Err(err).Msg("portal invite send failed")
		return fmt.Errorf("notification: send portal invite: %w", err)
	}

	s.log.Info().Str("reason", reason).Dur("elapsed", time.Since(start)).Msg("portal invite sent")
	return nil
}

// LogEmailSender writes emails to the log instead of delivering them. Used in
// development and as the default when no SMTP relay is configured.
type LogEmailSender struct {
	Log zerolog.Logger
}

// SendEmail logs the message metadata.
func (s *LogEmailSender) SendEmail(_ context.Context, to, subject, _ string) error {
	s.Log.Info().Str("to", to).Str("subject", subject).Msg("email (log sender)")
	return nil
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// SendEmail records the call and optionally returns an error.
func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
