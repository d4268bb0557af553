// Package email sends transactional outage emails through Brevo.
package email

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	brevoEndpoint = "https://api.brevo.com/v3/smtp/email"
	sendTimeout   = 10 * time.Second
)

// Message is one outbound email.
type Message struct {
	ToEmail string
	Subject string
	HTML    string
	Text    string
}

// Provider sends outage emails. Send reports success as a bool; delivery
// failure is an expected condition the coordinator recovers from, not an
// error to propagate.
type Provider interface {
	SendOutageEmail(ctx context.Context, msg Message) bool
}

// Brevo delivers through the Brevo transactional email API.
type Brevo struct {
	apiKey      string
	senderEmail string
	senderName  string
	client      *http.Client
	log         zerolog.Logger
}

// NewBrevo creates a Brevo provider.
func NewBrevo(apiKey, senderEmail, senderName string, log zerolog.Logger) *Brevo {
	return &Brevo{
		apiKey:      apiKey,
		senderEmail: senderEmail,
		senderName:  senderName,
		client:      &http.Client{Timeout: sendTimeout},
		log:         log,
	}
}

type brevoPayload struct {
	Sender      brevoAddress   `json:"sender"`
	To          []brevoAddress `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
	TextContent string         `json:"textContent,omitempty"`
}

type brevoAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// SendOutageEmail posts the message to Brevo and reports whether it was
// accepted.
func (b *Brevo) SendOutageEmail(ctx context.Context, msg Message) bool {
	payload := brevoPayload{
		Sender:      brevoAddress{Email: b.senderEmail, Name: b.senderName},
		To:          []brevoAddress{{Email: msg.ToEmail}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
		TextContent: msg.Text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		b.log.Error().Err(err).Msg("encoding email payload")
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, brevoEndpoint, bytes.NewReader(body))
	if err != nil {
		b.log.Error().Err(err).Msg("building email request")
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("api-key", b.apiKey)

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.Error().Err(err).Str("to", msg.ToEmail).Msg("sending outage email")
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		b.log.Info().Str("to", msg.ToEmail).Str("subject", msg.Subject).Msg("outage email sent")
		return true
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	b.log.Error().
		Int("status", resp.StatusCode).
		Str("to", msg.ToEmail).
		Str("response", string(detail)).
		Msg("brevo rejected outage email")
	return false
}

// Disabled is the provider used when no API key is configured. It logs what
// would have been sent and reports failure so no cooldown is consumed.
type Disabled struct {
	log zerolog.Logger
}

// NewDisabled creates a no-op provider.
func NewDisabled(log zerolog.Logger) *Disabled {
	return &Disabled{log: log}
}

func (d *Disabled) SendOutageEmail(_ context.Context, msg Message) bool {
	d.log.Warn().
		Str("to", msg.ToEmail).
		Str("subject", msg.Subject).
		Msg("email provider not configured, dropping outage email")
	return false
}
