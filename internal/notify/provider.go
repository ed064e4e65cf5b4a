package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// Message is one outbound email.
type Message struct {
	Recipient   string
	Subject     string
	Body        string
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

type Provider interface {
	Name() string
	Send(ctx context.Context, msg Message) error
}

type ProviderConfig struct {
	Kind              string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	WebhookURL        string
}

func NewProvider(cfg ProviderConfig) Provider {
	switch cfg.Kind {
	case "", "log":
		return logProvider{}
	case "noop":
		return noopProvider{}
	case "fail":
		return failProvider{}
	case "sendgrid":
		if cfg.SendGridAPIKey == "" {
			log.Printf("notify: sendgrid selected without api key, falling back to log")
			return logProvider{}
		}
		return &sendGridProvider{
			client:    sendgrid.NewSendClient(cfg.SendGridAPIKey),
			fromEmail: cfg.SendGridFromEmail,
			fromName:  cfg.SendGridFromName,
		}
	case "webhook":
		if cfg.WebhookURL == "" {
			return logProvider{}
		}
		return webhookProvider{url: cfg.WebhookURL}
	default:
		return logProvider{}
	}
}

type logProvider struct{}

func (logProvider) Name() string { return "log" }

func (logProvider) Send(ctx context.Context, msg Message) error {
	log.Printf("send email to %s subject=%q attachments=%d", msg.Recipient, msg.Subject, len(msg.Attachments))
	return nil
}

type noopProvider struct{}

func (noopProvider) Name() string { return "noop" }

func (noopProvider) Send(ctx context.Context, msg Message) error { return nil }

type failProvider struct{}

func (failProvider) Name() string { return "fail" }

func (failProvider) Send(ctx context.Context, msg Message) error {
	return errors.New("provider failure")
}

type sendGridProvider struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func (*sendGridProvider) Name() string { return "sendgrid" }

func (p *sendGridProvider) Send(ctx context.Context, msg Message) error {
	from := mail.NewEmail(p.fromName, p.fromEmail)
	to := mail.NewEmail("", msg.Recipient)
	email := mail.NewSingleEmail(from, msg.Subject, to, msg.Body, msg.Body)
	for _, att := range msg.Attachments {
		attachment := mail.NewAttachment()
		attachment.SetFilename(att.Filename)
		attachment.SetType(att.ContentType)
		attachment.SetContent(base64.StdEncoding.EncodeToString(att.Data))
		attachment.SetDisposition("attachment")
		email.AddAttachment(attachment)
	}
	resp, err := p.client.SendWithContext(ctx, email)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sendgrid status %d", resp.StatusCode)
	}
	return nil
}

type webhookProvider struct {
	url string
}

func (webhookProvider) Name() string { return "webhook" }

func (p webhookProvider) Send(ctx context.Context, msg Message) error {
	payload := map[string]string{
		"recipient": msg.Recipient,
		"subject":   msg.Subject,
		"message":   msg.Body,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.New("provider rejected request")
	}
	return nil
}
