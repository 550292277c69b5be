package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const DefaultBrevoURL = "https://api.brevo.com/v3/smtp/email"

type Attachment struct {
	Name    string
	Content []byte
}

type Email struct {
	To          string
	ToName      string
	Subject     string
	HTML        string
	Attachments []Attachment
}

type Mailer interface {
	Send(ctx context.Context, e Email) error
}

type Sender struct {
	Name  string
	Email string
}

// BrevoMailer sends through the Brevo transactional email API.
type BrevoMailer struct {
	URL    string
	APIKey string
	From   Sender
	Client *http.Client
}

func NewBrevoMailer(url, apiKey string, from Sender) *BrevoMailer {
	if url == "" {
		url = DefaultBrevoURL
	}
	return &BrevoMailer{
		URL:    url,
		APIKey: apiKey,
		From:   from,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type brevoAttachment struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

type brevoRequest struct {
	Sender      brevoContact      `json:"sender"`
	To          []brevoContact    `json:"to"`
	Subject     string            `json:"subject"`
	HTMLContent string            `json:"htmlContent"`
	Attachment  []brevoAttachment `json:"attachment,omitempty"`
}

func (m *BrevoMailer) Send(ctx context.Context, e Email) error {
	req := brevoRequest{
		Sender:      brevoContact{Name: m.From.Name, Email: m.From.Email},
		To:          []brevoContact{{Name: e.ToName, Email: e.To}},
		Subject:     e.Subject,
		HTMLContent: e.HTML,
	}
	for _, a := range e.Attachments {
		req.Attachment = append(req.Attachment, brevoAttachment{
			Name:    a.Name,
			Content: base64.StdEncoding.EncodeToString(a.Content),
		})
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode email: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("api-key", m.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := m.Client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("send email: brevo returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
