package sender

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPDoer lets tests substitute the HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BrevoSender sends transactional email through the Brevo v3 API. It does
// not retry; the dispatcher owns retry scheduling via job attempts.
type BrevoSender struct {
	baseURL    string
	apiKey     string
	fromEmail  string
	fromName   string
	httpClient HTTPDoer
}

const defaultBrevoBaseURL = "https://api.brevo.com/v3"

func NewBrevoSender(apiKey, fromEmail, fromName string, timeout time.Duration) *BrevoSender {
	return &BrevoSender{
		baseURL:    defaultBrevoBaseURL,
		apiKey:     apiKey,
		fromEmail:  fromEmail,
		fromName:   fromName,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithBaseURL overrides the API endpoint, used by tests.
func (s *BrevoSender) WithBaseURL(u string) *BrevoSender {
	s.baseURL = u
	return s
}

// WithHTTPClient overrides the HTTP client, used by tests.
func (s *BrevoSender) WithHTTPClient(c HTTPDoer) *BrevoSender {
	s.httpClient = c
	return s
}

type brevoParty struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type brevoSendRequest struct {
	Sender      brevoParty   `json:"sender"`
	To          []brevoParty `json:"to"`
	Subject     string       `json:"subject"`
	HTMLContent string       `json:"htmlContent,omitempty"`
	TextContent string       `json:"textContent,omitempty"`
}

type brevoSendResponse struct {
	MessageID string `json:"messageId"`
}

// Send submits one message. HTTP 5xx, 408, 429, and transport errors are
// transient; the rest of the 4xx range is permanent.
func (s *BrevoSender) Send(ctx context.Context, msg Message) (*Result, error) {
	payload := brevoSendRequest{
		Sender:      brevoParty{Email: s.fromEmail, Name: s.fromName},
		To:          []brevoParty{{Email: msg.To, Name: msg.ToName}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTMLBody,
		TextContent: msg.TextBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, Permanentf("encoding request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/smtp/email", bytes.NewReader(body))
	if err != nil {
		return nil, Permanentf("creating request: %v", err)
	}
	req.Header.Set("api-key", s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, Transientf("executing request: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return nil, Transientf("reading response: %v", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var out brevoSendResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return nil, Permanentf("decoding response: %v", err)
		}
		return &Result{ProviderMessageID: out.MessageID}, nil
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusTooManyRequests:
		return nil, Transientf("API status %d: %s", resp.StatusCode, string(respBody))
	case resp.StatusCode >= 500:
		return nil, Transientf("API status %d: %s", resp.StatusCode, string(respBody))
	default:
		return nil, Permanentf("API status %d: %s", resp.StatusCode, string(respBody))
	}
}

// LogSender is a no-op Sender for local development; it fabricates a
// message id so the rest of the pipeline behaves normally.
type LogSender struct {
	counter int
}

func (s *LogSender) Send(_ context.Context, msg Message) (*Result, error) {
	s.counter++
	return &Result{ProviderMessageID: fmt.Sprintf("local-%d", s.counter)}, nil
}
