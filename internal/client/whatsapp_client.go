package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const DefaultTimeout = 10 * time.Second

var (
	// ErrMisconfigured means the send was refused before any network call.
	ErrMisconfigured = errors.New("whatsapp client misconfigured")
	ErrTransport     = errors.New("whatsapp transport failure")
)

// TransportError reports a failed or rejected send. StatusCode is zero when
// no response was received.
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("unexpected status code: %d body=%q", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("send request: %v", e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

type Options struct {
	BaseURL       string
	Token         string
	PhoneNumberID string
	Timeout       time.Duration
}

// WhatsAppClient sends text messages through the WhatsApp Cloud API. It
// holds no per-call state and is safe for concurrent use.
type WhatsAppClient struct {
	baseURL       string
	token         string
	phoneNumberID string
	client        *http.Client
}

func NewWhatsAppClient(opts Options) *WhatsAppClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &WhatsAppClient{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         opts.Token,
		phoneNumberID: opts.PhoneNumberID,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendReply issues exactly one send call for text to recipient and returns
// the provider's id for the outbound message, which may be empty.
func (c *WhatsAppClient) SendReply(ctx context.Context, recipient, text string) (string, error) {
	if err := c.check(recipient); err != nil {
		return "", err
	}

	reqBody, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               recipient,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrMisconfigured, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &TransportError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var sr sendResponse
	if err := json.Unmarshal(body, &sr); err != nil || len(sr.Messages) == 0 {
		// Accepted by the provider; the id is informational only.
		return "", nil
	}
	return sr.Messages[0].ID, nil
}

func (c *WhatsAppClient) check(recipient string) error {
	var missing []string
	if c.token == "" {
		missing = append(missing, "api token")
	}
	if c.phoneNumberID == "" {
		missing = append(missing, "phone number id")
	}
	if c.baseURL == "" {
		missing = append(missing, "api url")
	}
	if strings.TrimSpace(recipient) == "" {
		missing = append(missing, "recipient")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrMisconfigured, strings.Join(missing, ", "))
	}
	return nil
}
