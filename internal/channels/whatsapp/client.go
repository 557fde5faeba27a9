// Package whatsapp talks to the WhatsApp Cloud API: outbound sends and the
// inbound webhook.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/retail-chat-bot/internal/conversation"
)

const (
	defaultGraphAPIBase = "https://graph.facebook.com/v20.0"
	defaultHTTPTimeout  = 10 * time.Second

	// MaxButtons is the reply-button limit of interactive messages.
	MaxButtons = 3
	// MaxButtonTitle is the title limit in runes.
	MaxButtonTitle = 20
)

// ErrTooManyButtons is returned when more than MaxButtons are requested.
var ErrTooManyButtons = errors.New("whatsapp: interactive messages accept at most 3 buttons")

// Client sends messages from one business phone number. It implements
// conversation.ChannelClient.
type Client struct {
	token         string
	phoneNumberID string
	graphAPIBase  string
	httpClient    *http.Client
	tracer        trace.Tracer
}

// NewClient creates a Cloud API client.
func NewClient(token, phoneNumberID string) *Client {
	return &Client{
		token:         token,
		phoneNumberID: phoneNumberID,
		graphAPIBase:  defaultGraphAPIBase,
		httpClient:    &http.Client{Timeout: defaultHTTPTimeout},
		tracer:        otel.Tracer("retailbot.internal.channels.whatsapp"),
	}
}

// SetGraphAPIBase overrides the Graph API base URL (useful for testing).
func (c *Client) SetGraphAPIBase(base string) {
	if base != "" {
		c.graphAPIBase = base
	}
}

// SendText sends a plain text message and returns the provider message id.
func (c *Client) SendText(ctx context.Context, to, text string, preview bool) (string, error) {
	return c.send(ctx, SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             &SendText{Body: text, PreviewURL: preview},
	})
}

// SendInteractive sends body with reply buttons. Titles longer than
// MaxButtonTitle runes are clipped.
func (c *Client) SendInteractive(ctx context.Context, to, body string, buttons []conversation.Button) (string, error) {
	if len(buttons) > MaxButtons {
		return "", ErrTooManyButtons
	}
	if len(buttons) == 0 {
		return c.SendText(ctx, to, body, false)
	}
	replies := make([]ReplyButton, 0, len(buttons))
	for _, b := range buttons {
		replies = append(replies, ReplyButton{
			Type:  "reply",
			Reply: Reply{ID: b.ID, Title: clip(b.Title, MaxButtonTitle)},
		})
	}
	return c.send(ctx, SendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "interactive",
		Interactive: &InteractiveOutbound{
			Type:   "button",
			Body:   TextBody{Body: body},
			Action: InteractiveAction{Buttons: replies},
		},
	})
}

func (c *Client) send(ctx context.Context, req SendRequest) (string, error) {
	ctx, span := c.tracer.Start(ctx, "whatsapp.send", trace.WithAttributes(
		attribute.String("whatsapp.type", req.Type),
	))
	defer span.End()

	id, err := c.do(ctx, req)
	if err != nil {
		span.RecordError(err)
	}
	return id, err
}

func (c *Client) do(ctx context.Context, req SendRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("whatsapp: marshal send request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.graphAPIBase, c.phoneNumberID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("whatsapp: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("whatsapp: read response: %w", err)
	}

	var sendResp SendResponse
	if err := json.Unmarshal(respBody, &sendResp); err != nil {
		return "", fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if sendResp.Error != nil {
		return "", fmt.Errorf("whatsapp: API error %d: %s", sendResp.Error.Code, sendResp.Error.Message)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("whatsapp: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(sendResp.Messages) == 0 {
		return "", nil
	}
	return sendResp.Messages[0].ID, nil
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
