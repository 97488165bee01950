// Package apiclient talks to the Fellowship REST API on behalf of a client.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/config"
	"github.com/adi-253/fellowship/internal/format"
	"github.com/adi-253/fellowship/internal/models"
)

// Client is a wrapper around the Fellowship REST API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	maxUploadSize int64
	log           zerolog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }

// WithMaxUploadSize sets the client-side upload ceiling.
func WithMaxUploadSize(n int64) Option { return func(c *Client) { c.maxUploadSize = n } }

// WithLogger sets the logger for failed requests.
func WithLogger(log zerolog.Logger) Option { return func(c *Client) { c.log = log } }

// New creates a client for the API at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		maxUploadSize: config.DefaultMaxUploadSize,
		log:           zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// doRequest executes a JSON request against the API and returns the body.
// Answers with status >= 400 come back as *StatusError.
func (c *Client) doRequest(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	var reqBody io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.log.Warn().Str("method", req.Method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("API request failed")
		return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, nil
}

// LoadHistory fetches the messages of a conversation in server order.
// Both {"messages": [...]} and a bare array are accepted.
func (c *Client) LoadHistory(ctx context.Context, conversationID string) ([]models.Message, error) {
	endpoint := fmt.Sprintf("/api/conversations/%s/messages", url.PathEscape(conversationID))
	respBody, err := c.doRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, loadError("load history", err)
	}

	respBody = bytes.TrimSpace(respBody)
	if len(respBody) > 0 && respBody[0] == '[' {
		var messages []models.Message
		if err := json.Unmarshal(respBody, &messages); err != nil {
			return nil, loadError("load history", fmt.Errorf("failed to parse messages: %w", err))
		}
		return messages, nil
	}

	var wrapped models.GetMessagesResponse
	if err := json.Unmarshal(respBody, &wrapped); err != nil {
		return nil, loadError("load history", fmt.Errorf("failed to parse messages: %w", err))
	}
	return wrapped.Messages, nil
}

// SendMessage posts a message. Sending the same ClientToken twice yields the
// same stored message.
func (c *Client) SendMessage(ctx context.Context, req models.SendMessageRequest) (*models.Message, error) {
	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/messages", req)
	if err != nil {
		return nil, submitError("send message", err)
	}

	var msg models.Message
	if err := json.Unmarshal(respBody, &msg); err != nil {
		return nil, submitError("send message", fmt.Errorf("failed to parse message: %w", err))
	}
	return &msg, nil
}

// DeleteMessage removes a message as actorID.
func (c *Client) DeleteMessage(ctx context.Context, conversationID, messageID, actorID string) error {
	endpoint := fmt.Sprintf("/api/conversations/%s/messages/%s?actor_id=%s",
		url.PathEscape(conversationID), url.PathEscape(messageID), url.QueryEscape(actorID))
	if _, err := c.doRequest(ctx, http.MethodDelete, endpoint, nil); err != nil {
		return submitError("delete message", err)
	}
	return nil
}

// MarkRead records that readerID has seen the conversation.
func (c *Client) MarkRead(ctx context.Context, conversationID, readerID string) (*models.ReadReceipt, error) {
	endpoint := fmt.Sprintf("/api/conversations/%s/read", url.PathEscape(conversationID))
	respBody, err := c.doRequest(ctx, http.MethodPost, endpoint, map[string]string{"reader_id": readerID})
	if err != nil {
		return nil, submitError("mark read", err)
	}

	var receipt models.ReadReceipt
	if err := json.Unmarshal(respBody, &receipt); err != nil {
		return nil, submitError("mark read", fmt.Errorf("failed to parse receipt: %w", err))
	}
	return &receipt, nil
}

// UploadAttachment uploads size bytes read from r as name. Files above the
// ceiling fail with ErrUploadTooLarge without touching the network.
func (c *Client) UploadAttachment(ctx context.Context, name string, size int64, r io.Reader) (*models.Attachment, error) {
	if size > c.maxUploadSize {
		return nil, fmt.Errorf("%s is %s, max size is %s: %w",
			name, format.FileSize(size), format.FileSize(c.maxUploadSize), ErrUploadTooLarge)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return nil, submitError("upload", fmt.Errorf("failed to create form file: %w", err))
	}
	if _, err := io.Copy(part, io.LimitReader(r, c.maxUploadSize+1)); err != nil {
		return nil, submitError("upload", fmt.Errorf("failed to read file: %w", err))
	}
	if err := mw.Close(); err != nil {
		return nil, submitError("upload", fmt.Errorf("failed to finish form: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/uploads", &buf)
	if err != nil {
		return nil, submitError("upload", fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, submitError("upload", err)
	}

	var att models.Attachment
	if err := json.Unmarshal(respBody, &att); err != nil {
		return nil, submitError("upload", fmt.Errorf("failed to parse attachment: %w", err))
	}
	return &att, nil
}
