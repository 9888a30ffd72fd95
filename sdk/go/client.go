// Package coscribesdk is a minimal client for the coscribe relay API.
package coscribesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound marks 404 responses, e.g. a document that was never saved.
var ErrNotFound = errors.New("not found")

// Client is a minimal coscribe relay HTTP API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Document is the API document model.
type Document struct {
	ID           string `json:"id"`
	Title        string `json:"title"`
	RenderedText string `json:"rendered_text"`
	UpdatedBy    string `json:"updated_by"`
	UpdatedAt    string `json:"updated_at"`
}

// Snapshot is the authoritative CRDT state of a document.
type Snapshot struct {
	ID            string `json:"id"`
	CompleteState []byte `json:"complete_state"`
	UpdatedAt     string `json:"updated_at"`
}

// Change is one entry of a document's change journal.
type Change struct {
	ChangeID  string `json:"change_id"`
	Timestamp string `json:"timestamp"`
	UserID    string `json:"user_id"`
	Type      string `json:"change_type"`
}

// Event is one audited wire event as received by the relay.
type Event struct {
	ID         int64           `json:"id"`
	Timestamp  string          `json:"timestamp"`
	DocumentID string          `json:"document_id"`
	Event      string          `json:"event"`
	UserID     string          `json:"user_id,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListDocuments returns every persisted document.
func (c *Client) ListDocuments(ctx context.Context) ([]Document, error) {
	var resp []Document
	err := c.do(ctx, http.MethodGet, "v0/documents", nil, &resp)
	return resp, err
}

// GetDocument fetches one document's summary.
func (c *Client) GetDocument(ctx context.Context, id string) (Document, error) {
	var resp Document
	err := c.do(ctx, http.MethodGet, "v0/documents/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// FetchSnapshot returns the authoritative CRDT snapshot bytes for a
// document. ErrNotFound means the document has never been saved.
func (c *Client) FetchSnapshot(ctx context.Context, id string) ([]byte, error) {
	var resp Snapshot
	endpoint := fmt.Sprintf("v0/documents/%s/snapshot", url.PathEscape(id))
	if err := c.do(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return nil, err
	}
	return resp.CompleteState, nil
}

// ListEvents returns a document's recent wire events, newest first.
func (c *Client) ListEvents(ctx context.Context, id string, limit int) ([]Event, error) {
	var resp []Event
	endpoint := fmt.Sprintf("v0/documents/%s/events", url.PathEscape(id))
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ListChanges returns a document's change journal.
func (c *Client) ListChanges(ctx context.Context, id string) ([]Change, error) {
	var resp []Change
	endpoint := fmt.Sprintf("v0/documents/%s/changes", url.PathEscape(id))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteDocument removes a document and its history.
func (c *Client) DeleteDocument(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "v0/documents/"+url.PathEscape(id), nil, nil)
}

// SyncURL returns the websocket endpoint for a document's sync channel.
func (c *Client) SyncURL(id string) string {
	base := c.base()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return fmt.Sprintf("%s/v0/documents/%s/ws", base, url.PathEscape(id))
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
