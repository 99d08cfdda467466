// Package comfy is an HTTP/WebSocket client for the ComfyUI engine API.
//
// The engine is an external collaborator: this package only consumes its
// control surface (system stats, object info, prompt queue, history, event
// stream) and never embeds engine semantics beyond the wire contract.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrQueueRejected marks a prompt submission the engine refused to accept.
// Rejections are structural (malformed graph, unknown node types) and are
// never retried.
var ErrQueueRejected = errors.New("prompt rejected by engine")

// Client talks to one engine instance over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient returns a client for the engine at endpoint ("host:port").
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Endpoint returns the engine address this client targets.
func (c *Client) Endpoint() string {
	return c.endpoint
}

func (c *Client) url(path string) string {
	return "http://" + c.endpoint + path
}

// Ping issues a cheap liveness probe against /system_stats. It reports true
// only when the engine answers with a non-empty body within timeout.
func (c *Client) Ping(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url("/system_stats"), nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return err == nil && len(body) > 0
}

// SystemStats fetches engine and device information.
func (c *Client) SystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// ObjectInfo returns the set of node classes the engine has installed,
// keyed by class type. Values are opaque; callers only test membership.
func (c *Client) ObjectInfo(ctx context.Context) (map[string]json.RawMessage, error) {
	var info map[string]json.RawMessage
	if err := c.getJSON(ctx, "/object_info", &info); err != nil {
		return nil, err
	}
	return info, nil
}

// QueuePrompt submits a graph for execution under clientID and returns the
// engine-assigned prompt ID. A rejection yields an error wrapping
// ErrQueueRejected.
func (c *Client) QueuePrompt(ctx context.Context, graph any, clientID string) (string, error) {
	payload := map[string]any{
		"prompt":    graph,
		"client_id": clientID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url("/prompt"), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build prompt request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit prompt: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read prompt response: %w", err)
	}

	var qr QueueResponse
	if err := json.Unmarshal(raw, &qr); err != nil {
		return "", fmt.Errorf("%w: status %d, unparseable body", ErrQueueRejected, resp.StatusCode)
	}

	if resp.StatusCode != http.StatusOK || qr.PromptID == "" {
		if qr.Error != nil {
			return "", fmt.Errorf("%w: %s: %s", ErrQueueRejected, qr.Error.Type, qr.Error.Message)
		}
		return "", fmt.Errorf("%w: status %d, no prompt_id", ErrQueueRejected, resp.StatusCode)
	}
	return qr.PromptID, nil
}

// History fetches the execution record for promptID. The engine returns an
// empty object for unknown IDs; that surfaces here as a nil entry.
func (c *Client) History(ctx context.Context, promptID string) (*HistoryEntry, error) {
	var all map[string]HistoryEntry
	if err := c.getJSON(ctx, "/history/"+promptID, &all); err != nil {
		return nil, err
	}
	entry, ok := all[promptID]
	if !ok {
		return nil, nil
	}
	return &entry, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
