// Package remote talks to a narrative authority over HTTP, implementing
// editor.Authority against the REST surface served by internal/api.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/starford/fabula/internal/editor"
	"github.com/starford/fabula/internal/story"
)

// Client is an HTTP editor.Authority. Safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithToken sets the Bearer token sent on every request.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the underlying HTTP client. The default has
// no request timeout; a stalled call resolves only through the
// transport's own failure or context cancellation.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the authority at baseURL (scheme and
// host, no trailing slash).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("remote: %s: marshal request: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("remote: %s: build request: %w", op, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &editor.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		msg := resp.Status
		if json.NewDecoder(resp.Body).Decode(&e) == nil && e.Error != "" {
			msg = e.Error
		}
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			return &editor.ValidationError{Op: op, Message: msg}
		case http.StatusNotFound, http.StatusGone:
			return &editor.StaleReferenceError{Op: op, ID: msg}
		case http.StatusConflict:
			return &editor.ValidationError{Op: op, Message: msg}
		default:
			return &editor.NetworkError{Op: op, Err: fmt.Errorf("%s: %s", resp.Status, msg)}
		}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &editor.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
		}
	}
	return nil
}

// FetchStoryTree downloads the project's full tree.
func (c *Client) FetchStoryTree(ctx context.Context, projectID string) (*story.Tree, error) {
	var tree story.Tree
	err := c.do(ctx, "fetch story tree", http.MethodGet,
		"/projects/"+url.PathEscape(projectID)+"/story-tree", nil, &tree)
	if err != nil {
		return nil, err
	}
	tree.RebuildConnections()
	return &tree, nil
}

// CreateEvent asks the authority to create an event and returns the
// permanent identifier it assigned.
func (c *Client) CreateEvent(ctx context.Context, nodeID, speaker, content string, typ story.EventType) (string, error) {
	body := map[string]string{
		"speaker":    speaker,
		"content":    content,
		"event_type": string(typ),
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, "create event", http.MethodPost,
		"/nodes/"+url.PathEscape(nodeID)+"/events", body, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateAction asks the authority to create an unlinked action.
func (c *Client) CreateAction(ctx context.Context, nodeID, description string, isKeyAction bool) (string, error) {
	body := map[string]any{
		"description":   description,
		"is_key_action": isKeyAction,
	}
	var out struct {
		ID string `json:"id"`
	}
	err := c.do(ctx, "create action", http.MethodPost,
		"/nodes/"+url.PathEscape(nodeID)+"/actions", body, &out)
	if err != nil {
		return "", err
	}
	return out.ID, nil
}

// DeleteEvent deletes a permanent event.
func (c *Client) DeleteEvent(ctx context.Context, id string) error {
	return c.do(ctx, "delete event", http.MethodDelete, "/events/"+url.PathEscape(id), nil, nil)
}

// DeleteAction deletes a permanent action.
func (c *Client) DeleteAction(ctx context.Context, id string) error {
	return c.do(ctx, "delete action", http.MethodDelete, "/actions/"+url.PathEscape(id), nil, nil)
}

type batchItemBody struct {
	ID      string `json:"id"`
	Updates any    `json:"updates"`
}

// BatchUpdateNode sends every changed field of one node in a single
// request and returns the authority's per-item verdicts.
func (c *Client) BatchUpdateNode(ctx context.Context, nodeID string, u editor.BatchUpdate) ([]editor.ItemResult, error) {
	body := struct {
		Scene   *string         `json:"scene,omitempty"`
		Events  []batchItemBody `json:"events,omitempty"`
		Actions []batchItemBody `json:"actions,omitempty"`
	}{Scene: u.Scene}
	for _, it := range u.Events {
		body.Events = append(body.Events, batchItemBody{ID: it.ID.Value(), Updates: it.Updates})
	}
	for _, it := range u.Actions {
		body.Actions = append(body.Actions, batchItemBody{ID: it.ID.Value(), Updates: it.Updates})
	}

	var out struct {
		Results []struct {
			ID      string `json:"id"`
			Success bool   `json:"success"`
			Error   string `json:"error"`
		} `json:"results"`
	}
	err := c.do(ctx, "batch update node", http.MethodPut,
		"/nodes/"+url.PathEscape(nodeID)+"/batch", body, &out)
	if err != nil {
		return nil, err
	}
	results := make([]editor.ItemResult, 0, len(out.Results))
	for _, r := range out.Results {
		results = append(results, editor.ItemResult{ID: r.ID, Success: r.Success, Error: r.Error})
	}
	return results, nil
}

// CreateSnapshot records a checkpoint of the project's current state.
func (c *Client) CreateSnapshot(ctx context.Context, projectID, operationType, description string, affectedNodeID *string) (*story.HistoryEntry, error) {
	body := struct {
		OperationType        string  `json:"operation_type"`
		OperationDescription string  `json:"operation_description"`
		AffectedNodeID       *string `json:"affected_node_id,omitempty"`
	}{operationType, description, affectedNodeID}

	var out struct {
		ID        string    `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}
	err := c.do(ctx, "create snapshot", http.MethodPost,
		"/projects/"+url.PathEscape(projectID)+"/history/snapshot", body, &out)
	if err != nil {
		return nil, err
	}
	return &story.HistoryEntry{
		ID:                   out.ID,
		OperationType:        operationType,
		OperationDescription: description,
		AffectedNodeID:       affectedNodeID,
		CreatedAt:            out.CreatedAt,
	}, nil
}

// GetHistory returns the checkpoint timeline, newest first.
func (c *Client) GetHistory(ctx context.Context, projectID string) ([]story.HistoryEntry, error) {
	var out struct {
		History []story.HistoryEntry `json:"history"`
	}
	err := c.do(ctx, "get history", http.MethodGet,
		"/projects/"+url.PathEscape(projectID)+"/history", nil, &out)
	if err != nil {
		return nil, err
	}
	return out.History, nil
}

// Rollback restores the project to a checkpoint. The caller must reload
// any cached tree afterwards.
func (c *Client) Rollback(ctx context.Context, projectID, snapshotID string) error {
	body := map[string]string{"snapshot_id": snapshotID}
	return c.do(ctx, "rollback", http.MethodPost,
		"/projects/"+url.PathEscape(projectID)+"/history/rollback", body, nil)
}

// DeleteSnapshot removes a checkpoint from the timeline.
func (c *Client) DeleteSnapshot(ctx context.Context, projectID, snapshotID string) error {
	return c.do(ctx, "delete snapshot", http.MethodDelete,
		"/projects/"+url.PathEscape(projectID)+"/history/"+url.PathEscape(snapshotID), nil, nil)
}

var _ editor.Authority = (*Client)(nil)
