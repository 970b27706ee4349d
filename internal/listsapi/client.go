// Package listsapi is a small REST client for the lists server, used
// by the one-off migration commands that replay data from predecessor
// services.
package listsapi

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

type Client struct {
	baseURL string
	token   string
	httpc   *http.Client
}

func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the lists server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("lists api: %d %s: %s", e.Status, e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the server; migrations
// tolerate it when clearing lists that may not exist yet.
func IsNotFound(err error) bool {
	apiErr, ok := err.(*APIError)
	return ok && apiErr.Status == http.StatusNotFound
}

func (c *Client) CreateList(ctx context.Context, listType, listName string, payload map[string]any) error {
	body := map[string]any{"type": listType, "name": listName}
	for k, v := range payload {
		body[k] = v
	}
	return c.do(ctx, http.MethodPost, "", body, nil)
}

func (c *Client) UpdateList(ctx context.Context, listType, listName string, payload map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/"+listType+"/"+listName, payload, nil)
}

func (c *Client) UpdateListMeta(ctx context.Context, listType, listName string, meta map[string]any) error {
	return c.do(ctx, http.MethodPatch, "/"+listType+"/"+listName+"/meta", meta, nil)
}

func (c *Client) DeleteList(ctx context.Context, listType, listName string) error {
	return c.do(ctx, http.MethodDelete, "/"+listType+"/"+listName, nil, nil)
}

func (c *Client) AddItemsBulk(ctx context.Context, listType, listName string, items []map[string]any) error {
	return c.do(ctx, http.MethodPost, "/"+listType+"/"+listName+"/items/bulk", items, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&payload)
		return &APIError{Status: resp.StatusCode, Code: payload.Code, Message: payload.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
