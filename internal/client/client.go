// Package client is a small HTTP client for the orchestrator API, used by
// advisorctl.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// Client talks to one orchestrator.
type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// New creates a client. Streaming calls are bounded by their context, not
// by an http.Client timeout.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{},
	}
}

// ChatRequest is the body of POST /api/v1/chat.
type ChatRequest struct {
	SessionID string              `json:"session_id,omitempty"`
	Farm      *models.FarmContext `json:"farm,omitempty"`
	Query     string              `json:"query"`
	Hint      string              `json:"hint,omitempty"`
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orchestrator returned %d: %s", e.Status, e.Message)
}

// Adapters lists the registered advisory services.
func (c *Client) Adapters(ctx context.Context) ([]models.AdapterInfo, error) {
	var out []models.AdapterInfo
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/adapters", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Cancel asks the orchestrator to cancel a running workflow.
func (c *Client) Cancel(ctx context.Context, workflowID, reason string) error {
	body := map[string]string{"reason": reason}
	return c.doJSON(ctx, http.MethodPost, "/api/v1/workflows/"+workflowID+"/cancel", body, nil)
}

// Workflow fetches a workflow snapshot.
func (c *Client) Workflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	var wf models.Workflow
	if err := c.doJSON(ctx, http.MethodGet, "/api/v1/workflows/"+workflowID, nil, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Chat asks a question and calls fn for every streamed event, in order.
// It returns the session id the orchestrator used and the last event seen.
func (c *Client) Chat(ctx context.Context, req ChatRequest, fn func(models.Event)) (string, *models.Event, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/v1/chat", req, "text/event-stream")
	if err != nil {
		return "", nil, err
	}
	defer resp.Body.Close()

	sessionID := resp.Header.Get("X-Session-Id")
	var last *models.Event
	err = ReadEvents(resp.Body, func(ev models.Event) {
		last = &ev
		if fn != nil {
			fn(ev)
		}
	})
	return sessionID, last, err
}

// ReadEvents parses SSE frames from r until EOF.
func ReadEvents(r io.Reader, fn func(models.Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64<<10), 4<<20)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}
		fn(ev)
	}
	return scanner.Err()
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, accept string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", accept)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil {
			switch {
			case apiErr.Message != "":
				msg = apiErr.Message
			case apiErr.Error != "":
				msg = apiErr.Error
			}
		}
		return nil, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return resp, nil
}
