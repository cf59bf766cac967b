// Package notify posts answer notifications to registered webhooks, for
// SMS/e-mail gateways and farm dashboards that cannot hold an SSE stream
// open.
//
// Deliveries are asynchronous: Notify returns immediately and each
// subscribed channel receives its own signed POST, retried with
// exponential backoff on network errors, 5xx and 429.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

// ── Event types ─────────────────────────────────────────────

const (
	EventAnswerDelivered = "answer_delivered"
	EventQueryRejected   = "query_rejected"
)

// Event is the notification payload.
type Event struct {
	Type       string                     `json:"type"`
	SessionID  string                     `json:"session_id"`
	WorkflowID string                     `json:"workflow_id,omitempty"`
	Outcome    string                     `json:"outcome,omitempty"`
	Response   *models.AggregatedResponse `json:"response,omitempty"`
	Error      string                     `json:"error,omitempty"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// Channel is one webhook subscription.
type Channel struct {
	URL    string
	Secret string   // HMAC-SHA256 signing key; empty sends unsigned
	Events []string // empty means all events
}

func (c Channel) subscribes(eventType string) bool {
	if len(c.Events) == 0 {
		return true
	}
	for _, e := range c.Events {
		if e == eventType || e == "*" {
			return true
		}
	}
	return false
}

// ── Service ──────────────────────────────────────────────────

// Service dispatches notification events to webhook channels. A nil
// *Service is valid and drops every event.
type Service struct {
	client         *http.Client
	channels       []Channel
	maxAttempts    int
	initialBackoff time.Duration

	wg sync.WaitGroup
}

// Option configures a Service.
type Option func(*Service)

// WithHTTPClient replaces the default 15s-timeout client.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Service) { s.client = c }
}

// WithRetry sets the attempt count and the first backoff interval.
func WithRetry(maxAttempts int, initial time.Duration) Option {
	return func(s *Service) {
		s.maxAttempts = maxAttempts
		s.initialBackoff = initial
	}
}

// NewService creates a notifier. It returns nil when there are no channels.
func NewService(channels []Channel, opts ...Option) *Service {
	if len(channels) == 0 {
		return nil
	}
	s := &Service{
		client:         &http.Client{Timeout: 15 * time.Second},
		channels:       channels,
		maxAttempts:    3,
		initialBackoff: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	log.Info().Int("channels", len(channels)).Msg("🔔 Webhook notifications enabled")
	return s
}

// Notify sends event to every subscribed channel in the background.
func (s *Service) Notify(event Event) {
	if s == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	for _, ch := range s.channels {
		if !ch.subscribes(event.Type) {
			continue
		}
		s.wg.Add(1)
		go func(ch Channel) {
			defer s.wg.Done()
			if err := s.Send(context.Background(), ch, event); err != nil {
				log.Warn().Err(err).
					Str("url", ch.URL).
					Str("event", event.Type).
					Str("workflow_id", event.WorkflowID).
					Msg("Notification failed")
			}
		}(ch)
	}
}

// Close waits for in-flight deliveries.
func (s *Service) Close(ctx context.Context) error {
	if s == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still in flight: %w", ctx.Err())
	}
}

// Send posts the event as JSON to the channel's URL with optional HMAC
// signing, retrying transient failures.
func (s *Service) Send(ctx context.Context, ch Channel, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	var sig string
	if ch.Secret != "" {
		sig = Sign(ch.Secret, body)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = s.initialBackoff
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(s.maxAttempts-1)), ctx)

	attempt := 0
	err = backoff.Retry(func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, ch.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "FarmXpert-Webhook/1.0")
		req.Header.Set("X-FarmXpert-Event", event.Type)
		if sig != "" {
			req.Header.Set("X-FarmXpert-Signature", sig)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, ch.URL)
		default:
			return backoff.Permanent(fmt.Errorf("webhook HTTP %d from %s", resp.StatusCode, ch.URL))
		}
	}, policy)
	if err != nil {
		return fmt.Errorf("webhook failed after %d attempt(s): %w", attempt, err)
	}
	return nil
}

// Sign returns the signature header value a receiver should expect for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
