// Package delivery exposes workflow progress as ordered event streams.
//
// Each workflow gets one Stream. Publishing appends to the stream's log and
// never waits for the reader; the single subscriber reads at its own pace
// and a late subscriber replays from the first event. A stream ends after
// its complete or error event.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/internal/metrics"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

var (
	// ErrClosed is returned when publishing to, or reading past the end of,
	// a finished stream.
	ErrClosed = errors.New("delivery: stream closed")

	// ErrAlreadySubscribed is returned when a stream already has a reader.
	ErrAlreadySubscribed = errors.New("delivery: stream already has a subscriber")
)

// Stream is the ordered event log of one workflow.
type Stream struct {
	id         string
	sessionID  string
	workflowID string
	metrics    *metrics.Metrics

	mu         sync.Mutex
	events     []models.Event
	wake       chan struct{} // closed and replaced on every publish
	closed     bool
	closedAt   time.Time
	subscribed bool
}

func newStream(id, sessionID, workflowID string, m *metrics.Metrics) *Stream {
	return &Stream{
		id:         id,
		sessionID:  sessionID,
		workflowID: workflowID,
		metrics:    m,
		wake:       make(chan struct{}),
	}
}

func (s *Stream) ID() string         { return s.id }
func (s *Stream) SessionID() string  { return s.sessionID }
func (s *Stream) WorkflowID() string { return s.workflowID }

// Partial publishes a progress snapshot.
func (s *Stream) Partial(resp *models.AggregatedResponse) error {
	return s.publish(models.EventPartial, resp, "")
}

// Complete publishes the final answer and ends the stream.
func (s *Stream) Complete(resp *models.AggregatedResponse) error {
	return s.publish(models.EventComplete, resp, "")
}

// Fail publishes an error event and ends the stream.
func (s *Stream) Fail(message string) error {
	return s.publish(models.EventError, nil, message)
}

func (s *Stream) publish(typ models.EventType, resp *models.AggregatedResponse, errMsg string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrClosed, s.id)
	}

	ev := models.Event{
		Seq:        len(s.events) + 1,
		Type:       typ,
		SessionID:  s.sessionID,
		WorkflowID: s.workflowID,
		Error:      errMsg,
		Timestamp:  time.Now().UTC(),
	}
	if resp != nil {
		cp := cloneResponse(resp)
		ev.Answer = cp.Answer
		ev.ContributingAdapters = cp.ContributingAdapters
		ev.Blockers = cp.Blockers
		ev.PendingAdapters = cp.PendingAdapters
		ev.Response = cp
	} else {
		ev.Answer = errMsg
		ev.ContributingAdapters = []string{}
		ev.Blockers = []string{}
	}

	s.events = append(s.events, ev)
	if typ.Terminal() {
		s.closed = true
		s.closedAt = ev.Timestamp
	}
	close(s.wake)
	s.wake = make(chan struct{})
	s.mu.Unlock()

	s.metrics.EventPublished(string(typ))
	return nil
}

// Events returns a copy of everything published so far.
func (s *Stream) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

// Closed reports whether the terminal event has been published.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Subscribe attaches the stream's single reader. The reader starts at the
// first event. Closing the subscription frees the slot for a reconnect.
func (s *Stream) Subscribe() (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subscribed {
		return nil, fmt.Errorf("%w: %s", ErrAlreadySubscribed, s.id)
	}
	s.subscribed = true
	return &Subscription{stream: s}, nil
}

// Subscription reads a stream in order.
type Subscription struct {
	stream *Stream
	next   int
	once   sync.Once
}

// Next blocks until the next event is available. It returns ErrClosed once
// the terminal event has been read, or ctx.Err() if ctx ends first.
func (sub *Subscription) Next(ctx context.Context) (models.Event, error) {
	s := sub.stream
	for {
		s.mu.Lock()
		if sub.next < len(s.events) {
			ev := s.events[sub.next]
			sub.next++
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed {
			s.mu.Unlock()
			return models.Event{}, ErrClosed
		}
		wake := s.wake
		s.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return models.Event{}, ctx.Err()
		}
	}
}

// Close detaches the reader. The stream itself keeps going.
func (sub *Subscription) Close() {
	sub.once.Do(func() {
		sub.stream.mu.Lock()
		sub.stream.subscribed = false
		sub.stream.mu.Unlock()
	})
}

// ── Replay ──────────────────────────────────────────────────

// Replay rebuilds the aggregated response carried by an event sequence.
// Events must be in publish order with nothing after a terminal event.
// An error event yields a nil response and the event's message as error.
func Replay(events []models.Event) (*models.AggregatedResponse, error) {
	if len(events) == 0 {
		return nil, errors.New("delivery: no events to replay")
	}
	var last *models.AggregatedResponse
	for i, ev := range events {
		if ev.Seq != i+1 {
			return nil, fmt.Errorf("delivery: event %d has seq %d", i, ev.Seq)
		}
		if i > 0 && events[i-1].Type.Terminal() {
			return nil, fmt.Errorf("delivery: event %d follows a terminal event", ev.Seq)
		}
		switch ev.Type {
		case models.EventError:
			return nil, fmt.Errorf("delivery: workflow failed: %s", ev.Error)
		case models.EventPartial, models.EventComplete:
			if ev.Response == nil {
				return nil, fmt.Errorf("delivery: event %d has no response", ev.Seq)
			}
			last = ev.Response
		default:
			return nil, fmt.Errorf("delivery: unknown event type %q", ev.Type)
		}
	}
	return cloneResponse(last), nil
}

func cloneResponse(r *models.AggregatedResponse) *models.AggregatedResponse {
	cp := *r
	cp.Recommendations = append([]models.ScoredRecommendation{}, r.Recommendations...)
	cp.Warnings = append([]string{}, r.Warnings...)
	cp.Blockers = append([]string{}, r.Blockers...)
	cp.ContributingAdapters = append([]string{}, r.ContributingAdapters...)
	if r.Withheld != nil {
		cp.Withheld = append([]models.ScoredRecommendation(nil), r.Withheld...)
	}
	if r.FailedAdapters != nil {
		cp.FailedAdapters = append([]string(nil), r.FailedAdapters...)
	}
	if r.PendingAdapters != nil {
		cp.PendingAdapters = append([]string(nil), r.PendingAdapters...)
	}
	return &cp
}
