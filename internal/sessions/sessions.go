// Package sessions provides the process-wide session table for multi-turn
// conversations. Writes for one session are serialised; sessions never
// block each other. An optional archive receives every change and serves
// sessions that are no longer in memory.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned for unknown session ids.
var ErrNotFound = errors.New("session not found")

// maxIDAttempts bounds id regeneration on collision.
const maxIDAttempts = 5

type entry struct {
	gate sync.Mutex   // held by Lock; serialises workflow admission
	mu   sync.RWMutex // guards session
	save sync.Mutex   // serialises archive writes
	s    *models.Session
}

// MemorySessionStore is a thread-safe in-memory session table.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*entry // key: session ID

	archive contracts.SessionArchive
	newID   func() string
	now     func() time.Time
}

// Option configures a MemorySessionStore.
type Option func(*MemorySessionStore)

// WithArchive writes every change through to a and loads misses from it.
func WithArchive(a contracts.SessionArchive) Option {
	return func(s *MemorySessionStore) { s.archive = a }
}

// WithIDGenerator replaces the uuid generator (tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *MemorySessionStore) { s.newID = fn }
}

// WithClock replaces time.Now (tests).
func WithClock(fn func() time.Time) Option {
	return func(s *MemorySessionStore) { s.now = fn }
}

// NewMemorySessionStore creates a new in-memory session store.
func NewMemorySessionStore(opts ...Option) *MemorySessionStore {
	s := &MemorySessionStore{
		sessions: make(map[string]*entry),
		newID:    uuid.NewString,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores a new session with a store-generated id.
func (s *MemorySessionStore) Create(ctx context.Context, farm models.FarmContext) (*models.Session, error) {
	now := s.now()
	s.mu.Lock()
	var id string
	for i := 0; i < maxIDAttempts; i++ {
		candidate := s.newID()
		if _, taken := s.sessions[candidate]; !taken && candidate != "" {
			id = candidate
			break
		}
	}
	if id == "" {
		s.mu.Unlock()
		return nil, fmt.Errorf("could not allocate a unique session id after %d attempts", maxIDAttempts)
	}
	sess := &models.Session{
		ID:        id,
		Farm:      farm,
		Messages:  []models.Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	e := &entry{s: sess}
	s.sessions[id] = e
	out := sess.Clone()
	s.mu.Unlock()

	s.persist(ctx, e)
	log.Debug().Str("session_id", id).Msg("Session created")
	return out, nil
}

// Get returns a copy of the session, loading it from the archive on a miss.
func (s *MemorySessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.s.Clone(), nil
}

// GetOrCreate returns the session for id, or a new one when id is empty.
// The bool reports whether a session was created. An id the store never
// issued is ErrNotFound; callers cannot choose their own ids.
func (s *MemorySessionStore) GetOrCreate(ctx context.Context, id string, farm models.FarmContext) (*models.Session, bool, error) {
	if id == "" {
		sess, err := s.Create(ctx, farm)
		return sess, err == nil, err
	}
	sess, err := s.Get(ctx, id)
	return sess, false, err
}

// AppendMessage appends msg to the session history and returns the stored
// message. ID and Timestamp are filled in when empty.
func (s *MemorySessionStore) AppendMessage(ctx context.Context, id string, msg models.Message) (models.Message, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return models.Message{}, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}

	e.mu.Lock()
	e.s.Messages = append(e.s.Messages, msg)
	e.s.UpdatedAt = s.now()
	e.mu.Unlock()

	s.persist(ctx, e)
	return msg, nil
}

// History returns the last n messages (all when n <= 0).
func (s *MemorySessionStore) History(ctx context.Context, id string, n int) ([]models.Message, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.s.Recent(n), nil
}

// ActiveWorkflow returns the session's active workflow id ("" if none).
func (s *MemorySessionStore) ActiveWorkflow(ctx context.Context, id string) (string, error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return "", err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.s.ActiveWorkflowID, nil
}

// SetActiveWorkflow records wfID as the session's active workflow.
func (s *MemorySessionStore) SetActiveWorkflow(ctx context.Context, id, wfID string) error {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.s.ActiveWorkflowID = wfID
	e.s.UpdatedAt = s.now()
	e.mu.Unlock()

	s.persist(ctx, e)
	return nil
}

// ClearActiveWorkflow clears the active workflow only if it is still wfID,
// so a finishing workflow never clears its successor. Reports whether it
// cleared.
func (s *MemorySessionStore) ClearActiveWorkflow(ctx context.Context, id, wfID string) bool {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return false
	}
	e.mu.Lock()
	if e.s.ActiveWorkflowID != wfID {
		e.mu.Unlock()
		return false
	}
	e.s.ActiveWorkflowID = ""
	e.s.UpdatedAt = s.now()
	e.mu.Unlock()

	s.persist(ctx, e)
	return true
}

// Lock serialises workflow admission for one session. It returns the
// unlock func. Other sessions are unaffected.
func (s *MemorySessionStore) Lock(ctx context.Context, id string) (func(), error) {
	e, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	e.gate.Lock()
	return e.gate.Unlock, nil
}

// List returns copies of all in-memory sessions, newest first.
func (s *MemorySessionStore) List() []*models.Session {
	s.mu.RLock()
	out := make([]*models.Session, 0, len(s.sessions))
	for _, e := range s.sessions {
		e.mu.RLock()
		out = append(out, e.s.Clone())
		e.mu.RUnlock()
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out
}

// Len returns the number of in-memory sessions.
func (s *MemorySessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Delete removes a session from memory and from the archive.
func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	_, inMemory := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if s.archive != nil {
		if err := s.archive.DeleteSession(ctx, id); err != nil {
			return fmt.Errorf("delete session %s from archive: %w", id, err)
		}
		return nil
	}
	if !inMemory {
		return ErrNotFound
	}
	return nil
}

// EvictIdle drops in-memory sessions untouched for longer than ttl and
// with no active workflow. Archived copies are kept. Returns evicted ids.
func (s *MemorySessionStore) EvictIdle(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	var evicted []string
	for id, e := range s.sessions {
		e.mu.RLock()
		idle := e.s.UpdatedAt.Before(cutoff) && e.s.ActiveWorkflowID == ""
		e.mu.RUnlock()
		if idle {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	sort.Strings(evicted)
	return evicted
}

// lookup returns the entry for id, consulting the archive on a miss.
func (s *MemorySessionStore) lookup(ctx context.Context, id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if ok {
		return e, nil
	}
	if s.archive == nil || id == "" {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	loaded, err := s.archive.LoadSession(ctx, id)
	if err != nil || loaded == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	// a workflow never survives a restart
	loaded.ActiveWorkflowID = ""
	if loaded.Messages == nil {
		loaded.Messages = []models.Message{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[id]; ok {
		return e, nil
	}
	e = &entry{s: loaded}
	s.sessions[id] = e
	log.Debug().Str("session_id", id).Msg("Session restored from archive")
	return e, nil
}

// persist saves the entry's current state. Writes for one session are
// serialised and each takes a fresh copy, so the archive never ends on an
// older snapshot.
func (s *MemorySessionStore) persist(ctx context.Context, e *entry) {
	if s.archive == nil {
		return
	}
	e.save.Lock()
	defer e.save.Unlock()

	e.mu.RLock()
	snap := e.s.Clone()
	e.mu.RUnlock()
	if err := s.archive.SaveSession(ctx, snap); err != nil {
		log.Warn().Err(err).Str("session_id", snap.ID).Msg("Session archive write failed")
	}
}
