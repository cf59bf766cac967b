package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
	"github.com/rs/zerolog/log"
)

const snapshotFile = "sessions.json"

// snapshot is the JSON-serializable shape written to disk.
type snapshot struct {
	Sessions map[string]*models.Session `json:"sessions"`
}

// MemoryArchive keeps archived sessions in a map. When a data dir is given
// the map is persisted to a JSON file so sessions survive restarts.
type MemoryArchive struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{}
	loopDone     chan struct{}
	debounce     time.Duration
}

// NewMemoryArchive creates an in-memory archive. dataDir may be empty.
func NewMemoryArchive(dataDir string) *MemoryArchive {
	m := &MemoryArchive{
		sessions: make(map[string]*models.Session),
		saveCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
		loopDone: make(chan struct{}),
		debounce: 500 * time.Millisecond,
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, snapshotFile)
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	} else {
		close(m.loopDone)
	}
	return m
}

// requestSave coalesces rapid writes into one disk flush.
func (m *MemoryArchive) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

func (m *MemoryArchive) saveLoop() {
	defer close(m.loopDone)
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			select {
			case <-time.After(m.debounce):
			case <-m.doneCh:
				return
			}
			m.saveSnapshot()
		}
	}
}

func (m *MemoryArchive) saveSnapshot() {
	m.mu.RLock()
	data, err := json.MarshalIndent(snapshot{Sessions: m.sessions}, "", "  ")
	m.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal session snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// write-then-rename so a crash never leaves a torn file
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}
	log.Debug().Str("path", m.snapshotPath).Msg("Session snapshot saved")
}

func (m *MemoryArchive) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No session snapshot found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read session snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse session snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if snap.Sessions != nil {
		m.sessions = snap.Sessions
	}
	log.Info().Int("sessions", len(m.sessions)).Str("path", m.snapshotPath).Msg("Session snapshot loaded")
}

// SaveSession upserts a copy of session.
func (m *MemoryArchive) SaveSession(_ context.Context, session *models.Session) error {
	m.mu.Lock()
	m.sessions[session.ID] = session.Clone()
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// LoadSession returns a copy of the archived session.
func (m *MemoryArchive) LoadSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

// DeleteSession removes a session. Deleting a missing session is not an error.
func (m *MemoryArchive) DeleteSession(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// Len returns the number of archived sessions.
func (m *MemoryArchive) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the save loop and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryArchive) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}
	<-m.loopDone

	if m.snapshotPath != "" {
		m.saveSnapshot()
	}
	log.Info().Msg("Memory session archive closed")
	return nil
}
