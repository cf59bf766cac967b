package store_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/farmxpert/farmxpert/orchestrator/internal/config"
	"github.com/farmxpert/farmxpert/orchestrator/internal/store"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/contracts"
	"github.com/farmxpert/farmxpert/orchestrator/pkg/models"
)

func testSession(id string) *models.Session {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &models.Session{
		ID:   id,
		Farm: models.FarmContext{Location: "Pune", LandSize: 3.5, Season: "rabi"},
		Messages: []models.Message{
			{ID: "m1", Role: models.RoleUser, Content: "when to sow wheat?", Timestamp: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func exerciseArchive(t *testing.T, a contracts.SessionArchive) {
	t.Helper()
	ctx := context.Background()

	if _, err := a.LoadSession(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("LoadSession(missing) error = %v, want ErrNotFound", err)
	}

	s := testSession("sess-1")
	if err := a.SaveSession(ctx, s); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	// mutating the caller's copy must not leak into the archive
	s.Messages[0].Content = "mutated"

	got, err := a.LoadSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if got.Farm.Location != "Pune" || got.Farm.LandSize != 3.5 {
		t.Errorf("farm = %+v", got.Farm)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "when to sow wheat?" {
		t.Errorf("messages = %+v", got.Messages)
	}

	s.Messages = append(s.Messages, models.Message{ID: "m2", Role: models.RoleAssistant, Content: "Mid-November."})
	if err := a.SaveSession(ctx, s); err != nil {
		t.Fatalf("SaveSession(update) error = %v", err)
	}
	got, _ = a.LoadSession(ctx, "sess-1")
	if len(got.Messages) != 2 {
		t.Errorf("after upsert got %d messages, want 2", len(got.Messages))
	}

	if err := a.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := a.LoadSession(ctx, "sess-1"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryArchive(t *testing.T) {
	a := store.NewMemoryArchive("")
	t.Cleanup(func() { a.Close() })
	exerciseArchive(t, a)
}

func TestMemoryArchiveSnapshotSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a := store.NewMemoryArchive(dir)
	if err := a.SaveSession(ctx, testSession("persisted")); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	// second close is a no-op
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	b := store.NewMemoryArchive(dir)
	t.Cleanup(func() { b.Close() })
	if b.Len() != 1 {
		t.Fatalf("reloaded archive has %d sessions, want 1", b.Len())
	}
	got, err := b.LoadSession(ctx, "persisted")
	if err != nil {
		t.Fatalf("LoadSession() error = %v", err)
	}
	if got.Farm.Season != "rabi" {
		t.Errorf("Season = %q, want rabi", got.Farm.Season)
	}
}

func TestOpenWithoutDatabaseUsesMemory(t *testing.T) {
	a, err := store.Open(context.Background(), config.ArchiveConfig{})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	if _, ok := a.(*store.MemoryArchive); !ok {
		t.Errorf("Open() = %T, want *store.MemoryArchive", a)
	}
}

// TestPostgresArchive runs against a real database when one is provided.
func TestPostgresArchive(t *testing.T) {
	url := os.Getenv("FARMXPERT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("FARMXPERT_TEST_DATABASE_URL not set")
	}
	a, err := store.NewPostgresArchive(context.Background(), url)
	if err != nil {
		t.Fatalf("NewPostgresArchive() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	exerciseArchive(t, a)
}
