package backup

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/your-org/edgewatch/internal/config"
)

// memStore is an in-memory ObjectStore.
type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{objects: make(map[string][]byte)}
}

func (s *memStore) PutObject(_ context.Context, key string, data []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	s.objects[key] = cp
	return nil
}

func (s *memStore) GetObject(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

func (s *memStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func testBackupSetup(t *testing.T) (*Manager, *memStore, string, string) {
	t.Helper()

	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("device:\n  id: edge-test\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dlDir := filepath.Join(dir, "deadletter")
	if err := os.MkdirAll(dlDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dlDir, "task-1.json"), []byte(`{"id":"task-1"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	store := newMemStore()
	mgr := NewManager(store, config.BackupConfig{
		Interval:       time.Hour,
		Prefix:         "backups/edge-test",
		IncludeMetrics: true,
	}, configPath, dlDir, func() string { return "capture.captured_frames=12\n" })

	return mgr, store, configPath, dlDir
}

func TestSnapshotStoresArchiveAndRecord(t *testing.T) {
	mgr, store, _, _ := testBackupSetup(t)

	rec, err := mgr.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	if rec.ID == "" || rec.Checksum == "" || rec.SizeBytes == 0 {
		t.Errorf("incomplete record: %+v", rec)
	}
	if !strings.HasPrefix(rec.Location, "backups/edge-test/") {
		t.Errorf("Location = %q, want under the configured prefix", rec.Location)
	}

	if _, err := store.GetObject(context.Background(), rec.Location); err != nil {
		t.Errorf("archive not stored: %v", err)
	}
	if _, err := store.GetObject(context.Background(), "backups/edge-test/"+rec.ID+".json"); err != nil {
		t.Errorf("record not stored: %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	mgr, _, _, _ := testBackupSetup(t)
	ctx := context.Background()

	first, err := mgr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(10 * time.Millisecond)
	second, err := mgr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	records, err := mgr.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("List returned %d records, want 2", len(records))
	}
	if records[0].ID != second.ID || records[1].ID != first.ID {
		t.Errorf("List order = %s, %s; want newest first (%s, %s)",
			records[0].ID, records[1].ID, second.ID, first.ID)
	}
}

func TestRestoreUnpacksState(t *testing.T) {
	mgr, _, configPath, dlDir := testBackupSetup(t)
	ctx := context.Background()

	rec, err := mgr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Lose the dead-letter file, then restore it.
	if err := os.Remove(filepath.Join(dlDir, "task-1.json")); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Restore(ctx, rec.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dlDir, "task-1.json"))
	if err != nil {
		t.Fatalf("dead-letter file not restored: %v", err)
	}
	if string(data) != `{"id":"task-1"}` {
		t.Errorf("restored dead-letter content = %q", data)
	}

	restored, err := os.ReadFile(configPath + ".restored")
	if err != nil {
		t.Fatalf("restored config not written: %v", err)
	}
	if !strings.Contains(string(restored), "edge-test") {
		t.Errorf("restored config content = %q", restored)
	}
}

func TestRestoreRejectsCorruptedArchive(t *testing.T) {
	mgr, store, _, _ := testBackupSetup(t)
	ctx := context.Background()

	rec, err := mgr.Snapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte in the stored archive.
	store.mu.Lock()
	data := store.objects[rec.Location]
	data[len(data)/2] ^= 0xff
	store.mu.Unlock()

	err = mgr.Restore(ctx, rec.ID)
	if err == nil || !strings.Contains(err.Error(), "checksum") {
		t.Fatalf("Restore on corrupted archive = %v, want checksum error", err)
	}
}
