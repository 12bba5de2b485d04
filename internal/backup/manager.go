// Package backup periodically snapshots durable state (configuration,
// dead-letter contents, optionally metrics history) to an object store and
// supports listing and restoring snapshots. Backup failures never block the
// pipeline; they are logged and retried on the next cycle.
package backup

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/edgewatch/internal/config"
	"github.com/your-org/edgewatch/internal/models"
)

// ObjectStore is the slice of the storage layer the manager needs.
type ObjectStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
	GetObject(ctx context.Context, key string) ([]byte, error)
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

type Manager struct {
	store      ObjectStore
	cfg        config.BackupConfig
	configPath string
	dlDir      string

	// metricsDump, when set, contributes a metrics history export to each
	// snapshot.
	metricsDump func() string
}

func NewManager(store ObjectStore, cfg config.BackupConfig, configPath, deadLetterDir string, metricsDump func() string) *Manager {
	return &Manager{
		store:       store,
		cfg:         cfg,
		configPath:  configPath,
		dlDir:       deadLetterDir,
		metricsDump: metricsDump,
	}
}

func (m *Manager) Name() string { return "backup" }

// Run snapshots on every backup interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := m.Snapshot(ctx); err != nil {
				slog.Error("backup snapshot failed, will retry next cycle", "error", err)
			}
		}
	}
}

// Snapshot archives the durable state, checksums it and uploads archive
// plus metadata record.
func (m *Manager) Snapshot(ctx context.Context) (models.BackupRecord, error) {
	id := time.Now().UTC().Format("20060102T150405") + "-" + uuid.NewString()[:8]

	archive, err := m.buildArchive()
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("build archive: %w", err)
	}

	sum := sha256.Sum256(archive)
	record := models.BackupRecord{
		ID:        id,
		CreatedAt: time.Now(),
		Checksum:  hex.EncodeToString(sum[:]),
		Location:  m.cfg.Prefix + "/" + id + ".tar.gz",
		SizeBytes: int64(len(archive)),
	}

	if err := m.store.PutObject(ctx, record.Location, archive, "application/gzip"); err != nil {
		return models.BackupRecord{}, fmt.Errorf("upload archive: %w", err)
	}

	meta, err := json.Marshal(record)
	if err != nil {
		return models.BackupRecord{}, fmt.Errorf("marshal record: %w", err)
	}
	if err := m.store.PutObject(ctx, m.cfg.Prefix+"/"+id+".json", meta, "application/json"); err != nil {
		return models.BackupRecord{}, fmt.Errorf("upload record: %w", err)
	}

	slog.Info("backup snapshot stored", "id", id, "bytes", record.SizeBytes)
	return record, nil
}

func (m *Manager) buildArchive() ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	addFile := func(name string, data []byte) error {
		hdr := &tar.Header{
			Name:    name,
			Mode:    0o644,
			Size:    int64(len(data)),
			ModTime: time.Now(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		_, err := tw.Write(data)
		return err
	}

	if data, err := os.ReadFile(m.configPath); err == nil {
		if err := addFile("config.yaml", data); err != nil {
			return nil, err
		}
	} else {
		slog.Warn("config not included in backup", "path", m.configPath, "error", err)
	}

	entries, err := os.ReadDir(m.dlDir)
	if err == nil {
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
				continue
			}
			data, err := os.ReadFile(filepath.Join(m.dlDir, e.Name()))
			if err != nil {
				return nil, fmt.Errorf("read deadletter file %s: %w", e.Name(), err)
			}
			if err := addFile("deadletter/"+e.Name(), data); err != nil {
				return nil, err
			}
		}
	}

	if m.cfg.IncludeMetrics && m.metricsDump != nil {
		if err := addFile("metrics.txt", []byte(m.metricsDump())); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// List returns all stored snapshot records, newest first.
func (m *Manager) List(ctx context.Context) ([]models.BackupRecord, error) {
	keys, err := m.store.ListObjects(ctx, m.cfg.Prefix+"/")
	if err != nil {
		return nil, err
	}

	var records []models.BackupRecord
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}
		data, err := m.store.GetObject(ctx, key)
		if err != nil {
			return nil, err
		}
		var rec models.BackupRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("parse record %s: %w", key, err)
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Restore fetches a snapshot, verifies its checksum and unpacks the
// dead-letter contents back into the dead-letter directory. The archived
// configuration is written next to the live one as <path>.restored for the
// operator to apply.
func (m *Manager) Restore(ctx context.Context, id string) error {
	meta, err := m.store.GetObject(ctx, m.cfg.Prefix+"/"+id+".json")
	if err != nil {
		return fmt.Errorf("fetch record %s: %w", id, err)
	}
	var rec models.BackupRecord
	if err := json.Unmarshal(meta, &rec); err != nil {
		return fmt.Errorf("parse record %s: %w", id, err)
	}

	archive, err := m.store.GetObject(ctx, rec.Location)
	if err != nil {
		return fmt.Errorf("fetch archive %s: %w", id, err)
	}

	sum := sha256.Sum256(archive)
	if hex.EncodeToString(sum[:]) != rec.Checksum {
		return fmt.Errorf("snapshot %s failed checksum verification", id)
	}

	gz, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("open archive %s: %w", id, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", id, err)
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return fmt.Errorf("read entry %s: %w", hdr.Name, err)
		}

		switch {
		case hdr.Name == "config.yaml":
			if err := os.WriteFile(m.configPath+".restored", data, 0o644); err != nil {
				return fmt.Errorf("write restored config: %w", err)
			}
		case strings.HasPrefix(hdr.Name, "deadletter/"):
			if err := os.MkdirAll(m.dlDir, 0o755); err != nil {
				return err
			}
			name := filepath.Base(hdr.Name)
			if err := os.WriteFile(filepath.Join(m.dlDir, name), data, 0o644); err != nil {
				return fmt.Errorf("restore deadletter file %s: %w", name, err)
			}
		}
	}

	slog.Info("snapshot restored", "id", id)
	return nil
}
