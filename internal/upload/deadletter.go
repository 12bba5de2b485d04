package upload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/your-org/edgewatch/internal/models"
)

// DeadLetter is a directory-backed store for upload tasks that exhausted
// their retry budget. Tasks are parked here for manual or automated
// reprocessing, never discarded.
type DeadLetter struct {
	dir string
}

func NewDeadLetter(dir string) (*DeadLetter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create deadletter dir: %w", err)
	}
	return &DeadLetter{dir: dir}, nil
}

func (d *DeadLetter) Dir() string { return d.dir }

// Add persists one task. The file name is the task id, so re-adding the
// same task overwrites rather than duplicates.
func (d *DeadLetter) Add(task models.UploadTask) error {
	task.Status = models.UploadStatusDeadLettered
	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	path := filepath.Join(d.dir, task.ID.String()+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write task %s: %w", task.ID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("commit task %s: %w", task.ID, err)
	}
	return nil
}

// List returns all parked tasks, oldest first.
func (d *DeadLetter) List() ([]models.UploadTask, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read deadletter dir: %w", err)
	}

	var tasks []models.UploadTask
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(d.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read task %s: %w", e.Name(), err)
		}
		var task models.UploadTask
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("parse task %s: %w", e.Name(), err)
		}
		tasks = append(tasks, task)
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
	return tasks, nil
}

// Remove deletes one parked task after successful replay.
func (d *DeadLetter) Remove(id string) error {
	err := os.Remove(filepath.Join(d.dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove task %s: %w", id, err)
	}
	return nil
}

// Count returns the number of parked tasks.
func (d *DeadLetter) Count() int {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n
}
