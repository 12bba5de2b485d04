package models

import "time"

// BackupRecord describes one stored snapshot of durable state.
type BackupRecord struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Checksum  string    `json:"checksum"` // hex sha256 of the archive
	Location  string    `json:"location"` // object store key
	SizeBytes int64     `json:"size_bytes"`
}
