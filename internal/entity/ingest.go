package entity

import "time"

// IngestJob is a capture source queued for ingestion into a collection.
type IngestJob struct {
	Collection string    `json:"collection"`
	Source     string    `json:"source"`
	QueuedAt   time.Time `json:"queued_at"`
}

type IngestStatus struct {
	Collection    string
	Source        string
	CurrentStatus string // "pending", "ingesting", "completed", "failed", "not_found"
	UpdatedAt     *time.Time
	FailureReason string
}
