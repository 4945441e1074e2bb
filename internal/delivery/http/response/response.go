package response

import "time"

type SubmitIngestResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	JobID   string `json:"job_id"`
}

// IngestStatusResponse mirrors entity.IngestStatus.
type IngestStatusResponse struct {
	Collection    string     `json:"collection"`
	Source        string     `json:"source"`
	CurrentStatus string     `json:"current_status"` // "pending", "ingesting", "completed", "failed"
	UpdatedAt     *time.Time `json:"updated_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
}
