package reporting

import (
	"time"
)

// RunStatus represents the outcome of a pipeline run
type RunStatus string

const (
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
	StatusDeadline  RunStatus = "deadline_exceeded"
)

// CommunityStats holds per-community fetch results
type CommunityStats struct {
	Community string `json:"community"`
	Fetched   int    `json:"fetched"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RunReport is the persisted summary of one pipeline run
type RunReport struct {
	RunID     string    `json:"run_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Duration  string    `json:"duration"`

	Status  RunStatus `json:"status"`
	Success bool      `json:"success"`
	Message string    `json:"message,omitempty"`

	Communities []CommunityStats `json:"communities"`

	Fetched      int `json:"fetched"`
	Deduplicated int `json:"deduplicated"`
	Processed    int `json:"processed"`

	SentimentCounts map[string]int `json:"sentiment_counts,omitempty"`

	Errors []string `json:"errors,omitempty"`
}
