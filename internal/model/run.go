package model

import "time"

// RunStatus represents the lifecycle state of an enrichment run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is the persisted record of one file enrichment.
type Run struct {
	ID        string         `json:"id"`
	Source    string         `json:"source"`
	Output    string         `json:"output,omitempty"`
	Status    RunStatus      `json:"status"`
	Stats     *StatsSnapshot `json:"stats,omitempty"`
	Error     string         `json:"error,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}
