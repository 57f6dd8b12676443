package model

import (
	"time"
)

// RunStatus represents the current state of a resolve run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusComplete  RunStatus = "complete"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the resolver over an input table.
type Run struct {
	ID         string    `json:"id"`
	InputPath  string    `json:"input_path"`
	RasterPath string    `json:"raster_path"`
	OutputDir  string    `json:"output_dir"`
	Status     RunStatus `json:"status"`
	Stats      Stats     `json:"stats"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Segment records one published checkpoint file of a run.
type Segment struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Index     int       `json:"index"`
	Path      string    `json:"path"`
	Offset    int       `json:"offset"` // index of the first record in the input
	Rows      int       `json:"rows"`
	Stats     Stats     `json:"stats"`
	CreatedAt time.Time `json:"created_at"`
}

// RunFilter narrows ListRuns results.
type RunFilter struct {
	Status RunStatus
	Limit  int
	Offset int
}
