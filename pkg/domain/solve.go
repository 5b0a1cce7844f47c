package domain

import "time"

// SolveRequest is the body of POST /solve_mps. FileName is a base name
// resolved by the server inside its own model directory. The server fills
// TimeLimit and BatchSize defaults before decoding, so absent fields keep
// them.
type SolveRequest struct {
	FileName  string  `json:"file_name" binding:"required"`
	TimeLimit float64 `json:"time_limit"`
	BatchSize int     `json:"batch_size"`
}

// SolveResponse is the reshaped solver result returned by POST /solve_mps.
type SolveResponse struct {
	Status         string         `json:"status"`
	ObjectiveValue *float64       `json:"objective_value,omitempty"`
	Details        map[string]any `json:"details"`
}

// HealthResponse is the fixed liveness payload.
type HealthResponse struct {
	Status string `json:"status"`
}

const HealthyStatus = "healthy"

// SolveRecord is the persisted summary of one served solve.
type SolveRecord struct {
	ID             string    `json:"id"`
	FileName       string    `json:"fileName"`
	BatchSize      int       `json:"batchSize"`
	TimeLimit      float64   `json:"timeLimit"`
	Status         string    `json:"status"`
	ObjectiveValue *float64  `json:"objectiveValue,omitempty"`
	SolveSeconds   float64   `json:"solveSeconds"`
	ArtifactURL    string    `json:"artifactUrl,omitempty"`
	RequestID      string    `json:"requestId,omitempty"`
	TraceParent    string    `json:"traceParent,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}
