package dispatch

import (
	"github.com/google/uuid"

	"docgen-service/internal/entity"
)

// GenerationPayload is the wire form of a pipeline run handed to a worker.
type GenerationPayload struct {
	JobID   uuid.UUID            `json:"job_id"`
	Request entity.SubmitRequest `json:"request"`
}

// ScoringPayload carries generated documents to the quality-scoring task.
// Scoring runs independently and never blocks job completion.
type ScoringPayload struct {
	JobID       uuid.UUID         `json:"job_id"`
	TeamID      string            `json:"team_id"`
	ServiceName string            `json:"service_name"`
	Documents   map[string]string `json:"documents"`
}
