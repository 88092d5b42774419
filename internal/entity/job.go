package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
	StatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are permitted.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

type SpecFormat string

const (
	FormatOpenAPI    SpecFormat = "openapi"
	FormatGraphQL    SpecFormat = "graphql"
	FormatJSONSchema SpecFormat = "json_schema"
)

func (f SpecFormat) Valid() bool {
	switch f {
	case FormatOpenAPI, FormatGraphQL, FormatJSONSchema:
		return true
	}
	return false
}

type OutputFormat string

const (
	OutputMarkdown OutputFormat = "markdown"
	OutputHTML     OutputFormat = "html"
)

func (f OutputFormat) Valid() bool {
	return f == OutputMarkdown || f == OutputHTML
}

// Job is one documentation-generation request and its lifecycle state.
// CompletedAt is set exactly once, on the transition into a terminal status.
type Job struct {
	ID           uuid.UUID       `json:"job_id"`
	TeamID       string          `json:"team_id"`
	ServiceName  string          `json:"service_name"`
	SpecFormat   SpecFormat      `json:"spec_format"`
	Status       JobStatus       `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Progress     *Progress       `json:"progress,omitempty"`
	Results      json.RawMessage `json:"results,omitempty"`
	ErrorMessage *string         `json:"error_message,omitempty"`
}

// Progress is the ephemeral, cache-only record of pipeline stage advancement.
type Progress struct {
	CurrentStep         string     `json:"current_step"`
	TotalSteps          int        `json:"total_steps"`
	CompletedSteps      int        `json:"completed_steps"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

func (p *Progress) Percentage() float64 {
	if p.TotalSteps == 0 {
		return 0
	}
	return float64(p.CompletedSteps) / float64(p.TotalSteps) * 100
}

// SubmitRequest carries everything needed to start a generation job.
// The specification is kept raw; parsing happens inside the pipeline.
type SubmitRequest struct {
	Specification json.RawMessage `json:"specification"`
	SpecFormat    SpecFormat      `json:"spec_format"`
	OutputFormats []OutputFormat  `json:"output_formats"`
	TeamID        string          `json:"team_id"`
	ServiceName   string          `json:"service_name"`
}

// HistoryFilter narrows GetHistory results. Zero values mean "no filter".
type HistoryFilter struct {
	TeamID      string
	ServiceName string
}

// QueueStatus is the backpressure signal exposed to operators.
type QueueStatus struct {
	QueuedCount        int      `json:"queued_jobs"`
	ProcessingCount    int      `json:"processing_jobs"`
	MaxConcurrentJobs  int      `json:"max_concurrent_jobs"`
	LoadPercentage     float64  `json:"load_percentage"`
	OldestQueuedSecs   *float64 `json:"oldest_queued_job_age_seconds,omitempty"`
	EstimatedWaitSecs  float64  `json:"estimated_queue_wait_seconds"`
}

// Statistics aggregates job outcomes over a trailing window.
type Statistics struct {
	PeriodDays        int      `json:"period_days"`
	TotalJobs         int      `json:"total_jobs"`
	CompletedJobs     int      `json:"completed_jobs"`
	FailedJobs        int      `json:"failed_jobs"`
	CancelledJobs     int      `json:"cancelled_jobs"`
	ProcessingJobs    int      `json:"processing_jobs"`
	QueuedJobs        int      `json:"queued_jobs"`
	SuccessRate       float64  `json:"success_rate"`
	AvgProcessingSecs *float64 `json:"average_processing_time_seconds,omitempty"`
}
