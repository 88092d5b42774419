package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"docgen-service/internal/dispatch"
	"docgen-service/internal/docgen"
	"docgen-service/internal/entity"
	"docgen-service/internal/repository/postgresql"
)

// errCancelled aborts a run without recording a failure: the cancelled status
// already on the job must not be overwritten.
var errCancelled = errors.New("job cancelled")

// Per-stage pacing used for the worker-reported estimate. The estimate shrinks
// toward now as stages complete.
const stageEstimate = time.Minute

// SpecParser parses a raw specification into the format-neutral form.
type SpecParser interface {
	Parse(ctx context.Context, format entity.SpecFormat, raw json.RawMessage) (*docgen.ParsedSpec, error)
}

// ContentGenerator renders documentation for one output format.
type ContentGenerator interface {
	Generate(ctx context.Context, spec *docgen.ParsedSpec, format entity.OutputFormat, serviceName string) (string, error)
}

// ArtifactStore persists a rendered document and returns its download URL.
type ArtifactStore interface {
	Store(ctx context.Context, jobID uuid.UUID, serviceName string, format entity.OutputFormat, content string) (string, error)
}

// Pipeline executes the five sequential generation stages for one job on a
// worker process. Stage outcomes flow back through the Manager; the task
// library never calls into job state directly.
type Pipeline struct {
	manager    *Manager
	parser     SpecParser
	generator  ContentGenerator
	artifacts  ArtifactStore
	dispatcher TaskDispatcher
	logger     *logrus.Logger
}

func NewPipeline(manager *Manager, parser SpecParser, generator ContentGenerator, artifacts ArtifactStore, dispatcher TaskDispatcher, logger *logrus.Logger) *Pipeline {
	return &Pipeline{
		manager:    manager,
		parser:     parser,
		generator:  generator,
		artifacts:  artifacts,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Run drives one job through the pipeline and records the outcome on the job.
// It returns an error only when the outcome itself could not be recorded;
// a failed generation is job state, not a worker crash.
func (p *Pipeline) Run(ctx context.Context, payload *dispatch.GenerationPayload) error {
	jobID := payload.JobID
	start := time.Now()

	proceed, err := p.manager.BeginProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if !proceed {
		p.logger.WithField("job_id", jobID).Info("job no longer active, skipping run")
		return nil
	}

	results, err := p.execute(ctx, payload)
	if errors.Is(err, errCancelled) {
		p.logger.WithField("job_id", jobID).Info("pipeline aborted by cancellation")
		return nil
	}
	if err != nil {
		return p.manager.Fail(ctx, jobID, err.Error())
	}

	if err := p.manager.Complete(ctx, jobID, results); err != nil {
		if errors.Is(err, postgresql.ErrInvalidTransition) {
			// Cancelled after the last stage; the terminal status stands.
			p.logger.WithField("job_id", jobID).Info("completion dropped, job already terminal")
			return nil
		}
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"job_id":      jobID,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("pipeline finished")
	return nil
}

func (p *Pipeline) execute(ctx context.Context, payload *dispatch.GenerationPayload) (json.RawMessage, error) {
	jobID := payload.JobID
	req := payload.Request

	if err := p.advance(ctx, jobID, "Parsing specification", 1); err != nil {
		return nil, err
	}
	parsed, err := p.parser.Parse(ctx, req.SpecFormat, req.Specification)
	if err != nil {
		return nil, fmt.Errorf("parse specification: %w", err)
	}

	if err := p.advance(ctx, jobID, "Generating documentation content", 2); err != nil {
		return nil, err
	}
	documents := make(map[string]string, len(req.OutputFormats))
	for _, format := range req.OutputFormats {
		content, err := p.generator.Generate(ctx, parsed, format, req.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("generate %s content: %w", format, err)
		}
		documents[string(format)] = content
	}

	if err := p.advance(ctx, jobID, "Formatting and storing documentation", 3); err != nil {
		return nil, err
	}
	urls := make(map[string]string, len(documents))
	for format, content := range documents {
		url, err := p.artifacts.Store(ctx, jobID, req.ServiceName, entity.OutputFormat(format), content)
		if err != nil {
			return nil, fmt.Errorf("store %s artifact: %w", format, err)
		}
		urls[format+"_url"] = url
	}

	if err := p.advance(ctx, jobID, "Calculating quality score", 4); err != nil {
		return nil, err
	}
	// Fire-and-forget: scoring runs as its own task and never blocks this job.
	qualityTaskID, err := p.dispatcher.Enqueue(ctx, dispatch.TaskScoreQuality, &dispatch.ScoringPayload{
		JobID:       jobID,
		TeamID:      req.TeamID,
		ServiceName: req.ServiceName,
		Documents:   documents,
	})
	if err != nil {
		p.logger.WithField("job_id", jobID).WithError(err).Warn("failed to dispatch quality scoring")
	}

	if err := p.advance(ctx, jobID, "Finalizing documentation", 5); err != nil {
		return nil, err
	}
	payloadOut := map[string]any{
		"generated_content": documents,
		"team_id":           req.TeamID,
		"service_name":      req.ServiceName,
		"spec_format":       string(req.SpecFormat),
	}
	for key, url := range urls {
		payloadOut[key] = url
	}
	if qualityTaskID != "" {
		payloadOut["quality_task_id"] = qualityTaskID
	}
	results, err := json.Marshal(payloadOut)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}
	return results, nil
}

// advance is the stage boundary: it re-checks cancellation before any write
// and then overwrites the progress entry with a shrinking estimate.
func (p *Pipeline) advance(ctx context.Context, jobID uuid.UUID, step string, completed int) error {
	cancelled, err := p.manager.IsCancelled(ctx, jobID)
	if err != nil {
		return fmt.Errorf("check cancellation: %w", err)
	}
	if cancelled {
		return errCancelled
	}
	eta := time.Now().UTC().Add(time.Duration(totalPipelineSteps-completed) * stageEstimate)
	p.manager.UpdateProgress(ctx, jobID, &entity.Progress{
		CurrentStep:         step,
		TotalSteps:          totalPipelineSteps,
		CompletedSteps:      completed,
		EstimatedCompletion: &eta,
	})
	return nil
}
