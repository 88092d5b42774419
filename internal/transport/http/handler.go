package httptransport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"docgen-service/internal/entity"
	"docgen-service/internal/service"
)

// PingFunc probes one backing store for the health endpoint.
type PingFunc func(ctx context.Context) error

type Handler struct {
	jobSvc    *service.JobService
	pingStore PingFunc
	pingCache PingFunc
}

func NewHandler(jobSvc *service.JobService, pingStore, pingCache PingFunc) *Handler {
	return &Handler{jobSvc: jobSvc, pingStore: pingStore, pingCache: pingCache}
}

type submitJobDTO struct {
	Specification json.RawMessage `json:"specification"`
	SpecFormat    string          `json:"spec_format"`
	OutputFormats []string        `json:"output_formats"`
	TeamID        string          `json:"team_id"`
	ServiceName   string          `json:"service_name"`
}

type cancelResp struct {
	Cancelled bool `json:"cancelled"`
}

type healthResp struct {
	Healthy         bool   `json:"healthy"`
	DatabaseHealthy bool   `json:"database_healthy"`
	CacheHealthy    bool   `json:"cache_healthy"`
	Timestamp       string `json:"timestamp"`
}

// SubmitJob godoc
// @Summary Submit a documentation-generation job
// @Description Writes the durable record, primes the cache and dispatches the pipeline.
// @Tags jobs
// @Accept json
// @Produce json
// @Param request body submitJobDTO true "job request"
// @Success 201 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 500 {object} apiError
// @Router /jobs [post]
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var dto submitJobDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json")
		return
	}

	req := &entity.SubmitRequest{
		Specification: dto.Specification,
		SpecFormat:    entity.SpecFormat(dto.SpecFormat),
		TeamID:        dto.TeamID,
		ServiceName:   dto.ServiceName,
	}
	for _, f := range dto.OutputFormats {
		req.OutputFormats = append(req.OutputFormats, entity.OutputFormat(f))
	}

	job, err := h.jobSvc.Submit(r.Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRequest) {
			writeErr(w, http.StatusBadRequest, err.Error())
			return
		}
		writeErr(w, http.StatusInternalServerError, "job submission failed")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// GetJob godoc
// @Summary Get job status
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} entity.Job
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Router /jobs/{id} [get]
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	job, err := h.jobSvc.GetStatus(r.Context(), id)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to get job status")
		return
	}
	if job == nil {
		writeErr(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// CancelJob godoc
// @Summary Cancel an active job
// @Description Jobs already completed, failed or cancelled cannot be cancelled again.
// @Tags jobs
// @Produce json
// @Param id path string true "job id (uuid)"
// @Success 200 {object} cancelResp
// @Failure 400 {object} apiError
// @Failure 404 {object} apiError
// @Failure 409 {object} apiError
// @Router /jobs/{id} [delete]
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseJobID(w, r)
	if !ok {
		return
	}
	cancelled, err := h.jobSvc.Cancel(r.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			writeErr(w, http.StatusNotFound, "job not found")
			return
		}
		writeErr(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	if !cancelled {
		writeErr(w, http.StatusConflict, "job already finished")
		return
	}
	writeJSON(w, http.StatusOK, cancelResp{Cancelled: true})
}

// ListJobs godoc
// @Summary List job history
// @Tags jobs
// @Produce json
// @Param team_id query string false "filter by team"
// @Param service_name query string false "filter by service"
// @Param limit query int false "max results (default 50)"
// @Success 200 {array} entity.Job
// @Router /jobs [get]
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	filter := entity.HistoryFilter{
		TeamID:      r.URL.Query().Get("team_id"),
		ServiceName: r.URL.Query().Get("service_name"),
	}
	listed, err := h.jobSvc.GetHistory(r.Context(), filter, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if listed == nil {
		listed = []*entity.Job{}
	}
	writeJSON(w, http.StatusOK, listed)
}

// ListActiveJobs godoc
// @Summary List queued and processing jobs
// @Tags jobs
// @Produce json
// @Success 200 {array} entity.Job
// @Router /jobs/active [get]
func (h *Handler) ListActiveJobs(w http.ResponseWriter, r *http.Request) {
	active, err := h.jobSvc.GetActiveJobs(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to list active jobs")
		return
	}
	if active == nil {
		active = []*entity.Job{}
	}
	writeJSON(w, http.StatusOK, active)
}

// GetQueueStatus godoc
// @Summary Queue status and load
// @Tags queue
// @Produce json
// @Success 200 {object} entity.QueueStatus
// @Router /queue/status [get]
func (h *Handler) GetQueueStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.jobSvc.GetQueueStatus(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to get queue status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// GetStatistics godoc
// @Summary Job statistics over a trailing window
// @Tags queue
// @Produce json
// @Param team_id query string false "filter by team"
// @Param days query int false "window in days (default 7)"
// @Success 200 {object} entity.Statistics
// @Router /stats [get]
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	days := 7
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	stats, err := h.jobSvc.GetStatistics(r.Context(), r.URL.Query().Get("team_id"), days)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// Health godoc
// @Summary Health of the backing stores
// @Tags health
// @Produce json
// @Success 200 {object} healthResp
// @Failure 503 {object} healthResp
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResp{
		DatabaseHealthy: h.pingStore == nil || h.pingStore(r.Context()) == nil,
		CacheHealthy:    h.pingCache == nil || h.pingCache(r.Context()) == nil,
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
	}
	resp.Healthy = resp.DatabaseHealthy && resp.CacheHealthy
	code := http.StatusOK
	if !resp.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func parseJobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErr(w, http.StatusBadRequest, "invalid id")
		return uuid.Nil, false
	}
	return id, true
}
