package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/chatqd/chatqd/internal/job"
	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/router"
	"github.com/chatqd/chatqd/internal/sse"
)

// streamIdleTimeout is how long a stream waits without events before the
// server gives up and synthesizes an error event. Variable so tests can
// shorten the wait.
var streamIdleTimeout = 300 * time.Second

// maxChatBody bounds the submission request body.
const maxChatBody = 1 << 20 // 1MB

// Dispatcher hands prepared jobs to the worker queue.
type Dispatcher interface {
	SubmitJob(j *job.Job)
}

// chatHandler serves job submission and SSE streaming.
type chatHandler struct {
	queue         Dispatcher
	subscriptions *router.Registry
	logger        log.Logger

	defaultModel       string
	defaultTemperature float64
}

// chatRequest is the submission payload. Model and temperature are
// optional; the configured defaults apply when absent.
type chatRequest struct {
	Messages          []job.Message           `json:"messages"`
	Model             string                  `json:"model"`
	Temperature       *float64                `json:"temperature"`
	DeployedResources map[string]job.Resource `json:"deployed_resources"`
}

// submitResponse acknowledges an accepted job.
type submitResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

// submit accepts a chat job: validate, register the subscription, then
// enqueue. The subscription exists before the worker can see the job, so
// no event can be emitted into the void between submission and the first
// stream read.
func (h *chatHandler) submit(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", h.logger)
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaultModel
	}
	temperature := h.defaultTemperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	j := &job.Job{
		ID:          uuid.New(),
		Messages:    req.Messages,
		Model:       model,
		Temperature: temperature,
		Resources:   req.DeployedResources,
	}
	if err := j.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	if _, err := h.subscriptions.Subscribe(j.ID); err != nil {
		h.logger.Error("failed to register subscription", "job_id", j.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "subscribe_failed", "failed to register job", h.logger)
		return
	}
	h.queue.SubmitJob(j)

	writeJSON(w, http.StatusOK, submitResponse{JobID: j.ID.String(), Status: "submitted"}, h.logger)
}

// stream replays a job's events as SSE until its terminal event, the
// idle timeout, or client disconnect. The worker keeps running on
// disconnect; only the subscription is abandoned.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(r.PathValue("job_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "invalid job ID", h.logger)
		return
	}

	sub, ok := h.subscriptions.Lookup(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "job_not_found", "no such job", h.logger)
		return
	}

	writer, err := sse.NewWriter(w)
	if err != nil {
		h.logger.Error("streaming unsupported", "error", err)
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	h.logger.Info("stream started", "job_id", jobID)
	ctx := r.Context()

	idle := time.NewTimer(streamIdleTimeout)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("client disconnected", "job_id", jobID)
			return

		case <-idle.C:
			h.logger.Warn("stream idle timeout", "job_id", jobID)
			_ = writer.WriteError("Stream timeout: no events received")
			return

		case ev := <-sub:
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(streamIdleTimeout)

			switch ev.Type {
			case job.EventChunk:
				if err := writer.WriteChunk(ev.Data); err != nil {
					h.logger.Debug("stream write failed", "job_id", jobID, "error", err)
					return
				}
			case job.EventDone:
				_ = writer.WriteDone()
				h.logger.Info("stream completed", "job_id", jobID)
				return
			case job.EventError:
				_ = writer.WriteError(ev.Data)
				h.logger.Info("stream failed", "job_id", jobID, "error", ev.Data)
				return
			}
		}
	}
}
