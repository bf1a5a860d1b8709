package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hlsmill/hlsmill/internal/cache"
	"github.com/hlsmill/hlsmill/internal/database"
	"github.com/hlsmill/hlsmill/internal/memory"
	"github.com/hlsmill/hlsmill/internal/transcoder"
	"github.com/hlsmill/hlsmill/pkg/models"
)

// processor runs a transcode request to completion.
type processor interface {
	Process(ctx context.Context, req models.TranscodeRequest) (*models.JobReport, error)
}

// publisher enqueues a transcode request for the worker pool.
type publisher interface {
	PublishRequest(ctx context.Context, req models.TranscodeRequest) error
}

// jobReader reads persisted jobs and their variant results.
type jobReader interface {
	GetJob(ctx context.Context, id string) (*models.Job, error)
	GetJobVariants(ctx context.Context, jobID string) ([]models.VariantResult, error)
	ListRecentJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// statusReader reads live progress from the cache.
type statusReader interface {
	GetJobProgress(ctx context.Context, videoID string) (*cache.Progress, error)
	GetFailureReason(ctx context.Context, videoID string) (string, error)
}

// admission exposes the admission controller state.
type admission interface {
	Status() memory.Status
	Reset()
}

// healthProbe is a named dependency liveness check.
type healthProbe struct {
	name  string
	check func(ctx context.Context) error
}

// API carries the handler dependencies.
type API struct {
	service processor
	queue   publisher
	repo    jobReader
	status  statusReader
	manager admission
	probes  []healthProbe
}

// pubsubEnvelope is the push-delivery wrapper: the request payload arrives
// base64-encoded in message.data.
type pubsubEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// processVideo handles synchronous transcode requests. The response carries
// the full per-variant report once the ladder has run.
func (api *API) processVideo(c *gin.Context) {
	var req models.TranscodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.InputURI == "" || req.VideoID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input_uri and video_id are required"})
		return
	}

	report, err := api.service.Process(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, transcoder.ErrAlreadyProcessing) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		resp := gin.H{"error": err.Error()}
		if report != nil {
			resp["report"] = report
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}

	c.JSON(http.StatusOK, report)
}

// enqueueVideo handles the asynchronous push form: decode the envelope,
// validate the payload, hand it to the queue.
func (api *API) enqueueVideo(c *gin.Context) {
	var envelope pubsubEnvelope
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if envelope.Message.Data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message.data is required"})
		return
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message.data is not valid base64"})
		return
	}

	var req models.TranscodeRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message.data is not a valid request"})
		return
	}
	if req.InputURI == "" || req.VideoID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "input_uri and video_id are required"})
		return
	}

	if err := api.queue.PublishRequest(c.Request.Context(), req); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue request"})
		return
	}

	c.Status(http.StatusNoContent)
}

// getJob returns a persisted job with its variant results.
func (api *API) getJob(c *gin.Context) {
	jobID := c.Param("id")

	job, err := api.repo.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	variants, err := api.repo.GetJobVariants(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"job": job, "variants": variants})
}

// getJobProgress returns live progress for a job. The cache is keyed by
// video, so resolve the job first; when the cache has expired fall back to
// the persisted counters.
func (api *API) getJobProgress(c *gin.Context) {
	jobID := c.Param("id")

	job, err := api.repo.GetJob(c.Request.Context(), jobID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{
		"job_id":    job.ID,
		"video_id":  job.VideoID,
		"status":    job.Status,
		"succeeded": job.SucceededCount,
		"total":     job.TotalCount,
	}

	if progress, err := api.status.GetJobProgress(c.Request.Context(), job.VideoID); err == nil && progress != nil {
		resp["succeeded"] = progress.Succeeded
		resp["total"] = progress.Total
		resp["updated_at"] = progress.UpdatedAt
	}
	if reason, err := api.status.GetFailureReason(c.Request.Context(), job.VideoID); err == nil && reason != "" {
		resp["failure_reason"] = reason
	}

	c.JSON(http.StatusOK, resp)
}

// listJobs returns the most recent jobs.
func (api *API) listJobs(c *gin.Context) {
	jobs, err := api.repo.ListRecentJobs(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// getStatus serves the admission controller state.
func (api *API) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, api.manager.Status())
}

// resetMemoryFlags clears the sticky degradation flags. Operators call this
// after the pressure source is understood and resolved.
func (api *API) resetMemoryFlags(c *gin.Context) {
	api.manager.Reset()
	c.JSON(http.StatusOK, gin.H{
		"message": "degradation flags cleared",
		"status":  api.manager.Status(),
	})
}

// healthCheck pings every dependency with a short deadline.
func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := gin.H{}
	healthy := true
	for _, probe := range api.probes {
		if err := probe.check(ctx); err != nil {
			checks[probe.name] = err.Error()
			healthy = false
		} else {
			checks[probe.name] = "ok"
		}
	}

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "checks": checks})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "healthy", "checks": checks})
}
