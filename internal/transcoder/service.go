package transcoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/config"
	"github.com/hlsmill/hlsmill/internal/metrics"
	"github.com/hlsmill/hlsmill/internal/tracing"
	"github.com/hlsmill/hlsmill/pkg/models"
)

var (
	// ErrAlreadyProcessing means another worker holds the video's lock.
	ErrAlreadyProcessing = errors.New("video is already being processed")
	// ErrNoEligibleProfiles means the source is smaller than every ladder rung.
	ErrNoEligibleProfiles = errors.New("no eligible quality profiles for source dimensions")
)

// MediaProcessor is the ffmpeg surface the pipeline consumes.
type MediaProcessor interface {
	ProbeDimensions(ctx context.Context, inputPath string) (int, int, error)
	EncodeVariant(ctx context.Context, inputPath, outputDir string, profile models.QualityProfile) error
	ExtractPoster(ctx context.Context, inputPath, outputPath string) error
}

// ObjectStore is the bucket surface the pipeline consumes.
type ObjectStore interface {
	DownloadFile(ctx context.Context, uri, localPath string) error
	UploadDir(ctx context.Context, localDir, keyPrefix string) (int, error)
	MoveToCompleted(ctx context.Context, uri string) (string, error)
	OutputURI(videoID string) string
}

// JobStore persists job rows and their per-variant results.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	SaveVariantResults(ctx context.Context, jobID string, results []models.VariantResult) error
}

// Reporter publishes progress and outcomes where pollers can see them, and
// holds the per-video processing lock. Reporting is best-effort: a reporter
// error never fails a job.
type Reporter interface {
	SetJobProgress(ctx context.Context, videoID string, succeeded, total int) error
	SetJobReport(ctx context.Context, videoID string, report *models.JobReport) error
	SetFailureReason(ctx context.Context, videoID, reason string) error
	AcquireProcessingLock(ctx context.Context, videoID string) (bool, error)
	ReleaseProcessingLock(ctx context.Context, videoID string) error
}

// Service runs the whole pipeline for one video: download, probe, ladder
// selection, band-ordered encoding under admission control, segment
// verification, packaging, upload, and bookkeeping.
type Service struct {
	media    MediaProcessor
	orch     *Orchestrator
	store    ObjectStore
	repo     JobStore
	reporter Reporter
	cfg      config.TranscoderConfig
	workerID string

	inFlight atomic.Int32
}

// NewService creates a transcoder service.
func NewService(
	cfg config.TranscoderConfig,
	media MediaProcessor,
	admission AdmissionPolicy,
	store ObjectStore,
	repo JobStore,
	reporter Reporter,
) *Service {
	return &Service{
		media:    media,
		orch:     NewOrchestrator(media, admission, cfg.MaxParallelJobs, cfg.VariantTimeout),
		store:    store,
		repo:     repo,
		reporter: reporter,
		cfg:      cfg,
		workerID: uuid.New().String(),
	}
}

// WorkerID identifies this service instance in job rows.
func (s *Service) WorkerID() string {
	return s.workerID
}

// InProgress reports how many jobs this instance is currently running.
func (s *Service) InProgress() int {
	return int(s.inFlight.Load())
}

// Process runs one transcode job end to end and returns its report. The
// returned error is non-nil only when the job failed: a partial success is
// a finished job. Duplicate requests for a video already in flight return
// ErrAlreadyProcessing.
func (s *Service) Process(ctx context.Context, req models.TranscodeRequest) (*models.JobReport, error) {
	if req.InputURI == "" || req.VideoID == "" {
		return nil, fmt.Errorf("input_uri and video_id are required")
	}

	span, ctx := tracing.StartSpan(ctx, "transcoder.process")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "video_id", req.VideoID)

	locked, err := s.reporter.AcquireProcessingLock(ctx, req.VideoID)
	if err != nil {
		log.Warn().Err(err).Str("video_id", req.VideoID).Msg("Processing lock unavailable, continuing")
	} else if !locked {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyProcessing, req.VideoID)
	} else {
		defer func() {
			if err := s.reporter.ReleaseProcessingLock(context.Background(), req.VideoID); err != nil {
				log.Warn().Err(err).Str("video_id", req.VideoID).Msg("Failed to release processing lock")
			}
		}()
	}

	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)

	start := time.Now()
	job := &models.Job{
		ID:        uuid.New().String(),
		VideoID:   req.VideoID,
		InputURI:  req.InputURI,
		Status:    models.JobStatusProcessing,
		WorkerID:  s.workerID,
		StartedAt: &start,
		CreatedAt: start,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job record: %w", err)
	}

	log.Info().
		Str("job_id", job.ID).
		Str("video_id", req.VideoID).
		Str("input_uri", req.InputURI).
		Msg("Job started")

	// Scratch space for this job only, reclaimed no matter how we exit.
	tempDir := filepath.Join(s.cfg.TempDir, job.ID)
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, s.failJob(ctx, job, nil, start, fmt.Errorf("failed to create temp directory: %w", err))
	}
	defer os.RemoveAll(tempDir)

	inputPath := filepath.Join(tempDir, "input_video")
	outputDir := filepath.Join(tempDir, "output")
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, s.failJob(ctx, job, nil, start, fmt.Errorf("failed to create output directory: %w", err))
	}

	if err := s.store.DownloadFile(ctx, req.InputURI, inputPath); err != nil {
		return nil, s.failJob(ctx, job, nil, start, fmt.Errorf("failed to download source: %w", err))
	}

	width, height, err := s.media.ProbeDimensions(ctx, inputPath)
	if err != nil {
		return nil, s.failJob(ctx, job, nil, start, fmt.Errorf("failed to probe source: %w", err))
	}

	profiles := models.SelectProfiles(width, height)
	if len(profiles) == 0 {
		return nil, s.failJob(ctx, job, nil, start,
			fmt.Errorf("%w: source is %dx%d", ErrNoEligibleProfiles, width, height))
	}

	log.Info().
		Str("job_id", job.ID).
		Str("video_id", req.VideoID).
		Int("width", width).
		Int("height", height).
		Int("eligible", len(profiles)).
		Msg("Ladder selected")

	onProgress := func(succeeded, total int) {
		job.SucceededCount = succeeded
		job.TotalCount = total
		if err := s.reporter.SetJobProgress(ctx, req.VideoID, succeeded, total); err != nil {
			log.Debug().Err(err).Str("video_id", req.VideoID).Msg("Progress report dropped")
		}
	}

	report := s.orch.Run(ctx, req.VideoID, inputPath, outputDir, profiles, onProgress)
	report.JobID = job.ID

	if report.Outcome == models.JobOutcomeFailure {
		return report, s.failJob(ctx, job, report, start, fmt.Errorf("no variants succeeded"))
	}

	succeeded := report.SucceededProfiles()
	if err := VerifySegments(outputDir, succeeded); err != nil {
		return report, s.failJob(ctx, job, report, start, fmt.Errorf("segment verification failed: %w", err))
	}

	if _, err := WriteMasterPlaylist(outputDir, succeeded); err != nil {
		return report, s.failJob(ctx, job, report, start, fmt.Errorf("failed to write master playlist: %w", err))
	}

	// Poster extraction is cosmetic; a failure never fails the job.
	posterPath := filepath.Join(outputDir, "thumbnails", "poster.jpg")
	if err := s.media.ExtractPoster(ctx, inputPath, posterPath); err != nil {
		log.Warn().Err(err).Str("video_id", req.VideoID).Msg("Poster extraction failed")
	}

	uploaded, err := s.store.UploadDir(ctx, outputDir, "videos/"+req.VideoID)
	if err != nil {
		return report, s.failJob(ctx, job, report, start, fmt.Errorf("failed to upload outputs: %w", err))
	}

	movedTo, err := s.store.MoveToCompleted(ctx, req.InputURI)
	if err != nil {
		return report, s.failJob(ctx, job, report, start, fmt.Errorf("failed to move input to completed: %w", err))
	}

	job.Status = report.Status()
	job.Outcome = report.Outcome
	job.SucceededCount = report.SucceededCount
	job.TotalCount = len(report.Results)
	job.OutputURI = s.store.OutputURI(req.VideoID)
	completed := time.Now()
	job.CompletedAt = &completed

	if err := s.repo.UpdateJob(ctx, job); err != nil {
		return report, fmt.Errorf("failed to update job record: %w", err)
	}
	if err := s.repo.SaveVariantResults(ctx, job.ID, report.Results); err != nil {
		return report, fmt.Errorf("failed to save variant results: %w", err)
	}

	if err := s.reporter.SetJobReport(ctx, req.VideoID, report); err != nil {
		log.Debug().Err(err).Str("video_id", req.VideoID).Msg("Report publish dropped")
	}

	elapsed := time.Since(start)
	metrics.RecordJobCompleted(string(report.Outcome), elapsed.Seconds())

	log.Info().
		Str("job_id", job.ID).
		Str("video_id", req.VideoID).
		Str("outcome", string(report.Outcome)).
		Int("succeeded", report.SucceededCount).
		Int("failed", report.FailedCount).
		Int("skipped", report.SkippedCount).
		Int("files_uploaded", uploaded).
		Str("input_moved_to", movedTo).
		Str("output_uri", job.OutputURI).
		Dur("duration", elapsed).
		Msg("Job finished")

	return report, nil
}

// failJob marks the job failed, records whatever results exist, and hands
// the original error back to the caller.
func (s *Service) failJob(ctx context.Context, job *models.Job, report *models.JobReport, start time.Time, cause error) error {
	job.Status = models.JobStatusFailed
	job.Outcome = models.JobOutcomeFailure
	job.ErrorMsg = cause.Error()
	completed := time.Now()
	job.CompletedAt = &completed

	if err := s.repo.UpdateJob(ctx, job); err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist job failure")
	}
	if report != nil {
		if err := s.repo.SaveVariantResults(ctx, job.ID, report.Results); err != nil {
			log.Error().Err(err).Str("job_id", job.ID).Msg("Failed to persist variant results")
		}
		if err := s.reporter.SetJobReport(ctx, job.VideoID, report); err != nil {
			log.Debug().Err(err).Str("video_id", job.VideoID).Msg("Report publish dropped")
		}
	}
	if err := s.reporter.SetFailureReason(ctx, job.VideoID, cause.Error()); err != nil {
		log.Debug().Err(err).Str("video_id", job.VideoID).Msg("Failure reason publish dropped")
	}

	metrics.RecordJobCompleted(string(models.JobOutcomeFailure), time.Since(start).Seconds())
	metrics.RecordError("transcoder", "job_failed")

	log.Error().
		Err(cause).
		Str("job_id", job.ID).
		Str("video_id", job.VideoID).
		Msg("Job failed")

	return cause
}
