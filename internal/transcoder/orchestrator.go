package transcoder

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hlsmill/hlsmill/internal/metrics"
	"github.com/hlsmill/hlsmill/pkg/models"
)

const (
	// DefaultMaxParallel bounds concurrent ffmpeg processes per job.
	DefaultMaxParallel = 4
	// DefaultVariantTimeout is how long one rendition may encode before its
	// subprocess is killed.
	DefaultVariantTimeout = 600 * time.Second
)

// VariantEncoder renders a single quality profile into the output tree.
type VariantEncoder interface {
	EncodeVariant(ctx context.Context, inputPath, outputDir string, profile models.QualityProfile) error
}

// AdmissionPolicy decides, at the moment a band is about to dispatch,
// whether its variants should be shed instead of encoded.
type AdmissionPolicy interface {
	ShouldSkip(band models.PriorityBand) bool
}

// ProgressFunc receives monotonic completion counts as dispatched variants
// finish; a failure repeats the previous succeeded count. Skipped variants
// never report progress.
type ProgressFunc func(succeeded, totalEligible int)

// Orchestrator runs a job's eligible ladder through the priority bands:
// critical first, then standard, then premium. Bands are strictly
// sequential, so a band's variants dispatch only after every variant of the
// previous band has finished. Within a band, variants encode in parallel
// under one shared semaphore. Admission is re-checked as each band starts,
// so pressure that develops mid-job sheds only the bands that have not yet
// dispatched.
type Orchestrator struct {
	encoder        VariantEncoder
	admission      AdmissionPolicy
	maxParallel    int
	variantTimeout time.Duration
}

// NewOrchestrator creates an orchestrator. Non-positive limits fall back to
// the defaults.
func NewOrchestrator(encoder VariantEncoder, admission AdmissionPolicy, maxParallel int, variantTimeout time.Duration) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = DefaultMaxParallel
	}
	if variantTimeout <= 0 {
		variantTimeout = DefaultVariantTimeout
	}
	return &Orchestrator{
		encoder:        encoder,
		admission:      admission,
		maxParallel:    maxParallel,
		variantTimeout: variantTimeout,
	}
}

type indexedResult struct {
	idx int
	res models.VariantResult
}

// Run encodes every eligible profile and returns per-variant outcomes in
// ladder order. A variant failure never aborts its siblings, and a shed
// band counts against neither success nor failure. An empty profile list
// finalizes straight to a failed report.
func (o *Orchestrator) Run(ctx context.Context, videoID, inputPath, outputDir string, profiles []models.QualityProfile, progress ProgressFunc) *models.JobReport {
	start := time.Now()
	report := &models.JobReport{
		VideoID: videoID,
		Results: make([]models.VariantResult, 0, len(profiles)),
	}

	totalEligible := len(profiles)
	if totalEligible == 0 {
		report.Duration = time.Since(start)
		report.Finalize()
		return report
	}

	grouped := models.GroupByBand(profiles)
	sem := make(chan struct{}, o.maxParallel)
	succeeded := 0

	for _, band := range models.Bands() {
		group := grouped[band]
		if len(group) == 0 {
			continue
		}

		if o.admission != nil && o.admission.ShouldSkip(band) {
			metrics.RecordBandSkipped(band.String())
			log.Warn().
				Str("video_id", videoID).
				Str("band", band.String()).
				Int("variants", len(group)).
				Msg("Band shed by admission control")

			for _, p := range group {
				metrics.RecordVariant(p.Name, string(models.VariantSkipped), 0)
				report.Results = append(report.Results, models.VariantResult{
					Profile: p,
					Outcome: models.VariantSkipped,
				})
			}
			continue
		}

		bandResults := make([]models.VariantResult, len(group))
		out := make(chan indexedResult, len(group))
		var wg sync.WaitGroup

		for i, p := range group {
			wg.Add(1)
			go func(idx int, profile models.QualityProfile) {
				defer wg.Done()

				// Acquire semaphore
				sem <- struct{}{}
				defer func() { <-sem }()

				out <- indexedResult{idx: idx, res: o.encodeOne(ctx, videoID, inputPath, outputDir, profile)}
			}(i, p)
		}

		go func() {
			wg.Wait()
			close(out)
		}()

		for ir := range out {
			bandResults[ir.idx] = ir.res
			if ir.res.Outcome == models.VariantSucceeded {
				succeeded++
			}
			if progress != nil {
				progress(succeeded, totalEligible)
			}
		}

		report.Results = append(report.Results, bandResults...)
	}

	report.Duration = time.Since(start)
	report.Finalize()

	log.Info().
		Str("video_id", videoID).
		Str("outcome", string(report.Outcome)).
		Int("succeeded", report.SucceededCount).
		Int("failed", report.FailedCount).
		Int("skipped", report.SkippedCount).
		Dur("duration", report.Duration).
		Msg("Ladder finished")

	return report
}

// encodeOne encodes a single variant under the per-variant timeout and
// translates the error, if any, into a result row.
func (o *Orchestrator) encodeOne(ctx context.Context, videoID, inputPath, outputDir string, profile models.QualityProfile) models.VariantResult {
	vctx, cancel := context.WithTimeout(ctx, o.variantTimeout)
	defer cancel()

	metrics.EncodesInFlight.Inc()
	defer metrics.EncodesInFlight.Dec()

	start := time.Now()
	err := o.encoder.EncodeVariant(vctx, inputPath, outputDir, profile)
	duration := time.Since(start)

	result := models.VariantResult{
		Profile:  profile,
		Duration: duration,
	}

	switch {
	case err == nil:
		result.Outcome = models.VariantSucceeded
	case vctx.Err() == context.DeadlineExceeded:
		result.Outcome = models.VariantFailed
		result.Error = fmt.Sprintf("timed out after %s", o.variantTimeout)
	default:
		result.Outcome = models.VariantFailed
		result.Error = err.Error()
	}

	metrics.RecordVariant(profile.Name, string(result.Outcome), duration.Seconds())

	evt := log.Info()
	if result.Outcome == models.VariantFailed {
		evt = log.Error().Err(err)
	}
	evt.
		Str("video_id", videoID).
		Str("profile", profile.Name).
		Str("outcome", string(result.Outcome)).
		Dur("duration", duration).
		Msg("Variant finished")

	return result
}
