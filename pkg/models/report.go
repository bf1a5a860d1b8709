package models

import "time"

// VariantOutcome is the terminal state of one rendition attempt.
type VariantOutcome string

const (
	// VariantSucceeded means the rendition encoded completely.
	VariantSucceeded VariantOutcome = "succeeded"
	// VariantFailed means the encode was attempted and broke (error or
	// timeout).
	VariantFailed VariantOutcome = "failed"
	// VariantSkipped means admission control shed the rendition's band
	// before dispatch. A skip is a policy decision, not a failure.
	VariantSkipped VariantOutcome = "skipped"
)

// VariantResult records what happened to a single eligible profile.
type VariantResult struct {
	Profile  QualityProfile `json:"profile"`
	Outcome  VariantOutcome `json:"outcome"`
	Error    string         `json:"error,omitempty"`
	Duration time.Duration  `json:"duration,omitempty"`
}

// JobOutcome is the aggregate verdict over all eligible renditions.
type JobOutcome string

const (
	JobOutcomeSuccess        JobOutcome = "success"
	JobOutcomePartialSuccess JobOutcome = "partial_success"
	JobOutcomeFailure        JobOutcome = "failure"
)

// JobReport is the orchestrator's account of a job: one result per
// originally-eligible profile, in ladder order, plus the aggregate outcome.
type JobReport struct {
	JobID          string          `json:"job_id,omitempty"`
	VideoID        string          `json:"video_id"`
	Results        []VariantResult `json:"results"`
	Outcome        JobOutcome      `json:"outcome"`
	SucceededCount int             `json:"succeeded_count"`
	FailedCount    int             `json:"failed_count"`
	SkippedCount   int             `json:"skipped_count"`
	Duration       time.Duration   `json:"duration,omitempty"`
}

// Finalize tallies the results and derives the aggregate outcome:
// nothing succeeded is a failure, everything succeeded is a success,
// anything in between (failures or sheds) is a partial success.
func (r *JobReport) Finalize() {
	r.SucceededCount, r.FailedCount, r.SkippedCount = 0, 0, 0
	for _, res := range r.Results {
		switch res.Outcome {
		case VariantSucceeded:
			r.SucceededCount++
		case VariantFailed:
			r.FailedCount++
		case VariantSkipped:
			r.SkippedCount++
		}
	}

	switch {
	case r.SucceededCount == 0:
		r.Outcome = JobOutcomeFailure
	case r.SucceededCount == len(r.Results):
		r.Outcome = JobOutcomeSuccess
	default:
		r.Outcome = JobOutcomePartialSuccess
	}
}

// SucceededProfiles returns the profiles that actually produced output, in
// the same order they appear in the report. Downstream packaging (segment
// verification, master playlist) must consume exactly this subset.
func (r *JobReport) SucceededProfiles() []QualityProfile {
	var out []QualityProfile
	for _, res := range r.Results {
		if res.Outcome == VariantSucceeded {
			out = append(out, res.Profile)
		}
	}
	return out
}

// Status maps the aggregate outcome onto the job status recorded in the
// database.
func (r *JobReport) Status() string {
	switch r.Outcome {
	case JobOutcomeSuccess:
		return JobStatusCompleted
	case JobOutcomePartialSuccess:
		return JobStatusPartial
	default:
		return JobStatusFailed
	}
}
