package models

import (
	"testing"
)

func result(name string, outcome VariantOutcome) VariantResult {
	p := GetProfile(name)
	return VariantResult{Profile: *p, Outcome: outcome}
}

func TestFinalizeOutcome(t *testing.T) {
	tests := []struct {
		name        string
		results     []VariantResult
		wantOutcome JobOutcome
		wantCounts  [3]int // succeeded, failed, skipped
	}{
		{
			name: "all succeeded",
			results: []VariantResult{
				result("144p", VariantSucceeded),
				result("240p", VariantSucceeded),
				result("360p", VariantSucceeded),
			},
			wantOutcome: JobOutcomeSuccess,
			wantCounts:  [3]int{3, 0, 0},
		},
		{
			name: "one failure is partial",
			results: []VariantResult{
				result("144p", VariantSucceeded),
				result("240p", VariantFailed),
				result("360p", VariantSucceeded),
			},
			wantOutcome: JobOutcomePartialSuccess,
			wantCounts:  [3]int{2, 1, 0},
		},
		{
			name: "sheds count against success but not toward failure",
			results: []VariantResult{
				result("144p", VariantSucceeded),
				result("720p", VariantSkipped),
				result("1080p", VariantSkipped),
			},
			wantOutcome: JobOutcomePartialSuccess,
			wantCounts:  [3]int{1, 0, 2},
		},
		{
			name: "nothing succeeded",
			results: []VariantResult{
				result("144p", VariantFailed),
				result("240p", VariantFailed),
			},
			wantOutcome: JobOutcomeFailure,
			wantCounts:  [3]int{0, 2, 0},
		},
		{
			name:        "no results at all",
			results:     nil,
			wantOutcome: JobOutcomeFailure,
			wantCounts:  [3]int{0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := JobReport{VideoID: "vid-1", Results: tt.results}
			report.Finalize()

			if report.Outcome != tt.wantOutcome {
				t.Errorf("expected outcome %s, got %s", tt.wantOutcome, report.Outcome)
			}
			got := [3]int{report.SucceededCount, report.FailedCount, report.SkippedCount}
			if got != tt.wantCounts {
				t.Errorf("expected counts %v, got %v", tt.wantCounts, got)
			}
		})
	}
}

func TestSucceededProfilesOrder(t *testing.T) {
	report := JobReport{
		Results: []VariantResult{
			result("144p", VariantSucceeded),
			result("240p", VariantFailed),
			result("360p", VariantSucceeded),
			result("480p", VariantSucceeded),
			result("540p", VariantSkipped),
		},
	}

	succeeded := report.SucceededProfiles()
	want := []string{"144p", "360p", "480p"}
	if len(succeeded) != len(want) {
		t.Fatalf("expected %d succeeded profiles, got %d", len(want), len(succeeded))
	}
	for i, p := range succeeded {
		if p.Name != want[i] {
			t.Errorf("position %d: expected %s, got %s", i, want[i], p.Name)
		}
	}
}

func TestReportStatus(t *testing.T) {
	tests := []struct {
		outcome JobOutcome
		want    string
	}{
		{JobOutcomeSuccess, JobStatusCompleted},
		{JobOutcomePartialSuccess, JobStatusPartial},
		{JobOutcomeFailure, JobStatusFailed},
	}

	for _, tt := range tests {
		report := JobReport{Outcome: tt.outcome}
		if got := report.Status(); got != tt.want {
			t.Errorf("outcome %s: expected status %s, got %s", tt.outcome, tt.want, got)
		}
	}
}
