package transcoder

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hlsmill/hlsmill/internal/config"
	"github.com/hlsmill/hlsmill/pkg/models"
)

// fakeMedia stands in for ffmpeg. Successful encodes write a playlist and
// one segment so verification has something real to check.
type fakeMedia struct {
	width     int
	height    int
	probeErr  error
	posterErr error

	mu        sync.Mutex
	failing   map[string]string
	noSegment map[string]bool
	encoded   []string
}

func (m *fakeMedia) ProbeDimensions(_ context.Context, _ string) (int, int, error) {
	if m.probeErr != nil {
		return 0, 0, m.probeErr
	}
	return m.width, m.height, nil
}

func (m *fakeMedia) EncodeVariant(_ context.Context, _, outputDir string, p models.QualityProfile) error {
	m.mu.Lock()
	m.encoded = append(m.encoded, p.Name)
	failMsg := m.failing[p.Name]
	skipSegment := m.noSegment[p.Name]
	m.mu.Unlock()

	if failMsg != "" {
		return errors.New(failMsg)
	}

	qualityDir := filepath.Join(outputDir, p.Name)
	if err := os.MkdirAll(qualityDir, 0755); err != nil {
		return err
	}
	playlist := "#EXTM3U\n#EXTINF:6.000000,\nsegment_000.ts\n#EXT-X-ENDLIST\n"
	if err := os.WriteFile(filepath.Join(qualityDir, "playlist.m3u8"), []byte(playlist), 0644); err != nil {
		return err
	}
	if !skipSegment {
		return os.WriteFile(filepath.Join(qualityDir, "segment_000.ts"), []byte("ts"), 0644)
	}
	return nil
}

func (m *fakeMedia) ExtractPoster(_ context.Context, _, outputPath string) error {
	if m.posterErr != nil {
		return m.posterErr
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(outputPath, []byte("jpg"), 0644)
}

type fakeStore struct {
	downloadErr error
	uploadErr   error
	moveErr     error

	mu          sync.Mutex
	downloads   []string
	uploadKey   string
	uploadCount int
	moved       []string
}

func (s *fakeStore) DownloadFile(_ context.Context, uri, localPath string) error {
	if s.downloadErr != nil {
		return s.downloadErr
	}
	s.mu.Lock()
	s.downloads = append(s.downloads, uri)
	s.mu.Unlock()
	return os.WriteFile(localPath, []byte("source"), 0644)
}

func (s *fakeStore) UploadDir(_ context.Context, localDir, keyPrefix string) (int, error) {
	if s.uploadErr != nil {
		return 0, s.uploadErr
	}
	count := 0
	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			count++
		}
		return nil
	})
	s.mu.Lock()
	s.uploadKey = keyPrefix
	s.uploadCount = count
	s.mu.Unlock()
	return count, err
}

func (s *fakeStore) MoveToCompleted(_ context.Context, uri string) (string, error) {
	if s.moveErr != nil {
		return "", s.moveErr
	}
	s.mu.Lock()
	s.moved = append(s.moved, uri)
	s.mu.Unlock()
	return strings.Replace(uri, "pending/", "completed/", 1), nil
}

func (s *fakeStore) OutputURI(videoID string) string {
	return "s3://videos/videos/" + videoID + "/manifest/master.m3u8"
}

type fakeRepo struct {
	createErr error

	mu       sync.Mutex
	created  []models.Job
	updated  []models.Job
	variants map[string][]models.VariantResult
}

func (r *fakeRepo) CreateJob(_ context.Context, job *models.Job) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.mu.Lock()
	r.created = append(r.created, *job)
	r.mu.Unlock()
	return nil
}

func (r *fakeRepo) UpdateJob(_ context.Context, job *models.Job) error {
	r.mu.Lock()
	r.updated = append(r.updated, *job)
	r.mu.Unlock()
	return nil
}

func (r *fakeRepo) SaveVariantResults(_ context.Context, jobID string, results []models.VariantResult) error {
	r.mu.Lock()
	if r.variants == nil {
		r.variants = make(map[string][]models.VariantResult)
	}
	r.variants[jobID] = results
	r.mu.Unlock()
	return nil
}

func (r *fakeRepo) lastJob(t *testing.T) models.Job {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.updated) == 0 {
		t.Fatal("no job updates recorded")
	}
	return r.updated[len(r.updated)-1]
}

type fakeReporter struct {
	alreadyLocked bool
	lockErr       error

	mu       sync.Mutex
	progress [][2]int
	report   *models.JobReport
	failure  string
	released []string
}

func (f *fakeReporter) SetJobProgress(_ context.Context, _ string, succeeded, total int) error {
	f.mu.Lock()
	f.progress = append(f.progress, [2]int{succeeded, total})
	f.mu.Unlock()
	return nil
}

func (f *fakeReporter) SetJobReport(_ context.Context, _ string, report *models.JobReport) error {
	f.mu.Lock()
	f.report = report
	f.mu.Unlock()
	return nil
}

func (f *fakeReporter) SetFailureReason(_ context.Context, _ string, reason string) error {
	f.mu.Lock()
	f.failure = reason
	f.mu.Unlock()
	return nil
}

func (f *fakeReporter) AcquireProcessingLock(_ context.Context, _ string) (bool, error) {
	if f.lockErr != nil {
		return false, f.lockErr
	}
	return !f.alreadyLocked, nil
}

func (f *fakeReporter) ReleaseProcessingLock(_ context.Context, videoID string) error {
	f.mu.Lock()
	f.released = append(f.released, videoID)
	f.mu.Unlock()
	return nil
}

func newTestService(t *testing.T, media *fakeMedia, store *fakeStore, repo *fakeRepo, reporter *fakeReporter, admission AdmissionPolicy) *Service {
	t.Helper()
	cfg := config.TranscoderConfig{
		TempDir:         t.TempDir(),
		MaxParallelJobs: 2,
		VariantTimeout:  time.Minute,
	}
	return NewService(cfg, media, admission, store, repo, reporter)
}

func TestProcessHappyPath(t *testing.T) {
	media := &fakeMedia{width: 1920, height: 1080}
	store := &fakeStore{}
	repo := &fakeRepo{}
	reporter := &fakeReporter{}
	svc := newTestService(t, media, store, repo, reporter, nil)

	req := models.TranscodeRequest{InputURI: "s3://uploads/pending/vid-1.mp4", VideoID: "vid-1"}
	report, err := svc.Process(context.Background(), req)

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, models.JobOutcomeSuccess, report.Outcome)
	assert.Equal(t, 9, report.SucceededCount)

	job := repo.lastJob(t)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 9, job.SucceededCount)
	assert.Equal(t, 9, job.TotalCount)
	assert.Equal(t, "s3://videos/videos/vid-1/manifest/master.m3u8", job.OutputURI)
	assert.NotNil(t, job.CompletedAt)

	// Nine variant playlists, nine segments, one master, one poster.
	assert.Equal(t, "videos/vid-1", store.uploadKey)
	assert.Equal(t, 20, store.uploadCount)
	assert.Equal(t, []string{"s3://uploads/pending/vid-1.mp4"}, store.moved)

	require.Len(t, reporter.progress, 9)
	assert.Equal(t, [2]int{9, 9}, reporter.progress[8])
	require.NotNil(t, reporter.report)
	assert.Equal(t, report.JobID, reporter.report.JobID)
	assert.Equal(t, []string{"vid-1"}, reporter.released)

	require.Len(t, repo.variants[report.JobID], 9)
}

func TestProcessMissingFields(t *testing.T) {
	svc := newTestService(t, &fakeMedia{}, &fakeStore{}, &fakeRepo{}, &fakeReporter{}, nil)

	_, err := svc.Process(context.Background(), models.TranscodeRequest{VideoID: "vid-1"})
	assert.Error(t, err)

	_, err = svc.Process(context.Background(), models.TranscodeRequest{InputURI: "s3://uploads/x.mp4"})
	assert.Error(t, err)
}

func TestProcessDuplicateVideo(t *testing.T) {
	repo := &fakeRepo{}
	svc := newTestService(t, &fakeMedia{width: 1920, height: 1080}, &fakeStore{}, repo, &fakeReporter{alreadyLocked: true}, nil)

	_, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyProcessing))
	assert.Empty(t, repo.created, "a duplicate must not create a job row")
}

func TestProcessNoEligibleProfiles(t *testing.T) {
	media := &fakeMedia{width: 100, height: 100}
	repo := &fakeRepo{}
	reporter := &fakeReporter{}
	svc := newTestService(t, media, &fakeStore{}, repo, reporter, nil)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/tiny.mp4",
		VideoID:  "vid-tiny",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoEligibleProfiles))
	assert.Nil(t, report)
	assert.Equal(t, models.JobStatusFailed, repo.lastJob(t).Status)
	assert.Contains(t, reporter.failure, "100x100")
	assert.Empty(t, media.encoded)
}

func TestProcessDownloadFailure(t *testing.T) {
	store := &fakeStore{downloadErr: errors.New("bucket unreachable")}
	repo := &fakeRepo{}
	svc := newTestService(t, &fakeMedia{width: 1920, height: 1080}, store, repo, &fakeReporter{}, nil)

	_, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to download source")
	assert.Equal(t, models.JobStatusFailed, repo.lastJob(t).Status)
}

func TestProcessProbeFailure(t *testing.T) {
	media := &fakeMedia{probeErr: errors.New("not a video")}
	repo := &fakeRepo{}
	svc := newTestService(t, media, &fakeStore{}, repo, &fakeReporter{}, nil)

	_, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to probe source")
	assert.Equal(t, models.JobStatusFailed, repo.lastJob(t).Status)
}

func TestProcessPartialSuccessCompletes(t *testing.T) {
	media := &fakeMedia{
		width:   1920,
		height:  1080,
		failing: map[string]string{"720p": "encoder exploded"},
	}
	store := &fakeStore{}
	repo := &fakeRepo{}
	reporter := &fakeReporter{}
	svc := newTestService(t, media, store, repo, reporter, nil)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.NoError(t, err, "a partial success is a finished job")
	assert.Equal(t, models.JobOutcomePartialSuccess, report.Outcome)
	assert.Equal(t, 8, report.SucceededCount)
	assert.Equal(t, 1, report.FailedCount)

	job := repo.lastJob(t)
	assert.Equal(t, models.JobStatusPartial, job.Status)
	require.Len(t, repo.variants[report.JobID], 9)

	// Eight variant playlists and segments plus master and poster.
	assert.Equal(t, 18, store.uploadCount)
}

func TestProcessAllEncodesFail(t *testing.T) {
	failing := make(map[string]string)
	for _, p := range models.SelectProfiles(854, 480) {
		failing[p.Name] = "boom"
	}
	media := &fakeMedia{width: 854, height: 480, failing: failing}
	store := &fakeStore{}
	repo := &fakeRepo{}
	reporter := &fakeReporter{}
	svc := newTestService(t, media, store, repo, reporter, nil)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.Error(t, err)
	require.NotNil(t, report)
	assert.Equal(t, models.JobOutcomeFailure, report.Outcome)
	assert.Equal(t, models.JobStatusFailed, repo.lastJob(t).Status)
	assert.NotEmpty(t, reporter.failure)
	assert.Empty(t, store.moved, "a failed job must not move its input")
	require.Len(t, repo.variants[report.JobID], 4)
}

func TestProcessVerificationFailureFailsJob(t *testing.T) {
	media := &fakeMedia{
		width:     854,
		height:    480,
		noSegment: map[string]bool{"360p": true},
	}
	repo := &fakeRepo{}
	svc := newTestService(t, media, &fakeStore{}, repo, &fakeReporter{}, nil)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "segment verification failed")
	require.NotNil(t, report)
	assert.Equal(t, models.JobStatusFailed, repo.lastJob(t).Status)
}

func TestProcessPosterFailureIsBestEffort(t *testing.T) {
	media := &fakeMedia{
		width:     854,
		height:    480,
		posterErr: errors.New("no frame at 1s"),
	}
	store := &fakeStore{}
	repo := &fakeRepo{}
	svc := newTestService(t, media, store, repo, &fakeReporter{}, nil)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.NoError(t, err)
	assert.Equal(t, models.JobOutcomeSuccess, report.Outcome)
	assert.Equal(t, models.JobStatusCompleted, repo.lastJob(t).Status)

	// Four variant playlists and segments plus the master, no poster.
	assert.Equal(t, 9, store.uploadCount)
}

func TestProcessUnderEmergencyPressure(t *testing.T) {
	media := &fakeMedia{width: 1920, height: 1080}
	store := &fakeStore{}
	repo := &fakeRepo{}
	reporter := &fakeReporter{}
	adm := &stubAdmission{skip: func(band models.PriorityBand) bool {
		return band != models.BandCritical
	}}
	svc := newTestService(t, media, store, repo, reporter, adm)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.NoError(t, err)
	assert.Equal(t, models.JobOutcomePartialSuccess, report.Outcome)
	assert.Equal(t, 4, report.SucceededCount)
	assert.Equal(t, 5, report.SkippedCount)

	// Only the critical band reached the encoder, so the upload holds four
	// variants plus master and poster.
	assert.Equal(t, 10, store.uploadCount)
	assert.Equal(t, models.JobStatusPartial, repo.lastJob(t).Status)

	require.Len(t, reporter.progress, 4)
	assert.Equal(t, [2]int{4, 9}, reporter.progress[3])
}

func TestProcessLockErrorContinues(t *testing.T) {
	media := &fakeMedia{width: 854, height: 480}
	repo := &fakeRepo{}
	svc := newTestService(t, media, &fakeStore{}, repo, &fakeReporter{lockErr: errors.New("redis down")}, nil)

	report, err := svc.Process(context.Background(), models.TranscodeRequest{
		InputURI: "s3://uploads/pending/vid-1.mp4",
		VideoID:  "vid-1",
	})

	require.NoError(t, err)
	assert.Equal(t, models.JobOutcomeSuccess, report.Outcome)
}
