package transcoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hlsmill/hlsmill/pkg/models"
)

// Fixed GOP so every segment starts on a keyframe regardless of profile.
const keyframeInterval = 48

const defaultSegmentSeconds = 6

// FFmpeg wraps the external ffmpeg/ffprobe binaries.
type FFmpeg struct {
	ffmpegPath     string
	ffprobePath    string
	segmentSeconds int
}

// NewFFmpeg creates a new FFmpeg instance
func NewFFmpeg(ffmpegPath, ffprobePath string, segmentSeconds int) *FFmpeg {
	if segmentSeconds <= 0 {
		segmentSeconds = defaultSegmentSeconds
	}
	return &FFmpeg{
		ffmpegPath:     ffmpegPath,
		ffprobePath:    ffprobePath,
		segmentSeconds: segmentSeconds,
	}
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

// ProbeDimensions extracts the source's video dimensions via ffprobe.
func (f *FFmpeg) ProbeDimensions(ctx context.Context, inputPath string) (int, int, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		inputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffprobePath, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, 0, fmt.Errorf("ffprobe failed: %w, stderr: %s", err, stderr.String())
	}

	return parseDimensions(stdout.Bytes())
}

func parseDimensions(data []byte) (int, int, error) {
	var probe probeOutput
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, 0, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}
	if len(probe.Streams) == 0 {
		return 0, 0, fmt.Errorf("no video stream found")
	}

	stream := probe.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return 0, 0, fmt.Errorf("invalid video dimensions %dx%d", stream.Width, stream.Height)
	}
	return stream.Width, stream.Height, nil
}

// EncodeVariant renders one ladder rung into its profile-scoped directory:
// <outputDir>/<name>/playlist.m3u8 plus numbered segments. Output locations
// are disjoint per profile name, so concurrent invocations against the same
// source are safe. Cancelling the context kills the subprocess, so a
// caller-side timeout also reaps ffmpeg.
func (f *FFmpeg) EncodeVariant(ctx context.Context, inputPath, outputDir string, profile models.QualityProfile) error {
	qualityDir := filepath.Join(outputDir, profile.Name)
	if err := os.MkdirAll(qualityDir, 0755); err != nil {
		return fmt.Errorf("failed to create variant directory: %w", err)
	}

	args := f.buildVariantArgs(inputPath, qualityDir, profile)

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("variant %s cancelled: %w", profile.Name, ctx.Err())
		}
		return fmt.Errorf("ffmpeg failed for %s: %w, stderr: %s",
			profile.Name, err, stderrTail(stderr.String(), 8))
	}

	return nil
}

// buildVariantArgs assembles the full HLS encode command for a profile. The
// scale filter shrinks into the target box preserving aspect ratio, then
// pads to the exact dimensions.
func (f *FFmpeg) buildVariantArgs(inputPath, qualityDir string, p models.QualityProfile) []string {
	playlistPath := filepath.Join(qualityDir, "playlist.m3u8")
	segmentPattern := filepath.Join(qualityDir, "segment_%03d.ts")

	filter := fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d",
		p.Width, p.Height, p.Width, p.Height)

	args := []string{
		"-i", inputPath,
		"-c:v", "libx264",
		"-profile:v", p.H264Profile,
		"-level", p.H264Level,
		"-preset", "fast",
		"-b:v", bitrateArg(p.VideoBitrate),
		"-maxrate", bitrateArg(p.MaxBitrate),
		"-bufsize", bitrateArg(p.BufferSize),
		"-vf", filter,
		"-c:a", "aac",
		"-b:a", bitrateArg(p.AudioBitrate),
		"-ar", "48000",
		"-ac", "2",
	}

	if p.FrameRate > 0 {
		args = append(args, "-r", strconv.Itoa(p.FrameRate))
	}

	args = append(args,
		"-hls_time", strconv.Itoa(f.segmentSeconds),
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", segmentPattern,
		"-hls_flags", "independent_segments",
		"-g", strconv.Itoa(keyframeInterval),
		"-keyint_min", strconv.Itoa(keyframeInterval),
		"-hls_list_size", "0",
		"-y",
		playlistPath,
	)

	return args
}

// ExtractPoster grabs a poster frame one second into the video.
func (f *FFmpeg) ExtractPoster(ctx context.Context, inputPath, outputPath string) error {
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create thumbnail directory: %w", err)
	}

	args := []string{
		"-i", inputPath,
		"-ss", "00:00:01",
		"-vframes", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	}

	cmd := exec.CommandContext(ctx, f.ffmpegPath, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to extract poster: %w, stderr: %s",
			err, stderrTail(stderr.String(), 4))
	}

	return nil
}

// bitrateArg renders bits per second the way ffmpeg rate options expect.
func bitrateArg(bps int64) string {
	if bps%1000 == 0 {
		return fmt.Sprintf("%dk", bps/1000)
	}
	return strconv.FormatInt(bps, 10)
}

// stderrTail keeps the last n lines of ffmpeg chatter for error messages.
func stderrTail(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
