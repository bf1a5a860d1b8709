package transcoder

import (
	"strings"
	"testing"

	"github.com/hlsmill/hlsmill/pkg/models"
)

func TestParseDimensions(t *testing.T) {
	tests := []struct {
		name       string
		data       string
		wantWidth  int
		wantHeight int
		wantErr    bool
	}{
		{
			name:       "full hd stream",
			data:       `{"streams":[{"width":1920,"height":1080}]}`,
			wantWidth:  1920,
			wantHeight: 1080,
		},
		{
			name:       "portrait stream",
			data:       `{"streams":[{"width":1080,"height":1920}]}`,
			wantWidth:  1080,
			wantHeight: 1920,
		},
		{
			name:    "no streams",
			data:    `{"streams":[]}`,
			wantErr: true,
		},
		{
			name:    "zero dimensions",
			data:    `{"streams":[{"width":0,"height":0}]}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			data:    `{"streams":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := parseDimensions([]byte(tt.data))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if w != tt.wantWidth || h != tt.wantHeight {
				t.Errorf("got %dx%d, want %dx%d", w, h, tt.wantWidth, tt.wantHeight)
			}
		})
	}
}

func TestBuildVariantArgs(t *testing.T) {
	f := NewFFmpeg("ffmpeg", "ffprobe", 6)

	args := f.buildVariantArgs("/tmp/in.mp4", "/tmp/out/720p", models.Profile720p)
	joined := strings.Join(args, " ")

	wantFragments := []string{
		"-i /tmp/in.mp4",
		"-c:v libx264",
		"-profile:v main",
		"-level 4.0",
		"-preset fast",
		"-b:v 2500k",
		"-maxrate 3750k",
		"-bufsize 5000k",
		"-vf scale=1280:720:force_original_aspect_ratio=decrease,pad=1280:720",
		"-c:a aac",
		"-b:a 128k",
		"-ar 48000",
		"-ac 2",
		"-hls_time 6",
		"-hls_playlist_type vod",
		"-hls_segment_filename /tmp/out/720p/segment_%03d.ts",
		"-hls_flags independent_segments",
		"-g 48",
		"-keyint_min 48",
		"-hls_list_size 0",
	}
	for _, frag := range wantFragments {
		if !strings.Contains(joined, frag) {
			t.Errorf("args missing %q\nargs: %s", frag, joined)
		}
	}

	if args[len(args)-1] != "/tmp/out/720p/playlist.m3u8" {
		t.Errorf("playlist path must be the final argument, got %q", args[len(args)-1])
	}
	for _, a := range args {
		if a == "-r" {
			t.Errorf("30fps profile should not pin frame rate, args: %s", joined)
		}
	}
}

func TestBuildVariantArgsHighFrameRate(t *testing.T) {
	f := NewFFmpeg("ffmpeg", "ffprobe", 6)

	args := f.buildVariantArgs("/tmp/in.mp4", "/tmp/out/1080p60", models.Profile1080p60)
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-r 60") {
		t.Errorf("60fps profile must pin frame rate, args: %s", joined)
	}

	// The frame rate flag applies to the playlist output, so it must come
	// before the output path.
	rIdx := -1
	for i, a := range args {
		if a == "-r" {
			rIdx = i
		}
	}
	if rIdx == -1 || rIdx >= len(args)-2 {
		t.Errorf("-r must precede the output path, args: %s", joined)
	}
}

func TestBuildVariantArgsSegmentDuration(t *testing.T) {
	f := NewFFmpeg("ffmpeg", "ffprobe", 4)

	args := f.buildVariantArgs("/tmp/in.mp4", "/tmp/out/480p", models.Profile480p)
	joined := strings.Join(args, " ")

	if !strings.Contains(joined, "-hls_time 4") {
		t.Errorf("expected 4 second segments, args: %s", joined)
	}
}

func TestNewFFmpegDefaultSegmentSeconds(t *testing.T) {
	f := NewFFmpeg("ffmpeg", "ffprobe", 0)
	if f.segmentSeconds != defaultSegmentSeconds {
		t.Errorf("segmentSeconds = %d, want %d", f.segmentSeconds, defaultSegmentSeconds)
	}
}

func TestBitrateArg(t *testing.T) {
	tests := []struct {
		bps  int64
		want string
	}{
		{100000, "100k"},
		{2500000, "2500k"},
		{20000000, "20000k"},
		{1500, "1500"},
	}
	for _, tt := range tests {
		if got := bitrateArg(tt.bps); got != tt.want {
			t.Errorf("bitrateArg(%d) = %q, want %q", tt.bps, got, tt.want)
		}
	}
}

func TestStderrTail(t *testing.T) {
	in := "line1\nline2\nline3\nline4\n"
	got := stderrTail(in, 2)
	if got != "line3\nline4" {
		t.Errorf("stderrTail = %q", got)
	}

	short := stderrTail("only", 4)
	if short != "only" {
		t.Errorf("stderrTail short = %q", short)
	}
}
