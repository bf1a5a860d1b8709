package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestGetContentType(t *testing.T) {
	tests := []struct {
		filePath string
		wantType string
	}{
		{"video.mp4", "video/mp4"},
		{"video.mov", "video/quicktime"},
		{"video.avi", "video/x-msvideo"},
		{"video.mkv", "video/x-matroska"},
		{"video.webm", "video/webm"},
		{"playlist.m3u8", "application/vnd.apple.mpegurl"},
		{"segment_000.ts", "video/mp2t"},
		{"poster.jpg", "image/jpeg"},
		{"poster.jpeg", "image/jpeg"},
		{"sprite.png", "image/png"},
		{"unknown.xyz", "application/octet-stream"},
	}

	for _, tt := range tests {
		t.Run(tt.filePath, func(t *testing.T) {
			contentType := getContentType(tt.filePath)
			if contentType != tt.wantType {
				t.Errorf("getContentType(%q) = %q, want %q", tt.filePath, contentType, tt.wantType)
			}
		})
	}
}

func TestResolveURI(t *testing.T) {
	s := &Storage{inputBucket: "uploads", outputBucket: "videos"}

	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{
			name:       "full uri",
			uri:        "s3://mybucket/pending/video.mp4",
			wantBucket: "mybucket",
			wantKey:    "pending/video.mp4",
		},
		{
			name:       "nested key",
			uri:        "s3://mybucket/a/b/c.mp4",
			wantBucket: "mybucket",
			wantKey:    "a/b/c.mp4",
		},
		{
			name:       "bare key uses input bucket",
			uri:        "pending/video.mp4",
			wantBucket: "uploads",
			wantKey:    "pending/video.mp4",
		},
		{
			name:       "leading slash trimmed",
			uri:        "/pending/video.mp4",
			wantBucket: "uploads",
			wantKey:    "pending/video.mp4",
		},
		{
			name:    "empty uri",
			uri:     "",
			wantErr: true,
		},
		{
			name:    "bucket only",
			uri:     "s3://mybucket",
			wantErr: true,
		},
		{
			name:    "missing key",
			uri:     "s3://mybucket/",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := s.ResolveURI(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if bucket != tt.wantBucket || key != tt.wantKey {
				t.Errorf("ResolveURI(%q) = (%q, %q), want (%q, %q)",
					tt.uri, bucket, key, tt.wantBucket, tt.wantKey)
			}
		})
	}
}

func TestCompletedKey(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"pending/video.mp4", "completed/video.mp4"},
		{"pending/2024/video.mp4", "completed/2024/video.mp4"},
		{"archive/video.mp4", "archive/video.mp4"},
		{"video.mp4", "video.mp4"},
	}

	for _, tt := range tests {
		if got := completedKey(tt.key); got != tt.want {
			t.Errorf("completedKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestOutputURI(t *testing.T) {
	s := &Storage{inputBucket: "uploads", outputBucket: "videos"}

	got := s.OutputURI("vid-42")
	want := "s3://videos/videos/vid-42/manifest/master.m3u8"
	if got != want {
		t.Errorf("OutputURI = %q, want %q", got, want)
	}
}

func TestCollectUploads(t *testing.T) {
	dir := t.TempDir()

	writeFile := func(rel, content string) {
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	writeFile("manifest/master.m3u8", "#EXTM3U")
	writeFile("720p/playlist.m3u8", "#EXTM3U")
	writeFile("720p/segment_000.ts", "data")

	items, err := collectUploads(dir, "videos/vid-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}

	keys := make(map[string]int64)
	for _, item := range items {
		keys[item.key] = item.size
	}

	if size, ok := keys["videos/vid-1/720p/segment_000.ts"]; !ok || size != 4 {
		t.Errorf("segment item missing or wrong size: %v", keys)
	}
	if _, ok := keys["videos/vid-1/manifest/master.m3u8"]; !ok {
		t.Errorf("master playlist item missing: %v", keys)
	}
}

func TestCollectUploadsMissingDir(t *testing.T) {
	if _, err := collectUploads("/does/not/exist", "videos/vid-1"); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
