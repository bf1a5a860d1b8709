package transcoder

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hlsmill/hlsmill/pkg/models"
)

// MasterPlaylistName is the filename of the top-level HLS manifest.
const MasterPlaylistName = "master.m3u8"

const manifestDirName = "manifest"

var segmentRef = regexp.MustCompile(`segment_\d+\.ts`)

// VerifySegments checks that every media segment referenced by each
// profile's playlist exists on disk. Callers pass the profiles that actually
// produced output; shed or failed renditions have no playlist to check.
func VerifySegments(outputDir string, profiles []models.QualityProfile) error {
	for _, p := range profiles {
		qualityDir := filepath.Join(outputDir, p.Name)
		playlistPath := filepath.Join(qualityDir, "playlist.m3u8")

		content, err := os.ReadFile(playlistPath)
		if err != nil {
			return fmt.Errorf("failed to read playlist for %s: %w", p.Name, err)
		}

		segments := segmentRef.FindAllString(string(content), -1)
		for _, segment := range segments {
			if _, err := os.Stat(filepath.Join(qualityDir, segment)); err != nil {
				return fmt.Errorf("missing segment %s for %s: %w", segment, p.Name, err)
			}
		}
	}
	return nil
}

// WriteMasterPlaylist renders the top-level manifest referencing each
// profile's media playlist, in the order given. The manifest directory sits
// beside the per-quality directories, so variant references are relative.
// Returns the master playlist path.
func WriteMasterPlaylist(outputDir string, profiles []models.QualityProfile) (string, error) {
	if len(profiles) == 0 {
		return "", fmt.Errorf("no profiles to reference in master playlist")
	}

	manifestDir := filepath.Join(outputDir, manifestDirName)
	if err := os.MkdirAll(manifestDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create manifest directory: %w", err)
	}

	var content strings.Builder
	content.WriteString("#EXTM3U\n")
	content.WriteString("#EXT-X-VERSION:6\n\n")

	for _, p := range profiles {
		content.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,RESOLUTION=%dx%d\n",
			p.Bandwidth(), p.Width, p.Height))
		content.WriteString(fmt.Sprintf("../%s/playlist.m3u8\n\n", p.Name))
	}

	masterPath := filepath.Join(manifestDir, MasterPlaylistName)
	if err := os.WriteFile(masterPath, []byte(content.String()), 0644); err != nil {
		return "", fmt.Errorf("failed to write master playlist: %w", err)
	}

	return masterPath, nil
}
