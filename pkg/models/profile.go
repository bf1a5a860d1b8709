package models

// QualityProfile defines one rung of the adaptive bitrate ladder: the target
// box, rate control settings, and H.264 encoder constraints for a rendition.
type QualityProfile struct {
	Name         string `json:"name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	VideoBitrate int64  `json:"video_bitrate"`
	AudioBitrate int64  `json:"audio_bitrate"`
	MaxBitrate   int64  `json:"max_bitrate"`
	BufferSize   int64  `json:"buffer_size"`
	H264Profile  string `json:"h264_profile"`
	H264Level    string `json:"h264_level"`
	// FrameRate pins the output frame rate; 0 keeps the source rate.
	FrameRate int `json:"frame_rate,omitempty"`
}

// Standard ladder rungs, lowest to highest.
var (
	Profile144p = QualityProfile{
		Name:         "144p",
		Width:        256,
		Height:       144,
		VideoBitrate: 100000, // 100 kbps
		AudioBitrate: 32000,
		MaxBitrate:   150000,
		BufferSize:   200000,
		H264Profile:  "baseline",
		H264Level:    "3.0",
	}

	Profile240p = QualityProfile{
		Name:         "240p",
		Width:        426,
		Height:       240,
		VideoBitrate: 300000, // 300 kbps
		AudioBitrate: 48000,
		MaxBitrate:   450000,
		BufferSize:   600000,
		H264Profile:  "baseline",
		H264Level:    "3.0",
	}

	Profile360p = QualityProfile{
		Name:         "360p",
		Width:        640,
		Height:       360,
		VideoBitrate: 600000, // 600 kbps
		AudioBitrate: 64000,
		MaxBitrate:   900000,
		BufferSize:   1200000,
		H264Profile:  "baseline",
		H264Level:    "3.1",
	}

	Profile480p = QualityProfile{
		Name:         "480p",
		Width:        854,
		Height:       480,
		VideoBitrate: 1000000, // 1 Mbps
		AudioBitrate: 96000,
		MaxBitrate:   1500000,
		BufferSize:   2000000,
		H264Profile:  "main",
		H264Level:    "3.1",
	}

	Profile540p = QualityProfile{
		Name:         "540p",
		Width:        960,
		Height:       540,
		VideoBitrate: 1500000, // 1.5 Mbps
		AudioBitrate: 96000,
		MaxBitrate:   2250000,
		BufferSize:   3000000,
		H264Profile:  "main",
		H264Level:    "4.0",
	}

	Profile720p = QualityProfile{
		Name:         "720p",
		Width:        1280,
		Height:       720,
		VideoBitrate: 2500000, // 2.5 Mbps
		AudioBitrate: 128000,
		MaxBitrate:   3750000,
		BufferSize:   5000000,
		H264Profile:  "main",
		H264Level:    "4.0",
	}

	Profile720p60 = QualityProfile{
		Name:         "720p60",
		Width:        1280,
		Height:       720,
		VideoBitrate: 3500000, // 3.5 Mbps
		AudioBitrate: 128000,
		MaxBitrate:   5250000,
		BufferSize:   7000000,
		H264Profile:  "main",
		H264Level:    "4.0",
		FrameRate:    60,
	}

	Profile1080p = QualityProfile{
		Name:         "1080p",
		Width:        1920,
		Height:       1080,
		VideoBitrate: 5000000, // 5 Mbps
		AudioBitrate: 192000,
		MaxBitrate:   7500000,
		BufferSize:   10000000,
		H264Profile:  "high",
		H264Level:    "4.0",
	}

	Profile1080p60 = QualityProfile{
		Name:         "1080p60",
		Width:        1920,
		Height:       1080,
		VideoBitrate: 7500000, // 7.5 Mbps
		AudioBitrate: 192000,
		MaxBitrate:   11250000,
		BufferSize:   15000000,
		H264Profile:  "high",
		H264Level:    "4.2",
		FrameRate:    60,
	}

	Profile1440p = QualityProfile{
		Name:         "1440p",
		Width:        2560,
		Height:       1440,
		VideoBitrate: 10000000, // 10 Mbps
		AudioBitrate: 256000,
		MaxBitrate:   15000000,
		BufferSize:   20000000,
		H264Profile:  "high",
		H264Level:    "5.0",
	}

	Profile2160p = QualityProfile{
		Name:         "2160p",
		Width:        3840,
		Height:       2160,
		VideoBitrate: 20000000, // 20 Mbps
		AudioBitrate: 256000,
		MaxBitrate:   30000000,
		BufferSize:   40000000,
		H264Profile:  "high",
		H264Level:    "5.1",
	}
)

// Ladder returns the full quality ladder in ascending order.
func Ladder() []QualityProfile {
	return []QualityProfile{
		Profile144p,
		Profile240p,
		Profile360p,
		Profile480p,
		Profile540p,
		Profile720p,
		Profile720p60,
		Profile1080p,
		Profile1080p60,
		Profile1440p,
		Profile2160p,
	}
}

// GetProfile returns a ladder profile by name, or nil if unknown.
func GetProfile(name string) *QualityProfile {
	for _, p := range Ladder() {
		if p.Name == name {
			profile := p
			return &profile
		}
	}
	return nil
}

// SelectProfiles filters the ladder down to the rungs a source can feed
// without upscaling: a profile is eligible only when both its width and
// height fit inside the source dimensions. Ladder order is preserved.
// An empty result means the source is smaller than the lowest rung;
// callers must treat that as a job failure rather than transcode anyway.
func SelectProfiles(sourceWidth, sourceHeight int) []QualityProfile {
	var selected []QualityProfile
	for _, profile := range Ladder() {
		if profile.Width <= sourceWidth && profile.Height <= sourceHeight {
			selected = append(selected, profile)
		}
	}
	return selected
}

// Bandwidth returns the peak bandwidth the rendition advertises in the
// master playlist: video plus audio bitrate in bits per second.
func (p QualityProfile) Bandwidth() int64 {
	return p.VideoBitrate + p.AudioBitrate
}

// PriorityBand groups ladder rungs by how important they are to keep when
// the host is under memory pressure. Low rungs serve every client and are
// shed last; high rungs are a luxury shed first.
type PriorityBand int

const (
	// BandCritical covers heights up to 480: the minimum viable ladder.
	BandCritical PriorityBand = iota
	// BandStandard covers heights above 480 up to 1080.
	BandStandard
	// BandPremium covers everything above 1080.
	BandPremium
)

const (
	maxCriticalHeight = 480
	maxStandardHeight = 1080
)

func (b PriorityBand) String() string {
	switch b {
	case BandCritical:
		return "critical"
	case BandStandard:
		return "standard"
	case BandPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// Band classifies the profile by output height.
func (p QualityProfile) Band() PriorityBand {
	switch {
	case p.Height <= maxCriticalHeight:
		return BandCritical
	case p.Height <= maxStandardHeight:
		return BandStandard
	default:
		return BandPremium
	}
}

// Bands returns the processing order: critical first, premium last.
func Bands() []PriorityBand {
	return []PriorityBand{BandCritical, BandStandard, BandPremium}
}

// GroupByBand partitions profiles into priority bands, preserving the input
// order within each band. Band thresholds are monotone in height, so
// concatenating the groups in band order reproduces a ladder-ordered input.
func GroupByBand(profiles []QualityProfile) map[PriorityBand][]QualityProfile {
	groups := make(map[PriorityBand][]QualityProfile, 3)
	for _, p := range profiles {
		band := p.Band()
		groups[band] = append(groups[band], p)
	}
	return groups
}
