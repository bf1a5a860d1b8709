package memory

import (
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hlsmill/hlsmill/internal/metrics"
	"github.com/hlsmill/hlsmill/pkg/models"
)

// Status is the admission controller's externally visible state, served on
// the status endpoints.
type Status struct {
	Active         bool    `json:"monitoring_active"`
	UsedPercent    float64 `json:"used_percent"`
	UsedMB         float64 `json:"used_mb"`
	AvailableMB    float64 `json:"available_mb"`
	Level          string  `json:"pressure_level"`
	QualityReduced bool    `json:"quality_reduced"`
	EmergencyMode  bool    `json:"emergency_mode"`
	Recommendation string  `json:"recommendation"`
}

// Manager layers a sticky degradation policy over a Monitor and answers the
// one question dispatch asks: may this priority band still be admitted.
//
// The first critical excursion flips qualityReduced; any emergency tick
// flips emergencyMode. Neither flag heals on its own: recovering memory
// does not earn back shed work mid-run. Flags clear only on process restart
// or an explicit Reset.
type Manager struct {
	monitor *Monitor

	mu             sync.RWMutex
	qualityReduced bool
	emergencyMode  bool

	reclaiming atomic.Bool
}

// NewManager wires the degradation policy onto the monitor's callbacks.
func NewManager(monitor *Monitor) *Manager {
	m := &Manager{monitor: monitor}
	monitor.RegisterCallback(LevelWarning, m.handleWarning)
	monitor.RegisterCallback(LevelCritical, m.handleCritical)
	monitor.RegisterCallback(LevelEmergency, m.handleEmergency)
	return m
}

// Start begins background monitoring.
func (m *Manager) Start(interval time.Duration) {
	m.monitor.Start(interval)
}

// Stop halts background monitoring. Degradation flags keep their values.
func (m *Manager) Stop() {
	m.monitor.Stop()
}

// Monitor exposes the underlying monitor.
func (m *Manager) Monitor() *Monitor {
	return m.monitor
}

// ShouldSkip reports whether admission control sheds the band under the
// current degradation state: emergency keeps only the critical band,
// reduced quality sheds just the premium band.
func (m *Manager) ShouldSkip(band models.PriorityBand) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.emergencyMode {
		return band != models.BandCritical
	}
	if m.qualityReduced {
		return band == models.BandPremium
	}
	return false
}

// QualityReduced reports the sticky critical-pressure flag.
func (m *Manager) QualityReduced() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.qualityReduced
}

// EmergencyMode reports the sticky emergency-pressure flag.
func (m *Manager) EmergencyMode() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.emergencyMode
}

// Reset clears both degradation flags. This is an operator action; nothing
// in the job path calls it.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.qualityReduced = false
	m.emergencyMode = false
	m.mu.Unlock()

	metrics.UpdateDegradation(false, false)
	log.Info().Msg("Degradation state reset")
}

// Status reports the flags plus the latest sample. Sample-derived fields
// stay zero with level "unknown" until the loop has observed once.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := Status{
		Active:         m.monitor.Running(),
		QualityReduced: m.qualityReduced,
		EmergencyMode:  m.emergencyMode,
	}
	m.mu.RUnlock()

	snap, sampled := m.monitor.Last()
	if !sampled {
		st.Level = "unknown"
		return st
	}

	level := m.monitor.Thresholds().LevelFor(snap.UsedPercent)
	st.UsedPercent = snap.UsedPercent
	st.UsedMB = snap.UsedMB
	st.AvailableMB = snap.AvailableMB
	st.Level = level.String()
	st.Recommendation = level.Recommendation()
	return st
}

func (m *Manager) handleWarning(snap Snapshot) {
	log.Warn().
		Float64("used_percent", snap.UsedPercent).
		Float64("available_mb", snap.AvailableMB).
		Msg("Memory warning: approaching limits")
}

func (m *Manager) handleCritical(snap Snapshot) {
	m.mu.Lock()
	already := m.qualityReduced
	m.qualityReduced = true
	emergency := m.emergencyMode
	m.mu.Unlock()

	metrics.UpdateDegradation(true, emergency)

	if !already {
		log.Error().
			Float64("used_percent", snap.UsedPercent).
			Float64("available_mb", snap.AvailableMB).
			Msg("Memory critical: premium renditions disabled for the rest of this run")
	}
}

func (m *Manager) handleEmergency(snap Snapshot) {
	m.mu.Lock()
	already := m.emergencyMode
	m.emergencyMode = true
	reduced := m.qualityReduced
	m.mu.Unlock()

	metrics.UpdateDegradation(reduced, true)

	if !already {
		log.Error().
			Float64("used_percent", snap.UsedPercent).
			Float64("available_mb", snap.AvailableMB).
			Msg("Memory emergency: only critical renditions admitted")
	}

	m.reclaim()
}

// reclaim asks the runtime to return free memory to the OS. Best effort and
// deduplicated: emergency fires every tick, but one reclamation at a time
// is plenty.
func (m *Manager) reclaim() {
	if !m.reclaiming.CompareAndSwap(false, true) {
		return
	}

	go func() {
		defer m.reclaiming.Store(false)

		debug.FreeOSMemory()

		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return
		}
		info, err := proc.MemoryInfo()
		if err != nil || info == nil {
			return
		}
		log.Warn().
			Float64("rss_mb", float64(info.RSS)/bytesPerMB).
			Float64("vms_mb", float64(info.VMS)/bytesPerMB).
			Msg("Process memory after emergency reclaim")
	}()
}
