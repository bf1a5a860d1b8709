package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/hlsmill/hlsmill/internal/metrics"
)

const (
	// DefaultSampleInterval is how often the monitor reads system memory.
	DefaultSampleInterval = 5 * time.Second
	// DefaultStopWait bounds how long Stop waits for the sampling loop to
	// exit before giving up.
	DefaultStopWait = 10 * time.Second

	sampleTimeout = 3 * time.Second
	bytesPerMB    = 1024 * 1024
)

// Level classifies system memory pressure.
type Level int

const (
	LevelNormal Level = iota
	LevelWarning
	LevelCritical
	LevelEmergency
)

func (l Level) String() string {
	switch l {
	case LevelNormal:
		return "normal"
	case LevelWarning:
		return "warning"
	case LevelCritical:
		return "critical"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Recommendation returns the operator guidance string reported for the
// level on the status endpoint.
func (l Level) Recommendation() string {
	switch l {
	case LevelWarning:
		return "MONITOR_CLOSELY"
	case LevelCritical:
		return "REDUCE_QUALITY"
	case LevelEmergency:
		return "EMERGENCY_CLEANUP"
	default:
		return "NORMAL"
	}
}

// Thresholds are the used-percent boundaries between pressure levels.
// Boundaries are inclusive: usage exactly at a threshold is at that level.
type Thresholds struct {
	WarningPercent   float64 `json:"warning_percent"`
	CriticalPercent  float64 `json:"critical_percent"`
	EmergencyPercent float64 `json:"emergency_percent"`
}

// DefaultThresholds returns the standard 70/85/95 boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarningPercent:   70,
		CriticalPercent:  85,
		EmergencyPercent: 95,
	}
}

// LevelFor classifies a usage percentage.
func (t Thresholds) LevelFor(usedPercent float64) Level {
	switch {
	case usedPercent >= t.EmergencyPercent:
		return LevelEmergency
	case usedPercent >= t.CriticalPercent:
		return LevelCritical
	case usedPercent >= t.WarningPercent:
		return LevelWarning
	default:
		return LevelNormal
	}
}

// Snapshot is one observation of system memory.
type Snapshot struct {
	TotalMB     float64   `json:"total_mb"`
	UsedMB      float64   `json:"used_mb"`
	AvailableMB float64   `json:"available_mb"`
	UsedPercent float64   `json:"used_percent"`
	Timestamp   time.Time `json:"timestamp"`
}

// Callback receives the snapshot that triggered a pressure level. Callbacks
// run on the monitor goroutine and must return quickly or hand off.
type Callback func(Snapshot)

// SampleFunc produces one snapshot of memory state.
type SampleFunc func(ctx context.Context) (Snapshot, error)

// SystemSample reads system memory via gopsutil.
func SystemSample(ctx context.Context) (Snapshot, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read system memory: %w", err)
	}

	return Snapshot{
		TotalMB:     float64(vm.Total) / bytesPerMB,
		UsedMB:      float64(vm.Used) / bytesPerMB,
		AvailableMB: float64(vm.Available) / bytesPerMB,
		UsedPercent: vm.UsedPercent,
		Timestamp:   time.Now(),
	}, nil
}

// Monitor samples system memory on a fixed interval, classifies pressure,
// and drives per-level callbacks. Warning and critical callbacks are
// edge-triggered: they fire once per excursion and re-arm only after the
// level returns to normal. The emergency callback fires on every sample
// taken at emergency. A sampling failure logs and skips the tick; the loop
// never exits on its own.
type Monitor struct {
	thresholds Thresholds
	sample     SampleFunc
	stopWait   time.Duration

	mu            sync.Mutex
	callbacks     map[Level]Callback
	last          *Snapshot
	running       bool
	stop          chan struct{}
	done          chan struct{}
	warningFired  bool
	criticalFired bool
}

// NewMonitor creates a monitor over live system memory. Zero-value
// thresholds fall back to the defaults.
func NewMonitor(thresholds Thresholds) *Monitor {
	return NewMonitorWithSampler(thresholds, SystemSample)
}

// NewMonitorWithSampler creates a monitor with a custom sampler, e.g. a
// cgroup-aware reader or a test double.
func NewMonitorWithSampler(thresholds Thresholds, sample SampleFunc) *Monitor {
	if thresholds == (Thresholds{}) {
		thresholds = DefaultThresholds()
	}
	return &Monitor{
		thresholds: thresholds,
		sample:     sample,
		stopWait:   DefaultStopWait,
		callbacks:  make(map[Level]Callback),
	}
}

// Thresholds returns the configured level boundaries.
func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}

// SetStopWait overrides how long Stop waits for the sampling loop to exit.
func (m *Monitor) SetStopWait(d time.Duration) {
	if d > 0 {
		m.stopWait = d
	}
}

// RegisterCallback installs the callback for a pressure level, replacing
// any previous one. Register before Start.
func (m *Monitor) RegisterCallback(level Level, cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks[level] = cb
}

// Start launches the sampling loop. Starting a running monitor is a no-op.
func (m *Monitor) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSampleInterval
	}

	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		log.Warn().Msg("Memory monitor already running")
		return
	}
	m.running = true
	m.warningFired = false
	m.criticalFired = false
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	go m.loop(interval, stop, done)

	log.Info().
		Dur("interval", interval).
		Float64("warning_percent", m.thresholds.WarningPercent).
		Float64("critical_percent", m.thresholds.CriticalPercent).
		Float64("emergency_percent", m.thresholds.EmergencyPercent).
		Msg("Memory monitor started")
}

// Stop signals the loop and waits for it to exit, bounded by the stop wait.
// Stopping a stopped monitor is safe.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.stop, m.done = nil, nil
	m.mu.Unlock()

	close(stop)

	select {
	case <-done:
		log.Info().Msg("Memory monitor stopped")
	case <-time.After(m.stopWait):
		log.Warn().Dur("waited", m.stopWait).Msg("Memory monitor loop did not exit in time")
	}
}

// Running reports whether the sampling loop is active.
func (m *Monitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Current takes an on-demand snapshot without driving callbacks.
func (m *Monitor) Current(ctx context.Context) (Snapshot, error) {
	return m.sample(ctx)
}

// Last returns the most recent snapshot taken by the sampling loop.
func (m *Monitor) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return Snapshot{}, false
	}
	return *m.last, true
}

func (m *Monitor) loop(interval time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
	defer cancel()

	snap, err := m.sample(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Memory sample failed, skipping tick")
		return
	}

	m.observe(snap)
}

// observe records a snapshot and fires the callback its level is due. The
// switch is evaluated top-down: a tick spent at emergency neither fires nor
// arms the warning and critical callbacks, and dropping from critical back
// to warning does not re-arm critical.
func (m *Monitor) observe(snap Snapshot) {
	level := m.thresholds.LevelFor(snap.UsedPercent)
	metrics.UpdateMemoryUsage(snap.UsedPercent, snap.UsedMB, snap.AvailableMB, int(level))

	m.mu.Lock()
	s := snap
	m.last = &s

	var fire Callback
	switch level {
	case LevelEmergency:
		fire = m.callbacks[LevelEmergency]
	case LevelCritical:
		if !m.criticalFired {
			m.criticalFired = true
			fire = m.callbacks[LevelCritical]
		}
	case LevelWarning:
		if !m.warningFired {
			m.warningFired = true
			fire = m.callbacks[LevelWarning]
		}
	default:
		m.warningFired = false
		m.criticalFired = false
	}
	m.mu.Unlock()

	log.Debug().
		Float64("used_percent", snap.UsedPercent).
		Str("level", level.String()).
		Msg("Memory sampled")

	if fire != nil {
		metrics.RecordPressureEvent(level.String())
		fire(snap)
	}
}
