package monitor

import (
	"context"
	"sort"
	"sync"
	"time"

	"PredPulse/internal/domain/models"
	"PredPulse/pkg/logger"
)

// Config holds the circuit thresholds. All of these are configuration
// inputs; nothing here is hardcoded policy.
type Config struct {
	DegradedRatio       float64       // threshold A: failure rate for degraded
	UnavailableRatio    float64       // threshold B: failure rate for unavailable
	ConsecutiveFailures int           // threshold C: consecutive model failures
	DegradedConcurrency int           // admission ceiling while degraded
	Window              time.Duration // sliding outcome window
	Cooldown            time.Duration // wait before the half-open probe
	RecomputeInterval   time.Duration // state recompute cadence
}

type outcome struct {
	at      time.Time
	ok      bool
	latency float64 // seconds
}

// Monitor aggregates per-stage outcomes into a health state and gates
// admission when the serving path is failing. It is a minimal circuit
// breaker: closed (healthy/degraded) -> open (unavailable) -> half-open
// probe -> degraded on success, reopened with backoff on failure.
type Monitor struct {
	cfg     Config
	log     *logger.Logger

	mu            sync.Mutex
	stages        map[string][]outcome
	state         models.HealthState
	consecutive   int
	inFlight      int
	probePending  bool
	cooldownUntil time.Time
	backoff       time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor in the healthy state.
func New(cfg Config, log *logger.Logger) *Monitor {
	if cfg.DegradedConcurrency <= 0 {
		cfg.DegradedConcurrency = 4
	}
	return &Monitor{
		cfg:    cfg,
		log:    log,
		stages: make(map[string][]outcome),
		state:  models.StateHealthy,
	}
}

// Start launches the periodic state recompute loop. The loop stops when ctx
// is cancelled or Close is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.RecomputeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.mu.Lock()
				m.recomputeLocked()
				m.mu.Unlock()
			}
		}
	}()
}

// Close stops the recompute loop.
func (m *Monitor) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

// Allow gates admission of one cache-miss computation. Every nil return must
// be paired with exactly one Record for StageCompute. While unavailable, one
// probe request per cooldown is let through half-open.
func (m *Monitor) Allow() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case models.StateUnavailable:
		if !m.probePending && !time.Now().Before(m.cooldownUntil) {
			m.probePending = true
			m.inFlight++
			return nil
		}
		return models.ServiceDegradedError("admission refused: service unavailable")
	case models.StateDegraded:
		if m.inFlight >= m.cfg.DegradedConcurrency {
			return models.ServiceDegradedError("admission refused: degraded concurrency ceiling reached")
		}
	}
	m.inFlight++
	return nil
}

// Record registers one stage outcome with its latency.
func (m *Monitor) Record(stage string, err error, latencySeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stages[stage] = append(m.stages[stage], outcome{
		at:      time.Now(),
		ok:      err == nil,
		latency: latencySeconds,
	})

	if stage == models.StageCompute && m.inFlight > 0 {
		m.inFlight--
	}

	if stage == models.StageModel {
		m.recordModelLocked(err)
	}
}

func (m *Monitor) recordModelLocked(err error) {
	if err == nil {
		m.consecutive = 0
	} else {
		m.consecutive++
	}

	if m.state == models.StateUnavailable {
		if !m.probePending {
			return
		}
		m.probePending = false
		if err == nil {
			// Probe succeeded; drop the poisoned window and reopen halfway.
			m.stages = make(map[string][]outcome)
			m.consecutive = 0
			m.backoff = m.cfg.Cooldown
			m.state = models.StateDegraded
			if m.log != nil {
				m.log.Info("probe succeeded, circuit half-closed", logger.String("state", string(m.state)))
			}
			return
		}
		if m.backoff < 10*m.cfg.Cooldown {
			m.backoff *= 2
		}
		m.cooldownUntil = time.Now().Add(m.backoff)
		if m.log != nil {
			m.log.Warn("probe failed, cooldown restarted", logger.Duration("backoff", m.backoff))
		}
		return
	}

	if m.cfg.ConsecutiveFailures > 0 && m.consecutive >= m.cfg.ConsecutiveFailures {
		m.tripLocked("consecutive model failures")
	}
}

func (m *Monitor) tripLocked(reason string) {
	if m.state == models.StateUnavailable {
		return
	}
	m.state = models.StateUnavailable
	m.backoff = m.cfg.Cooldown
	m.cooldownUntil = time.Now().Add(m.cfg.Cooldown)
	m.probePending = false
	if m.log != nil {
		m.log.Warn("circuit opened", logger.String("reason", reason))
	}
}

// recomputeLocked prunes windows and rederives the state from failure rates.
// An open circuit is left alone; it only closes through the probe path.
func (m *Monitor) recomputeLocked() {
	cutoff := time.Now().Add(-m.cfg.Window)
	worst := 0.0
	for stage, outs := range m.stages {
		pruned := outs[:0]
		for _, o := range outs {
			if o.at.After(cutoff) {
				pruned = append(pruned, o)
			}
		}
		m.stages[stage] = pruned

		if len(pruned) == 0 {
			continue
		}
		failures := 0
		for _, o := range pruned {
			if !o.ok {
				failures++
			}
		}
		if ratio := float64(failures) / float64(len(pruned)); ratio > worst {
			worst = ratio
		}
	}

	if m.state == models.StateUnavailable {
		return
	}

	switch {
	case worst >= m.cfg.UnavailableRatio:
		m.tripLocked("failure rate over unavailable threshold")
	case worst >= m.cfg.DegradedRatio:
		m.state = models.StateDegraded
	default:
		m.state = models.StateHealthy
	}
}

// State returns the current derived state.
func (m *Monitor) State() models.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns current rolling counters and state.
func (m *Monitor) Snapshot() models.HealthSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := models.HealthSnapshot{
		State:       m.state,
		Stages:      make(map[string]models.StageStats, len(m.stages)),
		Consecutive: m.consecutive,
		ComputedAt:  time.Now(),
	}
	cutoff := time.Now().Add(-m.cfg.Window)
	for stage, outs := range m.stages {
		var st models.StageStats
		latencies := make([]float64, 0, len(outs))
		for _, o := range outs {
			if !o.at.After(cutoff) {
				continue
			}
			if o.ok {
				st.Success++
			} else {
				st.Failure++
			}
			latencies = append(latencies, o.latency)
		}
		st.P95LatencyMS = p95(latencies) * 1000
		snap.Stages[stage] = st
	}
	return snap
}

func p95(latencies []float64) float64 {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]float64, len(latencies))
	copy(sorted, latencies)
	sort.Float64s(sorted)
	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
