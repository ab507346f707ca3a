package usecase

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/semmidev/keeper/internal/domain"
)

const DefaultHistoryLimit = 1000

type ProbeMetrics interface {
	ObserveProbe(monitor, protocol string, up bool, latency time.Duration)
	ForgetMonitor(monitor string)
}

// Uptime probes monitors and owns their in-memory current state.
type Uptime struct {
	history           domain.HistoryRepository
	prober            domain.Prober
	notifier          domain.Notifier
	metrics           ProbeMetrics
	logger            Logger
	historyLimit      int
	notifyTransitions bool
	now               func() time.Time

	mu     sync.RWMutex
	states map[string]domain.CurrentState
	// ids forgotten after deletion; a probe still in flight for one of
	// them records nothing.
	forgotten map[string]struct{}
}

func NewUptime(
	history domain.HistoryRepository,
	prober domain.Prober,
	notifier domain.Notifier,
	metrics ProbeMetrics,
	logger Logger,
	historyLimit int,
	notifyTransitions bool,
) *Uptime {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	if historyLimit < 1 {
		historyLimit = DefaultHistoryLimit
	}
	return &Uptime{
		history:           history,
		prober:            prober,
		notifier:          notifier,
		metrics:           metrics,
		logger:            logger,
		historyLimit:      historyLimit,
		notifyTransitions: notifyTransitions,
		now:               time.Now,
		states:            make(map[string]domain.CurrentState),
		forgotten:         make(map[string]struct{}),
	}
}

// Check probes m, stores the outcome as the current state and appends it to
// the history. Failures of any kind, including a panicking prober, count as
// down; Check itself never fails.
func (uc *Uptime) Check(ctx context.Context, m domain.UptimeMonitor) domain.CurrentState {
	up, latency := uc.probe(ctx, m)

	now := uc.now().UTC()
	state := domain.CurrentState{Status: domain.StatusDown, LastCheck: &now}
	entry := domain.HistoryEntry{Timestamp: now, Status: domain.StatusDown}
	if up {
		rt := latency.Milliseconds()
		state.Status = domain.StatusUp
		state.ResponseTime = &rt
		entry.Status = domain.StatusUp
		entry.ResponseTime = &rt
	}

	uc.mu.Lock()
	if _, gone := uc.forgotten[m.ID]; gone {
		uc.mu.Unlock()
		return state
	}
	prev := uc.states[m.ID].Status
	uc.states[m.ID] = state
	uc.mu.Unlock()

	if err := uc.history.AppendHistory(ctx, m.ID, entry, uc.historyLimit); err != nil {
		uc.logger.Errorf("Failed to save check result for %s: %v", m.Name, err)
	}
	uc.metrics.ObserveProbe(m.ID, string(m.Protocol), up, latency)

	if up {
		uc.logger.Infof("Monitor %s: UP (%dms)", m.Name, *state.ResponseTime)
	}
	if uc.notifyTransitions && isTransition(prev, state.Status) {
		uc.notify(ctx, transitionMessage(m, state))
	}
	return state
}

func (uc *Uptime) probe(ctx context.Context, m domain.UptimeMonitor) (up bool, latency time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Errorf("Monitor %s: probe panicked: %v", m.Name, r)
			up, latency = false, 0
		}
	}()

	took, err := uc.prober.Probe(ctx, m)
	if err != nil {
		uc.logger.Warnf("Monitor %s: DOWN (%v)", m.Name, err)
		return false, 0
	}
	return true, took
}

func isTransition(prev, next domain.Status) bool {
	return (prev == domain.StatusUp && next == domain.StatusDown) ||
		(prev == domain.StatusDown && next == domain.StatusUp)
}

func transitionMessage(m domain.UptimeMonitor, s domain.CurrentState) string {
	target := fmt.Sprintf("%s:%d", m.Host, m.Port)
	if s.Status == domain.StatusUp {
		return fmt.Sprintf("🟢 %s is UP\n\n🌐 %s (%s)\n⏱ %dms", m.Name, target, m.Protocol, *s.ResponseTime)
	}
	return fmt.Sprintf("🔴 %s is DOWN\n\n🌐 %s (%s)", m.Name, target, m.Protocol)
}

func (uc *Uptime) notify(ctx context.Context, message string) {
	if err := uc.notifier.Notify(ctx, message); err != nil {
		uc.logger.Warnf("Failed to send notification: %v", err)
	}
}

// Track starts reporting id as unknown unless a state is already held.
func (uc *Uptime) Track(id string) {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	delete(uc.forgotten, id)
	if _, ok := uc.states[id]; !ok {
		uc.states[id] = domain.CurrentState{Status: domain.StatusUnknown}
	}
}

// Forget drops the state of a deleted monitor.
func (uc *Uptime) Forget(id string) {
	uc.mu.Lock()
	delete(uc.states, id)
	uc.forgotten[id] = struct{}{}
	uc.mu.Unlock()

	uc.metrics.ForgetMonitor(id)
}

// State returns the current state of id, unknown if it was never probed.
func (uc *Uptime) State(id string) domain.CurrentState {
	uc.mu.RLock()
	defer uc.mu.RUnlock()

	s, ok := uc.states[id]
	if !ok {
		return domain.CurrentState{Status: domain.StatusUnknown}
	}
	return s
}

// History returns the entries of the last hours hours, oldest first, and
// their statistics. hours <= 0 means 24.
func (uc *Uptime) History(ctx context.Context, id string, hours int) (*domain.HistoryReport, error) {
	if hours <= 0 {
		hours = 24
	}
	all, err := uc.history.History(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	now := uc.now()
	cutoff := now.Add(-time.Duration(hours) * time.Hour)

	window := make([]domain.HistoryEntry, 0, len(all))
	for _, e := range all {
		if e.Timestamp.Before(cutoff) || e.Timestamp.After(now) {
			continue
		}
		window = append(window, e)
	}

	return &domain.HistoryReport{History: window, Stats: Stats(window)}, nil
}

// Stats summarises entries: uptime percentage rounded to two decimals and
// the mean of the recorded response times rounded to whole milliseconds.
func Stats(entries []domain.HistoryEntry) domain.HistoryStats {
	var (
		stats   domain.HistoryStats
		sum     int64
		samples int64
	)
	stats.TotalChecks = len(entries)
	for _, e := range entries {
		if e.Status == domain.StatusUp {
			stats.UpChecks++
		}
		if e.ResponseTime != nil {
			sum += *e.ResponseTime
			samples++
		}
	}
	stats.DownChecks = stats.TotalChecks - stats.UpChecks

	if stats.TotalChecks > 0 {
		pct := float64(stats.UpChecks) / float64(stats.TotalChecks) * 100
		stats.UptimePercentage = math.Round(pct*100) / 100
	}
	if samples > 0 {
		avg := int64(math.Round(float64(sum) / float64(samples)))
		stats.AvgResponseTime = &avg
	}
	return stats
}
