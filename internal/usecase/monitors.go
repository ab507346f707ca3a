package usecase

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/keeper/internal/domain"
)

// Monitors manages uptime monitors and reports their state and history.
type Monitors struct {
	store      domain.MonitorRepository
	controller *Controller
	uptime     *Uptime
	logger     Logger
	now        func() time.Time

	// serializes read-modify-write of the monitor collection
	mu sync.Mutex
}

func NewMonitors(store domain.MonitorRepository, controller *Controller, uptime *Uptime, logger Logger) *Monitors {
	return &Monitors{
		store:      store,
		controller: controller,
		uptime:     uptime,
		logger:     logger,
		now:        time.Now,
	}
}

// List returns every monitor with its current state.
func (uc *Monitors) List(ctx context.Context) ([]domain.MonitorStatus, error) {
	list, err := uc.store.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]domain.MonitorStatus, 0, len(list))
	for _, m := range list {
		out = append(out, domain.MonitorStatus{UptimeMonitor: m, CurrentStatus: uc.uptime.State(m.ID)})
	}
	return out, nil
}

// History reports the probes of the last hours hours.
func (uc *Monitors) History(ctx context.Context, id string, hours int) (*domain.HistoryReport, error) {
	if _, err := uc.store.GetMonitor(ctx, id); err != nil {
		return nil, err
	}
	return uc.uptime.History(ctx, id, hours)
}

// Add persists a new monitor, schedules it and starts a first probe.
func (uc *Monitors) Add(ctx context.Context, in domain.MonitorInput) (*domain.UptimeMonitor, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	m := domain.UptimeMonitor{
		ID:        uuid.NewString(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.Apply(&m)

	uc.mu.Lock()
	err := uc.store.PutMonitor(ctx, m)
	uc.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := uc.controller.ScheduleMonitor(m); err != nil {
		return nil, err
	}
	uc.logger.Infof("Added monitor %s (%s)", m.Name, m.ID)
	return &m, nil
}

// Update replaces the editable fields of id and reschedules it.
func (uc *Monitors) Update(ctx context.Context, id string, in domain.MonitorInput) (*domain.UptimeMonitor, error) {
	if err := domain.Validate(in); err != nil {
		return nil, err
	}

	uc.mu.Lock()
	m, err := uc.store.GetMonitor(ctx, id)
	if err == nil {
		in.Apply(m)
		m.UpdatedAt = uc.now().UTC()
		err = uc.store.PutMonitor(ctx, *m)
	}
	uc.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := uc.controller.ScheduleMonitor(*m); err != nil {
		return nil, err
	}
	return m, nil
}

// Delete removes the monitor, cancels its job and drops its state. The
// recorded history is kept.
func (uc *Monitors) Delete(ctx context.Context, id string) error {
	uc.mu.Lock()
	err := uc.store.DeleteMonitor(ctx, id)
	uc.mu.Unlock()
	if err != nil {
		return err
	}

	uc.controller.UnscheduleMonitor(id)
	uc.logger.Infof("Deleted monitor %s", id)
	return nil
}

// Check probes id now and returns the monitor with its fresh state.
func (uc *Monitors) Check(ctx context.Context, id string) (*domain.MonitorStatus, error) {
	m, err := uc.store.GetMonitor(ctx, id)
	if err != nil {
		return nil, err
	}
	state := uc.uptime.Check(ctx, *m)
	return &domain.MonitorStatus{UptimeMonitor: *m, CurrentStatus: state}, nil
}
