package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/semmidev/keeper/internal/domain"
)

const (
	backupPrefix  = "backup:"
	monitorPrefix = "monitor:"
)

// JobRegistry holds at most one recurring job per key.
type JobRegistry interface {
	Schedule(key, spec string, job func(context.Context) error) error
	Cancel(key string) bool
	CancelAll()
	Validate(spec string) error
}

// Controller keeps the registry in line with the persisted instances and
// monitors.
type Controller struct {
	registry  JobRegistry
	instances domain.InstanceRepository
	monitors  domain.MonitorRepository
	backup    domain.BackupExecutor
	uptime    *Uptime
	logger    Logger

	// monitorSpec turns a monitor interval into a trigger.
	monitorSpec func(minutes int) string

	mu   sync.Mutex
	keys map[string]struct{}

	// first probes started outside the registry
	probes sync.WaitGroup
}

func NewController(
	registry JobRegistry,
	instances domain.InstanceRepository,
	monitors domain.MonitorRepository,
	backup domain.BackupExecutor,
	uptime *Uptime,
	logger Logger,
) *Controller {
	return &Controller{
		registry:    registry,
		instances:   instances,
		monitors:    monitors,
		backup:      backup,
		uptime:      uptime,
		logger:      logger,
		monitorSpec: MonitorTrigger,
		keys:        make(map[string]struct{}),
	}
}

func instanceKey(id string) string { return backupPrefix + id }
func monitorKey(id string) string { return monitorPrefix + id }

// ValidateTrigger reports whether a backup interval yields a usable trigger.
func (c *Controller) ValidateTrigger(interval string) error {
	if err := c.registry.Validate(BackupTrigger(interval)); err != nil {
		return domain.Invalid("interval", err.Error())
	}
	return nil
}

// ScheduleInstance registers or replaces the backup job of inst.
func (c *Controller) ScheduleInstance(inst domain.BackupInstance) error {
	key := instanceKey(inst.ID)
	spec := BackupTrigger(inst.Interval)

	err := c.registry.Schedule(key, spec, func(ctx context.Context) error {
		_, err := c.backup.Run(ctx, inst)
		return err
	})
	if err != nil {
		return fmt.Errorf("schedule backup %s: %w", inst.Name, err)
	}

	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()

	c.logger.Infof("Scheduled backup for %s with interval: %s", inst.Name, inst.Interval)
	return nil
}

// ScheduleMonitor registers or replaces the probe job of m and starts an
// immediate first probe in the background.
func (c *Controller) ScheduleMonitor(m domain.UptimeMonitor) error {
	key := monitorKey(m.ID)
	c.uptime.Track(m.ID)

	err := c.registry.Schedule(key, c.monitorSpec(m.Interval), func(ctx context.Context) error {
		c.uptime.Check(ctx, m)
		return nil
	})
	if err != nil {
		return fmt.Errorf("schedule monitor %s: %w", m.Name, err)
	}

	c.mu.Lock()
	c.keys[key] = struct{}{}
	c.mu.Unlock()

	c.probes.Add(1)
	go func() {
		defer c.probes.Done()
		c.uptime.Check(context.Background(), m)
	}()
	return nil
}

// Wait blocks until every first probe started by ScheduleMonitor returns.
func (c *Controller) Wait() {
	c.probes.Wait()
}

func (c *Controller) UnscheduleInstance(id string) {
	c.unschedule(instanceKey(id))
}

// UnscheduleMonitor cancels the probe job of id and drops its state.
func (c *Controller) UnscheduleMonitor(id string) {
	c.unschedule(monitorKey(id))
	c.uptime.Forget(id)
}

func (c *Controller) unschedule(key string) {
	c.registry.Cancel(key)

	c.mu.Lock()
	delete(c.keys, key)
	c.mu.Unlock()
}

// ReloadAll cancels every job and registers one per persisted instance and
// monitor.
func (c *Controller) ReloadAll(ctx context.Context) error {
	c.registry.CancelAll()
	c.mu.Lock()
	c.keys = make(map[string]struct{})
	c.mu.Unlock()

	if err := c.ReloadInstances(ctx); err != nil {
		return err
	}
	return c.ReloadMonitors(ctx)
}

// ReloadInstances re-registers every persisted instance and cancels the jobs
// of instances that no longer exist.
func (c *Controller) ReloadInstances(ctx context.Context) error {
	list, err := c.instances.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("load instances: %w", err)
	}

	live := make(map[string]struct{}, len(list))
	for _, inst := range list {
		live[instanceKey(inst.ID)] = struct{}{}
		if err := c.ScheduleInstance(inst); err != nil {
			c.logger.Errorf("Error scheduling backup for %s: %v", inst.Name, err)
		}
	}
	for _, id := range c.stale(backupPrefix, live) {
		c.UnscheduleInstance(id)
	}

	c.logger.Infof("Scheduled %d backup jobs", len(list))
	return nil
}

// ReloadMonitors re-registers every persisted monitor and cancels the jobs
// of monitors that no longer exist.
func (c *Controller) ReloadMonitors(ctx context.Context) error {
	list, err := c.monitors.ListMonitors(ctx)
	if err != nil {
		return fmt.Errorf("load monitors: %w", err)
	}

	live := make(map[string]struct{}, len(list))
	for _, m := range list {
		live[monitorKey(m.ID)] = struct{}{}
		if err := c.ScheduleMonitor(m); err != nil {
			c.logger.Errorf("Error scheduling monitor %s: %v", m.Name, err)
		}
	}
	for _, id := range c.stale(monitorPrefix, live) {
		c.UnscheduleMonitor(id)
	}

	c.logger.Infof("Scheduled %d uptime monitors", len(list))
	return nil
}

// stale returns the ids registered under prefix that are not in live.
func (c *Controller) stale(prefix string, live map[string]struct{}) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var ids []string
	for key := range c.keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, ok := live[key]; !ok {
			ids = append(ids, strings.TrimPrefix(key, prefix))
		}
	}
	return ids
}
