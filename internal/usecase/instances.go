package usecase

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/keeper/internal/domain"
)

// Instances manages backup instances and keeps their jobs registered.
type Instances struct {
	store      domain.InstanceRepository
	controller *Controller
	backup     *Backup
	logger     Logger
	now        func() time.Time
}

func NewInstances(store domain.InstanceRepository, controller *Controller, backup *Backup, logger Logger) *Instances {
	return &Instances{
		store:      store,
		controller: controller,
		backup:     backup,
		logger:     logger,
		now:        time.Now,
	}
}

func (uc *Instances) validate(in domain.InstanceInput) error {
	if err := domain.Validate(in); err != nil {
		return err
	}
	if _, err := os.Stat(in.SourcePath); err != nil {
		return domain.Invalid("sourcePath", "does not exist")
	}
	return uc.controller.ValidateTrigger(in.Interval)
}

func (uc *Instances) List(ctx context.Context) ([]domain.BackupInstance, error) {
	return uc.store.ListInstances(ctx)
}

func (uc *Instances) Get(ctx context.Context, id string) (*domain.BackupInstance, error) {
	return uc.store.GetInstance(ctx, id)
}

// Create persists a new instance and schedules its backups.
func (uc *Instances) Create(ctx context.Context, in domain.InstanceInput) (*domain.BackupInstance, error) {
	if err := uc.validate(in); err != nil {
		return nil, err
	}

	now := uc.now().UTC()
	inst := domain.BackupInstance{
		ID:        uuid.NewString(),
		Backups:   []domain.BackupRecord{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.Apply(&inst)

	if err := uc.store.PutInstance(ctx, inst); err != nil {
		return nil, err
	}
	if err := uc.controller.ScheduleInstance(inst); err != nil {
		return nil, err
	}
	uc.logger.Infof("Created instance %s (%s)", inst.Name, inst.ID)
	return &inst, nil
}

// Update replaces the editable fields of id and its trigger. Lowering
// maxBackups evicts the oldest archives right away.
func (uc *Instances) Update(ctx context.Context, id string, in domain.InstanceInput) (*domain.BackupInstance, error) {
	if err := uc.validate(in); err != nil {
		return nil, err
	}

	var evicted []domain.BackupRecord
	updated, err := uc.store.UpdateInstance(ctx, id, func(inst *domain.BackupInstance) error {
		in.Apply(inst)
		inst.UpdatedAt = uc.now().UTC()
		inst.Backups, evicted = Evict(inst.Backups, inst.MaxBackups)
		return nil
	})
	if err != nil {
		return nil, err
	}

	uc.backup.retention.Execute(ctx, updated.Name, evicted)

	if err := uc.controller.ScheduleInstance(*updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the instance and cancels its job. Archives already written
// stay on disk.
func (uc *Instances) Delete(ctx context.Context, id string) error {
	if err := uc.store.DeleteInstance(ctx, id); err != nil {
		return err
	}
	uc.controller.UnscheduleInstance(id)
	uc.logger.Infof("Deleted instance %s", id)
	return nil
}

// PerformBackup runs a backup now and returns the updated instance.
func (uc *Instances) PerformBackup(ctx context.Context, id string) (*domain.BackupInstance, error) {
	if _, err := uc.backup.Perform(ctx, id); err != nil {
		return nil, err
	}
	return uc.store.GetInstance(ctx, id)
}

// BackupFile returns the index-th recorded archive of id after checking it
// is still on disk.
func (uc *Instances) BackupFile(ctx context.Context, id string, index int) (*domain.BackupRecord, error) {
	inst, err := uc.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(inst.Backups) {
		return nil, domain.NotFound("backup", fmt.Sprintf("%s/%d", id, index))
	}

	rec := inst.Backups[index]
	if _, err := os.Stat(rec.FilePath); err != nil {
		return nil, &domain.IOError{Op: "stat backup", Path: rec.FilePath, Err: err}
	}
	return &rec, nil
}
