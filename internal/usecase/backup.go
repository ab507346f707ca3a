package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/keeper/internal/domain"
)

type UploadTarget struct {
	Name   string
	Mirror domain.Mirror
}

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

type BackupMetrics interface {
	ObserveBackup(instance string, took time.Duration, size int64, err error)
	ObserveEvictions(n int)
}

// Backup archives instances. Runs for the same instance are serialized,
// whether they come from the schedule or from a manual request.
type Backup struct {
	store           domain.InstanceRepository
	archiver        domain.Archiver
	exclude         domain.Excluder
	uploadTargets   []UploadTarget
	retention       *Retention
	notifier        domain.Notifier
	metrics         BackupMetrics
	logger          Logger
	notifyOnSuccess bool
	now             func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewBackup(
	store domain.InstanceRepository,
	archiver domain.Archiver,
	exclude domain.Excluder,
	uploadTargets []UploadTarget,
	notifier domain.Notifier,
	metrics BackupMetrics,
	logger Logger,
	notifyOnSuccess bool,
) *Backup {
	if notifier == nil {
		notifier = domain.NopNotifier{}
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Backup{
		store:           store,
		archiver:        archiver,
		exclude:         exclude,
		uploadTargets:   uploadTargets,
		retention:       NewRetention(uploadTargets, logger),
		notifier:        notifier,
		metrics:         metrics,
		logger:          logger,
		notifyOnSuccess: notifyOnSuccess,
		now:             time.Now,
		locks:           make(map[string]*sync.Mutex),
	}
}

// ArchiveName is the file name of an archive of instance name taken at t:
// the UTC ISO-8601 timestamp with ':' and '.' replaced by '-'.
func ArchiveName(name string, t time.Time) string {
	stamp := t.UTC().Format("2006-01-02T15:04:05.000Z")
	stamp = strings.NewReplacer(":", "-", ".", "-").Replace(stamp)
	return fmt.Sprintf("%s_%s.zip", name, stamp)
}

// Perform runs a backup of the stored instance id.
func (uc *Backup) Perform(ctx context.Context, id string) (*domain.BackupRecord, error) {
	inst, err := uc.store.GetInstance(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.Run(ctx, *inst)
}

// Run archives inst. It waits for any run of the same instance already in
// progress, then re-reads the instance so the latest paths and limits apply.
func (uc *Backup) Run(ctx context.Context, inst domain.BackupInstance) (*domain.BackupRecord, error) {
	lock := uc.lockFor(inst.ID)
	lock.Lock()
	defer lock.Unlock()

	current, err := uc.store.GetInstance(ctx, inst.ID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			uc.logger.Warnf("[%s] Instance no longer exists, skipping backup", inst.Name)
		}
		return nil, err
	}

	start := time.Now()
	rec, err := uc.execute(ctx, *current)
	took := time.Since(start)

	if err != nil {
		uc.metrics.ObserveBackup(current.ID, took, 0, err)
		uc.logger.Errorf("[%s] Backup failed: %v", current.Name, err)
		if !errors.Is(err, domain.ErrNotFound) {
			uc.notify(ctx, fmt.Sprintf("❌ Backup Failed\n\n📁 Instance: %s\n⚠️ Error: %v", current.Name, err))
		}
		return nil, err
	}

	uc.metrics.ObserveBackup(current.ID, took, rec.Size, nil)
	uc.logger.Infof("[%s] Backup completed in %s: %s", current.Name, took.Round(time.Millisecond), rec.FileName)
	if uc.notifyOnSuccess {
		uc.notify(ctx, fmt.Sprintf(
			"✅ Backup Created\n\n📁 File: %s\n📊 Size: %.2f MB\n🕐 Time: %s",
			rec.FileName,
			float64(rec.Size)/(1024*1024),
			rec.Timestamp.Local().Format("2006-01-02 15:04:05"),
		))
	}
	return rec, nil
}

func (uc *Backup) execute(ctx context.Context, inst domain.BackupInstance) (*domain.BackupRecord, error) {
	uc.logger.Infof("[%s] Starting backup...", inst.Name)

	if _, err := os.Stat(inst.SourcePath); err != nil {
		return nil, &domain.IOError{Op: "stat source", Path: inst.SourcePath, Err: err}
	}
	if err := os.MkdirAll(inst.TargetPath, 0755); err != nil {
		return nil, &domain.IOError{Op: "create target", Path: inst.TargetPath, Err: err}
	}

	at := uc.now().UTC()
	fileName := ArchiveName(inst.Name, at)
	filePath := filepath.Join(inst.TargetPath, fileName)

	size, err := uc.archiver.Archive(ctx, inst.SourcePath, filePath, uc.exclude)
	if err != nil {
		os.Remove(filePath)
		return nil, &domain.IOError{Op: "archive", Path: filePath, Err: err}
	}
	uc.logger.Infof("[%s] Archive created: %s (%.2f MB)", inst.Name, fileName, float64(size)/(1024*1024))

	rec := domain.BackupRecord{
		FileName:  fileName,
		FilePath:  filePath,
		Size:      size,
		Timestamp: at,
	}

	var evicted []domain.BackupRecord
	_, err = uc.store.UpdateInstance(ctx, inst.ID, func(stored *domain.BackupInstance) error {
		ts := rec.Timestamp
		stored.LastBackup = &ts
		stored.Size = rec.Size
		stored.Backups, evicted = Evict(append(stored.Backups, rec), stored.MaxBackups)
		return nil
	})
	if err != nil {
		os.Remove(filePath)
		if errors.Is(err, domain.ErrNotFound) {
			uc.logger.Warnf("[%s] Instance deleted during backup, discarded %s", inst.Name, fileName)
			return nil, err
		}
		return nil, fmt.Errorf("record backup: %w", err)
	}

	if len(uc.uploadTargets) > 0 {
		uc.uploadToTargets(ctx, inst.Name, filePath, fileName)
	}

	if n := uc.retention.Execute(ctx, inst.Name, evicted); n > 0 {
		uc.metrics.ObserveEvictions(n)
	}

	return &rec, nil
}

func (uc *Backup) uploadToTargets(ctx context.Context, instance, filePath, filename string) {
	var wg sync.WaitGroup

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			uc.logger.Infof("[%s] Uploading to %s...", instance, t.Name)
			if err := t.Mirror.Upload(ctx, filePath, filename); err != nil {
				uc.logger.Errorf("[%s] Failed to upload to %s: %v", instance, t.Name, err)
			} else {
				uc.logger.Infof("[%s] Successfully uploaded to %s", instance, t.Name)
			}
		}(target)
	}

	wg.Wait()
}

func (uc *Backup) notify(ctx context.Context, message string) {
	if err := uc.notifier.Notify(ctx, message); err != nil {
		uc.logger.Warnf("Failed to send notification: %v", err)
	}
}

func (uc *Backup) lockFor(id string) *sync.Mutex {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	l, ok := uc.locks[id]
	if !ok {
		l = &sync.Mutex{}
		uc.locks[id] = l
	}
	return l
}

type nopMetrics struct{}

func (nopMetrics) ObserveBackup(string, time.Duration, int64, error) {}
func (nopMetrics) ObserveEvictions(int) {}
func (nopMetrics) ObserveProbe(string, string, bool, time.Duration) {}
func (nopMetrics) ForgetMonitor(string) {}
