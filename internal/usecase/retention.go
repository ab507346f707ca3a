package usecase

import (
	"context"
	"os"
	"sync"

	"github.com/semmidev/keeper/internal/domain"
)

// Evict keeps the newest max records, preserving order, and returns the
// older ones separately. max below one is treated as one so the newest
// archive is never dropped.
func Evict(records []domain.BackupRecord, max int) (kept, evicted []domain.BackupRecord) {
	if max < 1 {
		max = 1
	}
	if len(records) <= max {
		return records, nil
	}
	n := len(records) - max
	evicted = append([]domain.BackupRecord(nil), records[:n]...)
	kept = append([]domain.BackupRecord(nil), records[n:]...)
	return kept, evicted
}

// Retention deletes evicted archives from the target directory and from
// every mirror.
type Retention struct {
	uploadTargets []UploadTarget
	logger        Logger
}

func NewRetention(uploadTargets []UploadTarget, logger Logger) *Retention {
	return &Retention{
		uploadTargets: uploadTargets,
		logger:        logger,
	}
}

// Execute removes the archives of evicted records and returns how many
// local files were deleted. Failures are logged and skipped.
func (uc *Retention) Execute(ctx context.Context, instance string, evicted []domain.BackupRecord) int {
	if len(evicted) == 0 {
		return 0
	}

	deleted := 0
	for _, rec := range evicted {
		if err := os.Remove(rec.FilePath); err != nil && !os.IsNotExist(err) {
			uc.logger.Errorf("[%s] Failed to delete old backup %s: %v", instance, rec.FileName, err)
			continue
		}
		deleted++
		uc.logger.Infof("[%s] Deleted old backup: %s", instance, rec.FileName)
	}

	if len(uc.uploadTargets) > 0 {
		uc.cleanupTargets(ctx, instance, evicted)
	}
	return deleted
}

func (uc *Retention) cleanupTargets(ctx context.Context, instance string, evicted []domain.BackupRecord) {
	var wg sync.WaitGroup

	for _, target := range uc.uploadTargets {
		wg.Add(1)
		go func(t UploadTarget) {
			defer wg.Done()

			for _, rec := range evicted {
				if err := t.Mirror.Delete(ctx, rec.FileName); err != nil {
					uc.logger.Errorf("[%s] Failed to delete %s from %s: %v", instance, rec.FileName, t.Name, err)
				}
			}
		}(target)
	}

	wg.Wait()
}
