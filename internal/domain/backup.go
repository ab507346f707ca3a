package domain

import (
	"context"
	"time"
)

// BackupInstance is a source directory archived on a schedule.
type BackupInstance struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	SourcePath string         `json:"sourcePath"`
	TargetPath string         `json:"targetPath"`
	Interval   string         `json:"interval"`
	MaxBackups int            `json:"maxBackups"`
	LastBackup *time.Time     `json:"lastBackup"`
	Size       int64          `json:"size"`
	Backups    []BackupRecord `json:"backups"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// BackupRecord describes one archive kept for an instance.
type BackupRecord struct {
	FileName  string    `json:"fileName"`
	FilePath  string    `json:"filePath"`
	Size      int64     `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// InstanceInput holds the user-editable fields of a BackupInstance.
type InstanceInput struct {
	Name       string `json:"name" validate:"required,excludesall=/"`
	SourcePath string `json:"sourcePath" validate:"required"`
	TargetPath string `json:"targetPath" validate:"required"`
	Interval   string `json:"interval" validate:"required"`
	MaxBackups int    `json:"maxBackups" validate:"min=1,max=5"`
}

// Apply copies the input onto inst.
func (in InstanceInput) Apply(inst *BackupInstance) {
	inst.Name = in.Name
	inst.SourcePath = in.SourcePath
	inst.TargetPath = in.TargetPath
	inst.Interval = in.Interval
	inst.MaxBackups = in.MaxBackups
}

// Archiver writes a compressed archive of sourcePath to destPath and
// returns the size of the written archive.
type Archiver interface {
	Archive(ctx context.Context, sourcePath, destPath string, exclude Excluder) (int64, error)
}

// Excluder decides whether an archive entry is skipped. rel is the
// slash-separated path relative to the archive root; directories end in "/".
type Excluder interface {
	Excluded(rel string) bool
}

type BackupExecutor interface {
	Run(ctx context.Context, inst BackupInstance) (*BackupRecord, error)
}
