package domain

import "context"

type InstanceRepository interface {
	ListInstances(ctx context.Context) ([]BackupInstance, error)
	GetInstance(ctx context.Context, id string) (*BackupInstance, error)
	PutInstance(ctx context.Context, inst BackupInstance) error
	DeleteInstance(ctx context.Context, id string) error
	// UpdateInstance runs fn on the stored instance and persists the result
	// as one critical section. The updated instance is returned.
	UpdateInstance(ctx context.Context, id string, fn func(*BackupInstance) error) (*BackupInstance, error)
}

type MonitorRepository interface {
	ListMonitors(ctx context.Context) ([]UptimeMonitor, error)
	GetMonitor(ctx context.Context, id string) (*UptimeMonitor, error)
	PutMonitor(ctx context.Context, m UptimeMonitor) error
	DeleteMonitor(ctx context.Context, id string) error
}

type HistoryRepository interface {
	// AppendHistory appends e and keeps only the newest limit entries.
	AppendHistory(ctx context.Context, monitorID string, e HistoryEntry, limit int) error
	History(ctx context.Context, monitorID string) ([]HistoryEntry, error)
}

// Store is the full persistence surface.
type Store interface {
	InstanceRepository
	MonitorRepository
	HistoryRepository
	Close() error
}

// Mirror is an additional destination that receives a copy of every archive.
type Mirror interface {
	Upload(ctx context.Context, localPath string, remoteName string) error
	Delete(ctx context.Context, remoteName string) error
}

// Notifier delivers operator messages.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) error { return nil }
