package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/semmidev/keeper/internal/domain"
)

const (
	InstancesFile = "instances.json"
	MonitorsFile  = "uptime-monitors.json"
	HistoryFile   = "uptime-history.json"
)

// collection is one JSON snapshot file. Every load-mutate-save cycle runs
// under mu.
type collection struct {
	path string
	mu   sync.Mutex
	// fingerprint of the last content this process wrote or read
	fp string
	// set when a load finds content this process did not write; cleared
	// by TakeExternal
	external bool
}

func (c *collection) load(v any) error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filepath.Base(c.path), err)
	}
	if sum := fingerprint(data); sum != c.fp {
		c.fp = sum
		c.external = true
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", filepath.Base(c.path), err)
	}
	return nil
}

func (c *collection) save(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(c.path), err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(c.path), err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(c.path), err)
	}
	c.fp = fingerprint(data)
	return nil
}

func (c *collection) ensure(empty string) error {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		if err := os.WriteFile(c.path, []byte(empty), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", filepath.Base(c.path), err)
		}
		c.fp = fingerprint([]byte(empty))
		return nil
	}
	if err != nil {
		return err
	}
	c.fp = fingerprint(data)
	return nil
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// JSONStore keeps each collection as a whole-file JSON snapshot in dir.
type JSONStore struct {
	dir       string
	instances *collection
	monitors  *collection
	history   *collection
}

func NewJSON(dir string) (*JSONStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &JSONStore{
		dir:       dir,
		instances: &collection{path: filepath.Join(dir, InstancesFile)},
		monitors:  &collection{path: filepath.Join(dir, MonitorsFile)},
		history:   &collection{path: filepath.Join(dir, HistoryFile)},
	}
	for c, empty := range map[*collection]string{s.instances: "[]", s.monitors: "[]", s.history: "{}"} {
		if err := c.ensure(empty); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *JSONStore) Dir() string { return s.dir }

func (s *JSONStore) byName(name string) *collection {
	switch name {
	case InstancesFile:
		return s.instances
	case MonitorsFile:
		return s.monitors
	case HistoryFile:
		return s.history
	default:
		return nil
	}
}

// Fingerprint returns the hash of the content this store last wrote to, or
// read from, the named collection file.
func (s *JSONStore) Fingerprint(name string) (string, bool) {
	c := s.byName(name)
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fp, true
}

// TakeExternal reports whether the store has read content of the named
// file that it did not write itself since the previous call. A later write
// by the store hides such an edit from a plain fingerprint comparison.
func (s *JSONStore) TakeExternal(name string) bool {
	c := s.byName(name)
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := c.external
	c.external = false
	return seen
}

// FingerprintFile hashes the current content of path.
func FingerprintFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return fingerprint(data), nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) ListInstances(ctx context.Context) ([]domain.BackupInstance, error) {
	s.instances.mu.Lock()
	defer s.instances.mu.Unlock()

	var list []domain.BackupInstance
	if err := s.instances.load(&list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *JSONStore) GetInstance(ctx context.Context, id string) (*domain.BackupInstance, error) {
	list, err := s.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, domain.NotFound("instance", id)
}

func (s *JSONStore) PutInstance(ctx context.Context, inst domain.BackupInstance) error {
	s.instances.mu.Lock()
	defer s.instances.mu.Unlock()

	var list []domain.BackupInstance
	if err := s.instances.load(&list); err != nil {
		return err
	}
	replaced := false
	for i := range list {
		if list[i].ID == inst.ID {
			list[i] = inst
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, inst)
	}
	return s.instances.save(list)
}

func (s *JSONStore) DeleteInstance(ctx context.Context, id string) error {
	s.instances.mu.Lock()
	defer s.instances.mu.Unlock()

	var list []domain.BackupInstance
	if err := s.instances.load(&list); err != nil {
		return err
	}
	for i := range list {
		if list[i].ID == id {
			list = append(list[:i], list[i+1:]...)
			return s.instances.save(list)
		}
	}
	return domain.NotFound("instance", id)
}

func (s *JSONStore) UpdateInstance(ctx context.Context, id string, fn func(*domain.BackupInstance) error) (*domain.BackupInstance, error) {
	s.instances.mu.Lock()
	defer s.instances.mu.Unlock()

	var list []domain.BackupInstance
	if err := s.instances.load(&list); err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID != id {
			continue
		}
		updated := list[i]
		updated.Backups = append([]domain.BackupRecord(nil), list[i].Backups...)
		if err := fn(&updated); err != nil {
			return nil, err
		}
		list[i] = updated
		if err := s.instances.save(list); err != nil {
			return nil, err
		}
		return &updated, nil
	}
	return nil, domain.NotFound("instance", id)
}

func (s *JSONStore) ListMonitors(ctx context.Context) ([]domain.UptimeMonitor, error) {
	s.monitors.mu.Lock()
	defer s.monitors.mu.Unlock()

	var list []domain.UptimeMonitor
	if err := s.monitors.load(&list); err != nil {
		return nil, err
	}
	return list, nil
}

func (s *JSONStore) GetMonitor(ctx context.Context, id string) (*domain.UptimeMonitor, error) {
	list, err := s.ListMonitors(ctx)
	if err != nil {
		return nil, err
	}
	for i := range list {
		if list[i].ID == id {
			return &list[i], nil
		}
	}
	return nil, domain.NotFound("monitor", id)
}

func (s *JSONStore) PutMonitor(ctx context.Context, m domain.UptimeMonitor) error {
	s.monitors.mu.Lock()
	defer s.monitors.mu.Unlock()

	var list []domain.UptimeMonitor
	if err := s.monitors.load(&list); err != nil {
		return err
	}
	replaced := false
	for i := range list {
		if list[i].ID == m.ID {
			list[i] = m
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, m)
	}
	return s.monitors.save(list)
}

func (s *JSONStore) DeleteMonitor(ctx context.Context, id string) error {
	s.monitors.mu.Lock()
	defer s.monitors.mu.Unlock()

	var list []domain.UptimeMonitor
	if err := s.monitors.load(&list); err != nil {
		return err
	}
	for i := range list {
		if list[i].ID == id {
			list = append(list[:i], list[i+1:]...)
			return s.monitors.save(list)
		}
	}
	return domain.NotFound("monitor", id)
}

func (s *JSONStore) AppendHistory(ctx context.Context, monitorID string, e domain.HistoryEntry, limit int) error {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	history := map[string][]domain.HistoryEntry{}
	if err := s.history.load(&history); err != nil {
		return err
	}
	if history == nil {
		history = map[string][]domain.HistoryEntry{}
	}
	entries := append(history[monitorID], e)
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	history[monitorID] = entries
	return s.history.save(history)
}

func (s *JSONStore) History(ctx context.Context, monitorID string) ([]domain.HistoryEntry, error) {
	s.history.mu.Lock()
	defer s.history.mu.Unlock()

	history := map[string][]domain.HistoryEntry{}
	if err := s.history.load(&history); err != nil {
		return nil, err
	}
	return history[monitorID], nil
}
