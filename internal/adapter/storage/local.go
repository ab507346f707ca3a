package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalMirror copies archives into a second directory, typically on another
// disk.
type LocalMirror struct {
	basePath string
}

func NewLocal(basePath string) (*LocalMirror, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create mirror directory: %w", err)
	}
	return &LocalMirror{basePath: basePath}, nil
}

func (l *LocalMirror) Upload(ctx context.Context, localPath string, remoteName string) error {
	destPath := l.GetPath(remoteName)

	source, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer source.Close()

	tmp := destPath + ".part"
	dest, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create dest: %w", err)
	}
	if _, err := io.Copy(dest, source); err != nil {
		dest.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to copy: %w", err)
	}
	if err := dest.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close dest: %w", err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return fmt.Errorf("failed to finalize copy: %w", err)
	}
	return nil
}

func (l *LocalMirror) Delete(ctx context.Context, remoteName string) error {
	if err := os.Remove(l.GetPath(remoteName)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (l *LocalMirror) GetPath(filename string) string {
	return filepath.Join(l.basePath, filename)
}
