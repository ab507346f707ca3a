package storage

import (
	"context"
	"fmt"

	"github.com/semmidev/keeper/internal/config"
	"github.com/semmidev/keeper/internal/domain"
)

// NewMirror builds the mirror described by cfg.
func NewMirror(ctx context.Context, cfg *config.MirrorConfig) (domain.Mirror, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3(ctx, cfg)
	case "gdrive":
		return NewGDrive(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown mirror type: %s", cfg.Type)
	}
}
