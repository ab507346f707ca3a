package storage

import (
	"context"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/semmidev/keeper/internal/config"
)

type GDriveMirror struct {
	service  *drive.Service
	folderID string
}

func NewGDrive(ctx context.Context, cfg *config.MirrorConfig) (*GDriveMirror, error) {
	service, err := drive.NewService(ctx, option.WithCredentialsFile(cfg.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveMirror{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

func (g *GDriveMirror) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	meta := &drive.File{
		Name:     remoteName,
		Parents:  []string{g.folderID},
		MimeType: "application/zip",
	}
	if _, err := g.service.Files.Create(meta).Media(file).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}
	return nil
}

// Delete removes every file named remoteName in the folder.
func (g *GDriveMirror) Delete(ctx context.Context, remoteName string) error {
	query := nameQuery(g.folderID, remoteName)

	fileList, err := g.service.Files.List().
		Q(query).
		Fields("files(id)").
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if len(fileList.Files) == 0 {
		return fmt.Errorf("file not found: %s", remoteName)
	}

	for _, f := range fileList.Files {
		if err := g.service.Files.Delete(f.Id).Context(ctx).Do(); err != nil {
			return fmt.Errorf("failed to delete file: %w", err)
		}
	}
	return nil
}

var queryEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// nameQuery selects live files called name directly inside folderID.
// Values are escaped so names like O'Brien stay valid query strings.
func nameQuery(folderID, name string) string {
	return fmt.Sprintf("'%s' in parents and name='%s' and trashed=false",
		queryEscaper.Replace(folderID), queryEscaper.Replace(name))
}
