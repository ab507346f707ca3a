package archiver

import (
	"archive/zip"
	"compress/flate"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/semmidev/keeper/internal/domain"
)

type ZipArchiver struct {
	level int
}

func NewZip() *ZipArchiver {
	return &ZipArchiver{level: flate.BestCompression}
}

// Archive writes sourcePath (a directory or a single file) to destPath.
// Directory contents are stored relative to sourcePath.
func (z *ZipArchiver) Archive(ctx context.Context, sourcePath, destPath string, exclude domain.Excluder) (int64, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat source: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create dest file: %w", err)
	}

	zw := zip.NewWriter(out)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, z.level)
	})

	if info.IsDir() {
		err = z.addDir(ctx, zw, sourcePath, destPath, exclude)
	} else {
		err = z.addFile(zw, sourcePath, filepath.Base(sourcePath), info)
	}

	if cerr := zw.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to finalize archive: %w", cerr)
	}
	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close dest file: %w", cerr)
	}
	if err != nil {
		os.Remove(destPath)
		return 0, err
	}

	written, err := os.Stat(destPath)
	if err != nil {
		return 0, fmt.Errorf("failed to stat archive: %w", err)
	}
	return written.Size(), nil
}

func (z *ZipArchiver) addDir(ctx context.Context, zw *zip.Writer, root, destPath string, exclude domain.Excluder) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root || path == destPath {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if d.IsDir() {
			name += "/"
		}
		if exclude != nil && exclude.Excluded(name) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			hdr, err := zip.FileInfoHeader(info)
			if err != nil {
				return err
			}
			hdr.Name = name
			_, err = zw.CreateHeader(hdr)
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return z.addFile(zw, path, name, info)
	})
}

func (z *ZipArchiver) addFile(zw *zip.Writer, path, name string, info fs.FileInfo) error {
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	hdr.Name = name
	hdr.Method = zip.Deflate

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", name, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to compress %s: %w", name, err)
	}
	return nil
}
