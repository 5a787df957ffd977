package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
)

// Local serves files from directories on the local filesystem.
type Local struct {
	directoryPath  string
	archivePath    string
	duplicatesPath string
}

func NewLocal(cfg config.PathConfig) *Local {
	return &Local{
		directoryPath:  cfg.DirectoryPath,
		archivePath:    cfg.ArchivePath,
		duplicatesPath: cfg.DuplicateFilesPath,
	}
}

func (l *Local) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(l.directoryPath)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", l.directoryPath, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (l *Local) Open(_ context.Context, filename string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(l.directoryPath, filename))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	return f, nil
}

func (l *Local) CopyToArchive(_ context.Context, filename string) error {
	if err := os.MkdirAll(l.archivePath, 0o755); err != nil {
		return fmt.Errorf("archive dir: %w", err)
	}
	src := filepath.Join(l.directoryPath, filename)
	dst := filepath.Join(l.archivePath, filename)
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("archive %s: %w", filename, err)
	}
	return nil
}

func (l *Local) MoveToDuplicates(_ context.Context, filename string) error {
	if err := os.MkdirAll(l.duplicatesPath, 0o755); err != nil {
		return fmt.Errorf("duplicates dir: %w", err)
	}
	src := filepath.Join(l.directoryPath, filename)
	dst := filepath.Join(l.duplicatesPath, filename)
	if _, err := os.Stat(dst); err == nil {
		dst = filepath.Join(l.duplicatesPath, timestamped(filename, time.Now().UTC()))
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to copy and delete.
	if err := copyFile(src, dst); err != nil {
		return fmt.Errorf("move duplicate %s: %w", filename, err)
	}
	if err := os.Remove(src); err != nil {
		return fmt.Errorf("move duplicate %s: %w", filename, err)
	}
	return nil
}

func (l *Local) Delete(_ context.Context, filename string) error {
	err := os.Remove(filepath.Join(l.directoryPath, filename))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", filename, err)
	}
	return nil
}

func (l *Local) FilePath(filename string) string {
	return filepath.Join(l.directoryPath, filename)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// timestamped inserts a UTC timestamp before the combined extension so
// inventory_20240101.csv.gz becomes inventory_20240101_20240105_133000.csv.gz.
func timestamped(filename string, now time.Time) string {
	ext := combinedExt(filename)
	stem := strings.TrimSuffix(filename, ext)
	return stem + "_" + now.Format("20060102_150405") + ext
}

func combinedExt(filename string) string {
	ext := filepath.Ext(filename)
	if strings.EqualFold(ext, ".gz") {
		inner := filepath.Ext(strings.TrimSuffix(filename, ext))
		ext = inner + ext
	}
	return ext
}
