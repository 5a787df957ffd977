// Package storage abstracts where inbound files live. The pipeline only
// needs to list a directory, stream a file, archive it, quarantine
// duplicates, and delete the source once an attempt closes.
package storage

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/cmgoffena13/etl-file-loader/internal/config"
)

// Store is implemented per platform. Paths passed to the methods are
// plain filenames relative to the configured directories.
type Store interface {
	// List returns the filenames in the inbound directory, skipping
	// subdirectories and dotfiles.
	List(ctx context.Context) ([]string, error)
	// Open streams the named inbound file.
	Open(ctx context.Context, filename string) (io.ReadCloser, error)
	// CopyToArchive copies the inbound file into the archive directory,
	// overwriting any previous archive copy of the same name.
	CopyToArchive(ctx context.Context, filename string) error
	// MoveToDuplicates moves the inbound file into the duplicates
	// directory, renaming on collision so nothing is clobbered.
	MoveToDuplicates(ctx context.Context, filename string) error
	// Delete removes the inbound file. Deleting a file that is already
	// gone is not an error.
	Delete(ctx context.Context, filename string) error
	// FilePath reports the full location of the named inbound file,
	// used for lineage and log records.
	FilePath(filename string) string
}

// New selects a Store from the configured paths and platform. Cloud
// URIs in the directory path win over the platform setting so a local
// default never shadows an explicit s3:// path.
func New(ctx context.Context, cfg config.PathConfig, platform string, region string) (Store, error) {
	scheme := uriScheme(cfg.DirectoryPath)
	switch {
	case scheme == "s3" || (scheme == "" && platform == "aws"):
		return newS3Store(ctx, cfg, region)
	case scheme == "gs" || platform == "gcp":
		return nil, fmt.Errorf("storage: gcp platform not supported yet")
	case scheme == "azure" || scheme == "https" || platform == "azure":
		return nil, fmt.Errorf("storage: azure platform not supported yet")
	case scheme != "":
		return nil, fmt.Errorf("storage: unrecognized scheme %q", scheme)
	default:
		return NewLocal(cfg), nil
	}
}

func uriScheme(path string) string {
	i := strings.Index(path, "://")
	if i < 0 {
		return ""
	}
	return strings.ToLower(path[:i])
}
