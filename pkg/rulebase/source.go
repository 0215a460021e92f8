package rulebase

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"
)

// FileRepositoryConfig contains configuration for the filesystem source
// repository.
type FileRepositoryConfig struct {
	// Path is the rule source file or directory to scan.
	Path string

	// Extensions is the list of recognized file extensions
	// (e.g., ".yaml", ".yml"). Files with other extensions are ignored.
	Extensions []string

	// MaxFileSize is the maximum size in bytes of a single rule source.
	MaxFileSize int64

	// SkipHidden controls whether hidden files and directories are
	// skipped during scans.
	SkipHidden bool
}

// DefaultFileRepositoryConfig returns the default repository configuration.
func DefaultFileRepositoryConfig() *FileRepositoryConfig {
	return &FileRepositoryConfig{
		Extensions:  []string{".yaml", ".yml"},
		MaxFileSize: 1048576, // 1MB
		SkipHidden:  true,
	}
}

// FileRepository is a SourceRepository over the local filesystem. It lists
// rule sources under a root path with extension filtering and validates
// size and encoding on read.
type FileRepository struct {
	config *FileRepositoryConfig
}

// NewFileRepository creates a filesystem source repository.
func NewFileRepository(config *FileRepositoryConfig) (*FileRepository, error) {
	if config == nil {
		config = DefaultFileRepositoryConfig()
	}
	if config.Path == "" {
		return nil, fmt.Errorf("source repository path cannot be empty")
	}
	return &FileRepository{config: config}, nil
}

// ListSources walks the configured path and returns fingerprinted source
// descriptors, sorted by path. It reads each file to fingerprint its
// contents; a file that disappears or fails mid-scan surfaces the error to
// the caller so the scan cycle can be skipped.
func (r *FileRepository) ListSources(ctx context.Context) ([]SourceInfo, error) {
	info, err := os.Stat(r.config.Path)
	if err != nil {
		return nil, &LoadError{Path: r.config.Path, Message: "failed to access source path", Cause: err}
	}

	var paths []string
	if info.IsDir() {
		paths, err = r.listDirectory(ctx)
		if err != nil {
			return nil, err
		}
	} else {
		paths = []string{r.config.Path}
	}

	sources := make([]SourceInfo, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := r.ReadSource(ctx, path)
		if err != nil {
			return nil, err
		}

		sources = append(sources, SourceInfo{
			Path:        path,
			Fingerprint: NewFingerprint(path, data),
		})
	}

	sort.Slice(sources, func(i, j int) bool { return sources[i].Path < sources[j].Path })
	return sources, nil
}

// ReadSource reads one rule source, enforcing the size limit and UTF-8
// validity.
func (r *FileRepository) ReadSource(_ context.Context, path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadError{Path: path, Message: "file not found", Cause: err}
		}
		if os.IsPermission(err) {
			return nil, &LoadError{Path: path, Message: "permission denied", Cause: err}
		}
		return nil, &LoadError{Path: path, Message: "failed to access file", Cause: err}
	}

	if !info.Mode().IsRegular() {
		return nil, &LoadError{Path: path, Message: "not a regular file"}
	}

	if r.config.MaxFileSize > 0 && info.Size() > r.config.MaxFileSize {
		return nil, &LoadError{
			Path:    path,
			Message: fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", info.Size(), r.config.MaxFileSize),
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "failed to read file", Cause: err}
	}

	if !utf8.Valid(data) {
		return nil, &LoadError{Path: path, Message: "file contains invalid UTF-8 encoding"}
	}

	return data, nil
}

// listDirectory walks the source directory collecting recognized files.
func (r *FileRepository) listDirectory(ctx context.Context) ([]string, error) {
	var paths []string

	err := filepath.WalkDir(r.config.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		base := filepath.Base(path)
		if r.config.SkipHidden && strings.HasPrefix(base, ".") && path != r.config.Path {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			return nil
		}

		if r.hasRecognizedExtension(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{Path: r.config.Path, Message: "failed to scan source directory", Cause: err}
	}

	return paths, nil
}

// hasRecognizedExtension checks the file extension against the configured
// list.
func (r *FileRepository) hasRecognizedExtension(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, recognized := range r.config.Extensions {
		if ext == strings.ToLower(recognized) {
			return true
		}
	}
	return false
}
