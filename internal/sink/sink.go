// Package sink writes pipeline outputs to their destination: a local
// directory or an S3 bucket.
package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// Sink stores output files by relative, slash-separated path.
type Sink interface {
	// Exists reports whether path is already stored. Content-addressed
	// outputs that exist never need rewriting.
	Exists(ctx context.Context, path string) (bool, error)
	// Write stores data at path, replacing what is there.
	Write(ctx context.Context, path string, data []byte, mediaType string) error
}

// Dir writes outputs below a local directory.
type Dir struct {
	Root string
}

// NewDir returns a sink rooted at root. The directory is created on first
// write.
func NewDir(root string) *Dir {
	return &Dir{Root: root}
}

func (d *Dir) resolve(path string) (string, error) {
	local := filepath.FromSlash(path)
	if !filepath.IsLocal(local) {
		return "", fmt.Errorf("output path %q escapes the output directory", path)
	}
	return filepath.Join(d.Root, local), nil
}

// Exists implements Sink.
func (d *Dir) Exists(_ context.Context, path string) (bool, error) {
	full, err := d.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", full, err)
	}
	return true, nil
}

// Write implements Sink. The file appears atomically under its final name.
func (d *Dir) Write(ctx context.Context, path string, data []byte, mediaType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	full, err := d.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(full), filepath.Base(full)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return fmt.Errorf("rename %s: %w", path, err)
	}

	log.Debug().
		Str("path", full).
		Str("media_type", mediaType).
		Int("size_bytes", len(data)).
		Msg("Output written")
	return nil
}
