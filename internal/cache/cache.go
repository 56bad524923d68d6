// Package cache memoizes optimizer outputs across runs. Entries are keyed
// by the input bytes and the options that influence the result, so a hit
// always replays the exact bytes a fresh optimization would produce.
package cache

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/content"
)

// Cache stores optimizer outputs. Implementations must be safe for
// concurrent Get calls; the pipeline serializes Put.
type Cache interface {
	// Get returns the entry for k. A missing or unreadable entry is a miss.
	Get(k Key) (*Entry, bool)
	// Put stores e under k, replacing any previous entry.
	Put(k Key, e *Entry) error
}

// Entry is a cached optimization result.
type Entry struct {
	Output *asset.Output `cbor:"1,keyasint"`
	// Deps maps each bundled module (relative to the resolution root) to the
	// hash of its bytes when the entry was produced.
	Deps map[string]content.Hash `cbor:"2,keyasint,omitempty"`
}

// Fresh reports whether every recorded dependency under root still has the
// bytes it had when e was stored.
func (e *Entry) Fresh(root string) bool {
	for rel, want := range e.Deps {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return false
		}
		if content.Sum(data) != want {
			return false
		}
	}
	return true
}

// Deps hashes each module under root, for recording alongside a script
// output.
func Deps(root string, modules []string) (map[string]content.Hash, error) {
	if len(modules) == 0 {
		return nil, nil
	}
	deps := make(map[string]content.Hash, len(modules))
	for _, rel := range modules {
		data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return nil, fmt.Errorf("hash dependency %s: %w", rel, err)
		}
		deps[rel] = content.Sum(data)
	}
	return deps, nil
}
