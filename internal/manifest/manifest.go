// Package manifest maps logical asset keys to their content-addressed
// output paths.
package manifest

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Version is the manifest format version written into every manifest.
const Version = 1

// Entry records where one logical asset ended up.
type Entry struct {
	Key  string `json:"key"`
	Path string `json:"path"`
	Hash string `json:"hash"`
	Size int    `json:"size"`
	// Optimized is false when the original bytes were emitted unchanged.
	Optimized bool `json:"optimized"`
}

// Manifest is the published result of a run. Entries are sorted by Key so
// equal inputs always serialize to identical bytes.
type Manifest struct {
	Version int     `json:"version"`
	Entries []Entry `json:"entries"`
}

// New builds a manifest from entries in any order.
func New(entries []Entry) *Manifest {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	return &Manifest{Version: Version, Entries: sorted}
}

// Lookup returns the entry for key.
func (m *Manifest) Lookup(key string) (Entry, bool) {
	i := sort.Search(len(m.Entries), func(i int) bool { return m.Entries[i].Key >= key })
	if i < len(m.Entries) && m.Entries[i].Key == key {
		return m.Entries[i], true
	}
	return Entry{}, false
}

// Paths returns the key to path mapping, the form templates consume.
func (m *Manifest) Paths() map[string]string {
	out := make(map[string]string, len(m.Entries))
	for _, e := range m.Entries {
		out[e.Key] = e.Path
	}
	return out
}

// Marshal returns the indented JSON form with a trailing newline.
func (m *Manifest) Marshal() ([]byte, error) {
	entries := m.Entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(Manifest{Version: m.Version, Entries: entries}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// Parse decodes a manifest produced by Marshal.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.Version != Version {
		return nil, fmt.Errorf("parse manifest: unsupported version %d", m.Version)
	}
	if !sort.SliceIsSorted(m.Entries, func(i, j int) bool { return m.Entries[i].Key < m.Entries[j].Key }) {
		return nil, fmt.Errorf("parse manifest: entries are not sorted by key")
	}
	return &m, nil
}
