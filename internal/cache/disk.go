package cache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/content"
)

// Disk is a Cache persisted under a directory so incremental builds can
// reuse work from earlier processes.
//
// Layout:
//
//	{Dir}/
//	  {key[0:2]}/
//	    {key}.cbor
type Disk struct {
	Dir string
}

// NewDisk returns a disk cache rooted at dir. The directory is created on
// first Put.
func NewDisk(dir string) *Disk {
	return &Disk{Dir: dir}
}

// record is the on-disk form of an Entry. The output bytes are stored
// compressed in Payload; everything else is plain CBOR.
type record struct {
	Format      string                  `cbor:"1,keyasint"`
	MediaType   string                  `cbor:"2,keyasint"`
	Hash        string                  `cbor:"3,keyasint,omitempty"`
	Optimized   bool                    `cbor:"4,keyasint"`
	Modules     []string                `cbor:"5,keyasint,omitempty"`
	Deps        map[string]content.Hash `cbor:"6,keyasint,omitempty"`
	Compression compression             `cbor:"7,keyasint"`
	Size        int                     `cbor:"8,keyasint"`
	Payload     []byte                  `cbor:"9,keyasint"`
}

// Get implements Cache. Corrupt entries are logged and reported as misses.
func (d *Disk) Get(k Key) (*Entry, bool) {
	path := d.entryPath(k)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warn().Err(err).Str("path", path).Msg("Could not read cache entry")
		}
		return nil, false
	}
	e, err := decodeRecord(data)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Discarding corrupt cache entry")
		return nil, false
	}
	return e, true
}

// Put implements Cache.
func (d *Disk) Put(k Key, e *Entry) error {
	if e == nil || e.Output == nil {
		return fmt.Errorf("cache entry is nil")
	}
	data, err := encodeRecord(e)
	if err != nil {
		return fmt.Errorf("encoding cache entry: %w", err)
	}
	path := d.entryPath(k)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("writing cache entry: %w", err)
	}
	log.Debug().
		Str("key", k.Input.Short(12)).
		Str("format", e.Output.Format).
		Int("size_bytes", len(e.Output.Data)).
		Int("stored_bytes", len(data)).
		Msg("Cache entry stored")
	return nil
}

func (d *Disk) entryPath(k Key) string {
	name := k.String()
	return filepath.Join(d.Dir, name[:2], name+".cbor")
}

func encodeRecord(e *Entry) ([]byte, error) {
	out := e.Output
	payload, c := compress(out.Data, compressionFor(out.Format))
	return encMode.Marshal(record{
		Format:      out.Format,
		MediaType:   out.MediaType,
		Hash:        out.Hash,
		Optimized:   out.Optimized,
		Modules:     out.Modules,
		Deps:        e.Deps,
		Compression: c,
		Size:        len(out.Data),
		Payload:     payload,
	})
}

func decodeRecord(data []byte) (*Entry, error) {
	var r record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing cache entry: %w", err)
	}
	raw, err := decompress(r.Payload, r.Compression, r.Size)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Output: &asset.Output{
			Data:      raw,
			Format:    r.Format,
			MediaType: r.MediaType,
			Hash:      r.Hash,
			Optimized: r.Optimized,
			Modules:   r.Modules,
		},
		Deps: r.Deps,
	}, nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
