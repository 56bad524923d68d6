package content

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrCollision is returned when one hash is presented with two different
// byte payloads. It signals a broken invariant, not a recoverable condition.
var ErrCollision = errors.New("content hash collision")

type assignment struct {
	path string
	data []byte
}

// Addresser assigns output paths to content and remembers them so repeated
// content maps to a single physical file. It is owned by one goroutine (the
// pipeline's aggregator) and is not safe for concurrent use.
type Addresser struct {
	assigned map[Hash]assignment
}

// NewAddresser returns an empty Addresser.
func NewAddresser() *Addresser {
	return &Addresser{assigned: make(map[Hash]assignment)}
}

// PathFor returns the relative output path for a hash and extension.
func PathFor(h Hash, ext string) string {
	if ext == "" {
		return h.String()
	}
	return h.String() + "." + ext
}

// Lookup returns the path previously assigned to h, if any.
func (a *Addresser) Lookup(h Hash) (string, bool) {
	as, ok := a.assigned[h]
	return as.path, ok
}

// Assign binds data to an output path. The first assignment for a hash
// decides the path; later calls with the same bytes return that path with
// dup set. Data that hashes equal but differs byte-wise fails with
// ErrCollision.
func (a *Addresser) Assign(h Hash, ext string, data []byte) (path string, dup bool, err error) {
	if as, ok := a.assigned[h]; ok {
		if !bytes.Equal(as.data, data) {
			return "", false, fmt.Errorf("%w: %s", ErrCollision, h)
		}
		return as.path, true, nil
	}
	path = PathFor(h, ext)
	a.assigned[h] = assignment{path: path, data: data}
	return path, false, nil
}

// Len returns the number of distinct payloads assigned.
func (a *Addresser) Len() int {
	return len(a.assigned)
}
