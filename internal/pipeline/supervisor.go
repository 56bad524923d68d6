package pipeline

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/manifest"
)

// ErrSuperseded is returned by Supervisor.Run when a newer run started
// before this one could publish.
var ErrSuperseded = errors.New("run superseded by a newer run")

// Supervisor serializes publication for a stream of rebuilds, as a
// development server issues on every file change. Starting a run cancels
// the one in flight; a cancelled or outrun run never publishes, so readers
// only ever see the manifest of the newest completed run.
type Supervisor struct {
	p *Pipeline

	mu         sync.Mutex
	generation uint64
	cancelPrev context.CancelFunc
	latest     *manifest.Manifest
	latestID   string
}

// NewSupervisor returns a Supervisor publishing through p.
func NewSupervisor(p *Pipeline) *Supervisor {
	return &Supervisor{p: p}
}

// Run builds assets as a new generation. It returns ErrSuperseded if a later
// call to Run started before this one published.
func (s *Supervisor) Run(ctx context.Context, assets []asset.Input) (*manifest.Manifest, []*asset.Error, error) {
	runID := uuid.NewString()
	ctx, cancel := context.WithCancel(WithRunID(ctx, runID))
	defer cancel()

	s.mu.Lock()
	s.generation++
	gen := s.generation
	if s.cancelPrev != nil {
		s.cancelPrev()
	}
	s.cancelPrev = cancel
	s.mu.Unlock()

	log.Debug().Str("run_id", runID).Uint64("generation", gen).Msg("Supervised run starting")

	m, errs, err := s.p.Run(ctx, assets)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen {
		log.Info().Str("run_id", runID).Uint64("generation", gen).Msg("Run superseded, discarding manifest")
		return nil, errs, ErrSuperseded
	}
	s.cancelPrev = nil
	if err != nil {
		return nil, errs, err
	}
	if err := s.p.WriteManifest(ctx, m); err != nil {
		return nil, errs, err
	}
	s.latest = m
	s.latestID = runID
	log.Info().Str("run_id", runID).Uint64("generation", gen).Int("entries", len(m.Entries)).Msg("Manifest published")
	return m, errs, nil
}

// Latest returns the most recently published manifest and the ID of the
// run that produced it, or nil before the first publication.
func (s *Supervisor) Latest() (*manifest.Manifest, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.latestID
}
