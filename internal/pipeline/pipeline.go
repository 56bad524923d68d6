// Package pipeline runs a set of assets through classification,
// optimization and content addressing, and publishes the resulting
// manifest.
//
// Assets are optimized concurrently by a bounded worker pool. Workers only
// read shared state (inputs, options, the cache); every result flows over a
// channel to a single aggregator, which owns the result slice and performs
// all cache writes. Path assignment, sink writes and manifest assembly
// happen after the pool drains, in key order, so the manifest depends only
// on the inputs and options and never on scheduling.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/cache"
	"github.com/fpang/asset-pipeline/internal/content"
	"github.com/fpang/asset-pipeline/internal/imageopt"
	"github.com/fpang/asset-pipeline/internal/manifest"
	"github.com/fpang/asset-pipeline/internal/scriptopt"
	"github.com/fpang/asset-pipeline/internal/sink"
	"github.com/fpang/asset-pipeline/internal/styleopt"
)

// DefaultManifestName is the manifest file written by WriteManifest when
// Options.ManifestName is empty.
const DefaultManifestName = "asset-manifest.json"

// ErrInvalidInput is returned by Run when the asset set cannot be processed
// at all, for example because two assets share a key.
var ErrInvalidInput = errors.New("invalid asset set")

// ImageOptimizer recompresses raster images.
type ImageOptimizer interface {
	Optimize(data []byte, opts asset.ImageOptions) (*asset.Output, error)
}

// StyleOptimizer compiles and minifies stylesheets.
type StyleOptimizer interface {
	Optimize(name string, source []byte, preprocessed bool, opts asset.StyleOptions) (*asset.Output, error)
}

// ScriptOptimizer bundles script modules.
type ScriptOptimizer interface {
	Optimize(name string, source []byte, opts asset.ScriptOptions) (*asset.Output, error)
}

// Options configures a Pipeline.
type Options struct {
	// Workers bounds concurrent optimizations. Zero means GOMAXPROCS.
	Workers int
	// Defaults apply to assets whose Options field is nil.
	Defaults asset.OptimizationOptions
	// Sink receives output files. Required.
	Sink sink.Sink
	// Cache, when set, is consulted before optimizing and filled after.
	Cache cache.Cache
	// Precompress writes .gz and .zst siblings for text outputs.
	Precompress bool
	// ManifestName overrides DefaultManifestName.
	ManifestName string
	// Metrics, when set, receives one EMF line per run.
	Metrics io.Writer
	// MetricsNamespace is the EMF namespace; empty means "AssetPipeline".
	MetricsNamespace string
	// MetricsDimensions are attached to every run's metrics.
	MetricsDimensions map[string]string

	Images  ImageOptimizer
	Styles  StyleOptimizer
	Scripts ScriptOptimizer
}

// Pipeline optimizes asset sets. A Pipeline may run several sets, one after
// another or concurrently; runs share nothing but the cache and the sink.
type Pipeline struct {
	opts Options
}

// New returns a Pipeline. Optimizers left nil in opts get the default
// implementations; the default style optimizer has no Sass compiler.
func New(opts Options) (*Pipeline, error) {
	if opts.Sink == nil {
		return nil, fmt.Errorf("pipeline: a sink is required")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.ManifestName == "" {
		opts.ManifestName = DefaultManifestName
	}
	if opts.MetricsNamespace == "" {
		opts.MetricsNamespace = "AssetPipeline"
	}
	if opts.Images == nil {
		opts.Images = imageopt.New(opts.Defaults.Image.EffectiveQuality(asset.DefaultQuality))
	}
	if opts.Styles == nil {
		opts.Styles = styleopt.New(nil)
	}
	if opts.Scripts == nil {
		opts.Scripts = scriptopt.New()
	}
	return &Pipeline{opts: opts}, nil
}

// ManifestName returns the path WriteManifest writes to.
func (p *Pipeline) ManifestName() string {
	return p.opts.ManifestName
}

// result is what a worker hands the aggregator for one asset.
type result struct {
	index int
	ext   string
	out   *asset.Output
	hash  content.Hash
	err   *asset.Error
	// size is the input byte count.
	size int

	key      cache.Key
	cacheKey bool
	hit      bool
	deps     map[string]content.Hash
}

// Run optimizes assets and returns the manifest of everything that produced
// an output, plus one error per failed asset. Per-asset failures never fail
// the run; the returned error is reserved for an invalid asset set or a
// cancelled context.
func (p *Pipeline) Run(ctx context.Context, assets []asset.Input) (*manifest.Manifest, []*asset.Error, error) {
	if err := validateKeys(assets); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	runID := runIDFrom(ctx)

	log.Info().
		Str("run_id", runID).
		Int("assets", len(assets)).
		Int("workers", p.opts.Workers).
		Msg("Asset run starting")

	results := make([]result, len(assets))
	ch := make(chan result, len(assets))
	aggDone := make(chan struct{})
	var stats runStats

	// Aggregator: sole owner of results and sole cache writer.
	go func() {
		defer close(aggDone)
		for r := range ch {
			results[r.index] = r
			stats.add(r)
			if r.hit || !r.cacheKey || r.out == nil || r.err != nil {
				continue
			}
			if err := p.opts.Cache.Put(r.key, &cache.Entry{Output: r.out, Deps: r.deps}); err != nil {
				log.Warn().Err(err).Str("key", assets[r.index].Key).Msg("Could not store cache entry")
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range assets {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ch <- p.process(i, assets[i])
			return nil
		})
	}
	werr := g.Wait()
	close(ch)
	<-aggDone

	if werr != nil {
		return nil, nil, werr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m, errs := p.publish(ctx, assets, results, &stats)

	stats.duration = time.Since(start)
	log.Info().
		Str("run_id", runID).
		Int("assets", len(assets)).
		Int("entries", len(m.Entries)).
		Int("failed", len(errs)).
		Int("cache_hits", stats.cacheHits).
		Int("bytes_in", stats.bytesIn).
		Int("bytes_out", stats.bytesOut).
		Dur("duration", stats.duration).
		Msg("Asset run complete")
	p.recordMetrics(runID, len(assets), len(errs), &stats)

	return m, errs, nil
}

// publish assigns content-addressed paths in key order, writes each
// distinct output once, and builds the manifest.
func (p *Pipeline) publish(ctx context.Context, assets []asset.Input, results []result, stats *runStats) (*manifest.Manifest, []*asset.Error) {
	order := make([]int, len(assets))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return assets[order[a]].Key < assets[order[b]].Key })

	addr := content.NewAddresser()
	failedPaths := make(map[string]error)
	var (
		entries []manifest.Entry
		errs    []*asset.Error
	)

	for _, i := range order {
		key := assets[i].Key
		r := results[i]
		if r.err != nil {
			r.err.Key = key
			errs = append(errs, r.err)
		}
		if r.out == nil {
			continue
		}

		h := r.hash
		path, dup, err := addr.Assign(h, r.ext, r.out.Data)
		if err != nil {
			errs = append(errs, &asset.Error{Key: key, Kind: asset.ErrIOFailure, Err: err})
			continue
		}
		if !dup {
			if werr := p.write(ctx, path, r.out); werr != nil {
				failedPaths[path] = werr
			} else {
				stats.bytesOut += len(r.out.Data)
			}
		}
		if werr, failed := failedPaths[path]; failed {
			errs = append(errs, &asset.Error{Key: key, Kind: asset.ErrIOFailure, Err: werr})
			continue
		}

		entries = append(entries, manifest.Entry{
			Key:       key,
			Path:      path,
			Hash:      h.String(),
			Size:      len(r.out.Data),
			Optimized: r.out.Optimized,
		})
	}
	return manifest.New(entries), errs
}

// write stores one distinct output and its precompressed siblings. Outputs
// already present in the sink are skipped; their names guarantee their
// bytes.
func (p *Pipeline) write(ctx context.Context, path string, out *asset.Output) error {
	exists, err := p.opts.Sink.Exists(ctx, path)
	if err != nil {
		return err
	}
	if exists {
		log.Debug().Str("path", path).Msg("Output already present, skipping write")
	} else if err := p.opts.Sink.Write(ctx, path, out.Data, out.MediaType); err != nil {
		return err
	}

	if !p.opts.Precompress || !sink.Compressible(out.Format) {
		return nil
	}
	variants, err := sink.Precompress(out.Data)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Could not precompress output")
		return nil
	}
	for _, v := range variants {
		sibling := path + v.Suffix
		if ok, err := p.opts.Sink.Exists(ctx, sibling); err == nil && ok {
			continue
		}
		if err := p.opts.Sink.Write(ctx, sibling, v.Data, out.MediaType); err != nil {
			log.Warn().Err(err).Str("path", sibling).Msg("Could not write precompressed output")
		}
	}
	return nil
}

// WriteManifest stores m through the sink under the manifest name.
func (p *Pipeline) WriteManifest(ctx context.Context, m *manifest.Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return err
	}
	if err := p.opts.Sink.Write(ctx, p.opts.ManifestName, data, "application/json"); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	log.Info().
		Str("path", p.opts.ManifestName).
		Int("entries", len(m.Entries)).
		Msg("Manifest written")
	return nil
}

// Build runs assets and writes the manifest.
func (p *Pipeline) Build(ctx context.Context, assets []asset.Input) (*manifest.Manifest, []*asset.Error, error) {
	m, errs, err := p.Run(ctx, assets)
	if err != nil {
		return nil, errs, err
	}
	if err := p.WriteManifest(ctx, m); err != nil {
		return nil, errs, err
	}
	return m, errs, nil
}

func validateKeys(assets []asset.Input) error {
	seen := make(map[string]struct{}, len(assets))
	for i, in := range assets {
		if in.Key == "" {
			return fmt.Errorf("%w: asset %d has an empty key", ErrInvalidInput, i)
		}
		if _, dup := seen[in.Key]; dup {
			return fmt.Errorf("%w: duplicate key %q", ErrInvalidInput, in.Key)
		}
		seen[in.Key] = struct{}{}
	}
	return nil
}

// readInput returns the asset's bytes, loading SourcePath when Data is nil.
// An input with neither has no readable source.
func readInput(in asset.Input) ([]byte, error) {
	if in.Data != nil {
		return in.Data, nil
	}
	if in.SourcePath == "" {
		return nil, &asset.Error{Kind: asset.ErrIOFailure, Err: errors.New("no data and no source path")}
	}
	data, err := os.ReadFile(in.SourcePath)
	if err != nil {
		return nil, &asset.Error{Kind: asset.ErrIOFailure, Err: fmt.Errorf("read source: %w", err)}
	}
	return data, nil
}

// displayName is the file name handed to optimizers for diagnostics and
// loader selection.
func displayName(in asset.Input) string {
	switch {
	case in.Name != "":
		return filepath.Base(in.Name)
	case in.SourcePath != "":
		return filepath.Base(in.SourcePath)
	}
	if ext := in.Ext(); ext != "" {
		return in.Key + "." + ext
	}
	return in.Key
}
