package pipeline

import (
	"fmt"
	"path/filepath"
	"runtime/debug"

	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/asset"
	"github.com/fpang/asset-pipeline/internal/cache"
	"github.com/fpang/asset-pipeline/internal/content"
	"github.com/fpang/asset-pipeline/internal/imageopt"
)

// panicKinds is the error category a crashing optimizer is reported as.
// None of them are recoverable: a crash says nothing about whether the
// original bytes are usable.
var panicKinds = map[asset.Route]asset.ErrorKind{
	asset.RoutePassthrough: asset.ErrIOFailure,
	asset.RouteImage:       asset.ErrDecodeFailed,
	asset.RouteStyle:       asset.ErrParseFailed,
	asset.RouteScript:      asset.ErrParseFailed,
}

// process optimizes one asset. It runs on a worker goroutine and touches no
// shared mutable state; the cache is only read.
func (p *Pipeline) process(index int, in asset.Input) result {
	r := result{index: index}
	route := asset.Classify(in)

	data, err := readInput(in)
	if err != nil {
		r.err = asset.AsError(err, asset.ErrIOFailure)
		return r
	}
	r.size = len(data)

	opts := p.opts.Defaults
	if in.Options != nil {
		opts = *in.Options
	}
	if route == asset.RouteScript {
		opts.Script.Root = scriptRoot(in, opts.Script.Root)
	}
	srcExt := in.Ext()

	if p.opts.Cache != nil {
		k, err := cache.NewKey(data, route, srcExt, opts)
		if err != nil {
			log.Warn().Err(err).Str("key", in.Key).Msg("Could not derive cache key")
		} else {
			r.key, r.cacheKey = k, true
			if out, hash, ok := p.lookup(k, route, opts); ok {
				r.out, r.hash, r.hit = out, hash, true
				r.ext = outputExt(out.Format, srcExt)
				log.Debug().Str("key", in.Key).Str("route", route.String()).Msg("Cache hit")
				return r
			}
		}
	}

	out, err := p.optimize(route, in, data, opts)
	if err != nil {
		ae := asset.AsError(err, panicKinds[route])
		r.err = ae
		if !ae.Kind.Recoverable() {
			log.Warn().Err(ae).Str("key", in.Key).Str("route", route.String()).Msg("Asset optimization failed")
			return r
		}
		log.Warn().Err(ae).Str("key", in.Key).Str("route", route.String()).Msg("Asset optimization failed, passing original bytes through")
		out = asset.Passthrough(data, srcExt)
		r.cacheKey = false
	}

	r.hash = content.Sum(out.Data)
	out.Hash = r.hash.String()
	r.out = out
	r.ext = outputExt(out.Format, srcExt)

	if route == asset.RouteScript && r.err == nil && len(out.Modules) > 0 {
		deps, err := cache.Deps(opts.Script.Root, out.Modules)
		if err != nil {
			log.Warn().Err(err).Str("key", in.Key).Msg("Could not hash script dependencies, not caching")
			r.cacheKey = false
		}
		r.deps = deps
	}

	log.Debug().
		Str("key", in.Key).
		Str("route", route.String()).
		Int("input_size", len(data)).
		Int("output_size", len(out.Data)).
		Bool("optimized", out.Optimized).
		Msg("Asset processed")
	return r
}

// lookup returns a usable cache hit. Hits whose bytes no longer match their
// recorded hash, or script hits with a changed dependency, are misses.
func (p *Pipeline) lookup(k cache.Key, route asset.Route, opts asset.OptimizationOptions) (*asset.Output, content.Hash, bool) {
	e, ok := p.opts.Cache.Get(k)
	if !ok || e.Output == nil {
		return nil, content.Hash{}, false
	}
	h := content.Sum(e.Output.Data)
	if e.Output.Hash != h.String() {
		log.Warn().Str("hash", h.Short(12)).Msg("Cache entry hash mismatch, ignoring")
		return nil, content.Hash{}, false
	}
	if route == asset.RouteScript && !e.Fresh(opts.Script.Root) {
		log.Debug().Str("hash", h.Short(12)).Msg("Cached bundle has stale dependencies")
		return nil, content.Hash{}, false
	}
	return e.Output, h, true
}

// optimize dispatches on the route. A panic in any optimizer becomes an
// error for this asset only.
func (p *Pipeline) optimize(route asset.Route, in asset.Input, data []byte, opts asset.OptimizationOptions) (out *asset.Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Str("key", in.Key).
				Str("route", route.String()).
				Str("stack", string(debug.Stack())).
				Msgf("Optimizer panic: %v", rec)
			out = nil
			err = &asset.Error{Kind: panicKinds[route], Err: fmt.Errorf("optimizer panic: %v", rec)}
		}
	}()

	switch route {
	case asset.RouteImage:
		return p.opts.Images.Optimize(data, opts.Image)
	case asset.RouteStyle:
		return p.opts.Styles.Optimize(displayName(in), data, asset.IsPreprocessed(in), opts.Style)
	case asset.RouteScript:
		return p.opts.Scripts.Optimize(displayName(in), data, opts.Script)
	default:
		return asset.Passthrough(data, in.Ext()), nil
	}
}

// scriptRoot resolves the directory imports are resolved against: the
// configured root, else the directory of the source file, else the working
// directory. The result is absolute so it can be part of the cache key.
func scriptRoot(in asset.Input, configured string) string {
	root := configured
	if root == "" && in.SourcePath != "" {
		root = filepath.Dir(in.SourcePath)
	}
	if root == "" {
		root = "."
	}
	if abs, err := filepath.Abs(root); err == nil {
		return abs
	}
	return root
}

// outputExt keeps the source extension when the output is still in the
// source's format (so photo.jpeg stays .jpeg) and otherwise uses the
// output format.
func outputExt(format, srcExt string) string {
	if format == "" || imageopt.SameFormat(format, srcExt) {
		return srcExt
	}
	return format
}
