package pipeline

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/metrics"
)

type runStats struct {
	cacheHits int
	bytesIn   int
	bytesOut  int
	duration  time.Duration
}

func (s *runStats) add(r result) {
	s.bytesIn += r.size
	if r.hit {
		s.cacheHits++
	}
}

func (p *Pipeline) recordMetrics(runID string, total, failed int, s *runStats) {
	if p.opts.Metrics == nil {
		return
	}
	rec := metrics.New(p.opts.MetricsNamespace).
		Metric(metrics.AssetsTotal, float64(total), metrics.UnitCount).
		Metric(metrics.AssetsFailed, float64(failed), metrics.UnitCount).
		Metric(metrics.CacheHits, float64(s.cacheHits), metrics.UnitCount).
		Metric(metrics.BytesIn, float64(s.bytesIn), metrics.UnitBytes).
		Metric(metrics.BytesOut, float64(s.bytesOut), metrics.UnitBytes).
		Metric(metrics.DurationMs, float64(s.duration.Milliseconds()), metrics.UnitMilliseconds)
	for k, v := range p.opts.MetricsDimensions {
		rec.Dimension(k, v)
	}
	if runID != "" {
		rec.Property("runId", runID)
	}
	if err := rec.FlushTo(p.opts.Metrics); err != nil {
		log.Warn().Err(err).Msg("Could not write run metrics")
	}
}

type runIDKey struct{}

// WithRunID tags ctx with a run identifier that appears in run logs and
// metrics.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
