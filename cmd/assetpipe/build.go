package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/asset-pipeline/internal/cache"
	"github.com/fpang/asset-pipeline/internal/config"
	"github.com/fpang/asset-pipeline/internal/descriptor"
	"github.com/fpang/asset-pipeline/internal/logging"
	"github.com/fpang/asset-pipeline/internal/pipeline"
	"github.com/fpang/asset-pipeline/internal/sink"
	"github.com/fpang/asset-pipeline/internal/styleopt"
)

// Build flags
var (
	configFlag    string
	assetsFlag    string
	outputFlag    string
	workersFlag   int
	metricsFlag   bool
	keepGoingFlag bool
)

// errAssetsFailed reports that the build finished with per-asset failures.
var errAssetsFailed = errors.New("some assets failed to optimize")

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Optimize the assets listed in a descriptor and write the manifest",
	Args:  cobra.NoArgs,
	RunE:  runBuild,
}

func init() {
	buildCmd.Flags().StringVarP(&configFlag, "config", "c", "", "YAML configuration file")
	buildCmd.Flags().StringVarP(&assetsFlag, "assets", "a", "assets.jsonc", "JSONC asset descriptor")
	buildCmd.Flags().StringVarP(&outputFlag, "output", "o", "", "Output directory (overrides config)")
	buildCmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "Concurrent optimizations (0 = config or one per CPU)")
	buildCmd.Flags().BoolVar(&metricsFlag, "metrics", false, "Print run metrics as a CloudWatch EMF line on stdout")
	buildCmd.Flags().BoolVar(&keepGoingFlag, "keep-going", false, "Exit successfully even when some assets fail")
}

func runBuild(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	cfg, err := config.Load(configFlag)
	if err != nil {
		return err
	}
	if outputFlag != "" {
		if err := cfg.SetOutput(outputFlag); err != nil {
			return err
		}
	}
	if workersFlag > 0 {
		cfg.Workers = workersFlag
	}

	inputs, err := descriptor.Load(assetsFlag, cfg.Defaults())
	if err != nil {
		return err
	}

	out, err := newSink(ctx, cfg)
	if err != nil {
		return err
	}

	var c cache.Cache = cache.NewMemory()
	if cfg.Cache.Dir != "" {
		c = cache.NewDisk(cfg.Cache.Dir)
	}

	sass := styleopt.NewSassCompiler(cfg.Style.SassBinary)
	defer sass.Close()

	var metricsOut io.Writer
	if metricsFlag {
		metricsOut = cmd.OutOrStdout()
	}

	outputKind := "dir"
	if cfg.S3.Bucket != "" {
		outputKind = "s3"
	}

	p, err := pipeline.New(pipeline.Options{
		Workers:           cfg.Workers,
		Defaults:          cfg.Defaults(),
		Sink:              out,
		Cache:             c,
		Precompress:       cfg.Precompress,
		ManifestName:      cfg.ManifestName,
		Metrics:           metricsOut,
		MetricsDimensions: map[string]string{"Output": outputKind},
		Styles:            styleopt.New(sass),
	})
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	startup := logging.NewStartupLogger("assetpipe").
		Version(version).
		RunID(runID).
		Feature("precompress", cfg.Precompress).
		Feature("disk_cache", cfg.Cache.Dir != "").
		Feature("metrics", metricsFlag).
		Config("assets", assetsFlag).
		Config("asset_count", strconv.Itoa(len(inputs))).
		Config("workers", strconv.Itoa(cfg.Workers)).
		Config("image_quality", strconv.Itoa(cfg.Image.Quality)).
		Config("image_format", cfg.Image.Format).
		InitDuration(time.Since(initStart))
	startup.Output(outputKind, cfg.OutputRoot())
	startup.Log()

	m, errs, err := p.Build(pipeline.WithRunID(ctx, runID), inputs)
	if err != nil {
		return err
	}
	for _, ae := range errs {
		log.Error().Err(ae).Str("key", ae.Key).Str("kind", ae.Kind.String()).Msg("Asset failed")
	}
	log.Info().
		Str("run_id", runID).
		Int("entries", len(m.Entries)).
		Int("failed", len(errs)).
		Str("manifest", p.ManifestName()).
		Msg("Build complete")

	if len(errs) > 0 && !keepGoingFlag {
		return fmt.Errorf("%w: %d of %d", errAssetsFailed, len(errs), len(inputs))
	}
	return nil
}

// newSink returns the S3 sink when a bucket is configured and the local
// directory sink otherwise.
func newSink(ctx context.Context, cfg *config.Config) (sink.Sink, error) {
	if cfg.S3.Bucket == "" {
		return sink.NewDir(cfg.OutputDir), nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	s := sink.NewS3(s3.NewFromConfig(awsCfg), cfg.S3.Bucket, cfg.S3.Prefix)
	s.Mutable[cfg.ManifestName] = true
	return s, nil
}
