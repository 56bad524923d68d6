// Package config loads build configuration.
//
// Configuration comes from an optional YAML file, then ASSETPIPE_*
// environment variables override individual fields, then the command line
// may override the output directory. Validate runs last; a Config that
// passes it can be handed straight to the pipeline.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fpang/asset-pipeline/internal/asset"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete build configuration.
type Config struct {
	// OutputDir is where outputs and the manifest are written when no
	// bucket is configured.
	OutputDir string `yaml:"output_dir"`
	// ManifestName is the manifest's path relative to the output root.
	ManifestName string `yaml:"manifest_name"`
	// Workers bounds concurrent optimizations. Zero means one per CPU.
	Workers int `yaml:"workers"`
	// Precompress writes .gz and .zst siblings for text outputs.
	Precompress bool `yaml:"precompress"`

	Image  ImageConfig  `yaml:"image"`
	Style  StyleConfig  `yaml:"style"`
	Script ScriptConfig `yaml:"script"`
	Cache  CacheConfig  `yaml:"cache"`
	S3     S3Config     `yaml:"s3"`
}

// ImageConfig holds the default image options.
type ImageConfig struct {
	Quality  int    `yaml:"quality"`
	Format   string `yaml:"format"`
	Lossless bool   `yaml:"lossless"`
}

// StyleConfig holds the default stylesheet options.
type StyleConfig struct {
	Targets      []string `yaml:"targets"`
	Minify       bool     `yaml:"minify"`
	IncludePaths []string `yaml:"include_paths"`
	// SassBinary is the dart-sass executable. Empty means "sass" on PATH.
	SassBinary string `yaml:"sass_binary"`
}

// ScriptConfig holds the default script options.
type ScriptConfig struct {
	Minify bool   `yaml:"minify"`
	Mangle bool   `yaml:"mangle"`
	Root   string `yaml:"root"`
}

// CacheConfig configures the optimization cache.
type CacheConfig struct {
	// Dir enables the disk cache when set; otherwise an in-memory cache is
	// used for the lifetime of the process.
	Dir string `yaml:"dir"`
}

// S3Config selects an S3 output root instead of OutputDir.
type S3Config struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

// Default returns the configuration used before any file or environment
// override is applied.
func Default() *Config {
	return &Config{
		OutputDir:    "dist",
		ManifestName: "asset-manifest.json",
		Image: ImageConfig{
			Quality: asset.DefaultQuality,
			Format:  string(asset.FormatKeep),
		},
		Style: StyleConfig{
			Minify: true,
		},
		Script: ScriptConfig{
			Minify: true,
		},
	}
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides, and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.SetOutput(cfg.OutputDir); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides fields from ASSETPIPE_* environment variables.
func (c *Config) applyEnv() error {
	if v := os.Getenv("ASSETPIPE_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("ASSETPIPE_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("ASSETPIPE_S3_BUCKET"); v != "" {
		c.S3.Bucket = v
	}
	if v := os.Getenv("ASSETPIPE_IMAGE_QUALITY"); v != "" {
		q, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ASSETPIPE_IMAGE_QUALITY=%q is not an integer", ErrInvalid, v)
		}
		c.Image.Quality = q
	}
	if v := os.Getenv("ASSETPIPE_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: ASSETPIPE_WORKERS=%q is not an integer", ErrInvalid, v)
		}
		c.Workers = n
	}
	return nil
}

// s3Scheme prefixes an output root that names a bucket and key prefix.
const s3Scheme = "s3://"

// SetOutput sets the output root. An s3://bucket/prefix root selects the S3
// output and clears OutputDir; anything else is a local directory.
func (c *Config) SetOutput(root string) error {
	rest, ok := strings.CutPrefix(root, s3Scheme)
	if !ok {
		c.OutputDir = root
		return nil
	}
	bucket, prefix, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return fmt.Errorf("%w: output %q names no bucket", ErrInvalid, root)
	}
	c.OutputDir = ""
	c.S3.Bucket = bucket
	c.S3.Prefix = strings.Trim(prefix, "/")
	return nil
}

// OutputRoot renders the output root as SetOutput accepts it.
func (c *Config) OutputRoot() string {
	if c.S3.Bucket == "" {
		return c.OutputDir
	}
	if c.S3.Prefix == "" {
		return s3Scheme + c.S3.Bucket
	}
	return s3Scheme + c.S3.Bucket + "/" + c.S3.Prefix
}

// Validate checks that every field holds a usable value.
func (c *Config) Validate() error {
	var problems []string
	if c.OutputDir == "" && c.S3.Bucket == "" {
		problems = append(problems, "one of output_dir or s3.bucket is required")
	}
	if c.ManifestName == "" {
		problems = append(problems, "manifest_name must not be empty")
	}
	if c.Workers < 0 {
		problems = append(problems, fmt.Sprintf("workers must not be negative, got %d", c.Workers))
	}
	if c.Image.Quality != 0 && (c.Image.Quality < asset.MinQuality || c.Image.Quality > asset.MaxQuality) {
		problems = append(problems, fmt.Sprintf("image.quality must be in %d..%d, got %d",
			asset.MinQuality, asset.MaxQuality, c.Image.Quality))
	}
	switch asset.OutputFormat(c.Image.Format) {
	case "", asset.FormatKeep, asset.FormatAVIF, asset.FormatWebP:
	default:
		problems = append(problems, fmt.Sprintf("image.format must be keep, avif or webp, got %q", c.Image.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Defaults converts the configuration into the options applied to assets
// that carry none of their own.
func (c *Config) Defaults() asset.OptimizationOptions {
	return asset.OptimizationOptions{
		Image: asset.ImageOptions{
			Quality:  c.Image.Quality,
			Format:   asset.OutputFormat(c.Image.Format),
			Lossless: c.Image.Lossless,
		},
		Style: asset.StyleOptions{
			Targets:      c.Style.Targets,
			Minify:       c.Style.Minify,
			IncludePaths: c.Style.IncludePaths,
		},
		Script: asset.ScriptOptions{
			Minify: c.Script.Minify,
			Mangle: c.Script.Mangle,
			Root:   c.Script.Root,
		},
	}
}
