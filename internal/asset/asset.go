// Package asset defines the data model shared by the optimizers and the
// pipeline: asset descriptors, per-kind optimization options, optimized
// outputs, and the closed set of optimization routes.
package asset

import (
	"path/filepath"
	"strings"
)

// Kind is a caller-supplied hint about what an asset is. The empty Kind lets
// the classifier decide from the file extension and media type.
type Kind string

const (
	KindAuto        Kind = ""
	KindImage       Kind = "image"
	KindStyle       Kind = "style"
	KindSass        Kind = "scss"
	KindScript      Kind = "script"
	KindPassthrough Kind = "file"
)

// OutputFormat selects what an image is re-encoded into.
type OutputFormat string

const (
	FormatKeep OutputFormat = "keep"
	FormatAVIF OutputFormat = "avif"
	FormatWebP OutputFormat = "webp"
)

// Quality bounds for lossy image encoders.
const (
	MinQuality     = 1
	MaxQuality     = 100
	DefaultQuality = 80
)

// ImageOptions configures the image optimizer.
type ImageOptions struct {
	// Quality is the lossy encoder quality in 1..100. Zero selects the
	// run default.
	Quality  int          `json:"quality,omitempty" yaml:"quality"`
	Format   OutputFormat `json:"format,omitempty" yaml:"format"`
	Lossless bool         `json:"lossless,omitempty" yaml:"lossless"`
}

// EffectiveQuality clamps Quality into the supported range, substituting
// fallback (or DefaultQuality) for zero.
func (o ImageOptions) EffectiveQuality(fallback int) int {
	q := o.Quality
	if q == 0 {
		q = fallback
	}
	if q == 0 {
		q = DefaultQuality
	}
	if q < MinQuality {
		return MinQuality
	}
	if q > MaxQuality {
		return MaxQuality
	}
	return q
}

// StyleOptions configures the stylesheet optimizer.
type StyleOptions struct {
	// Targets is the resolved browser target set, e.g. "chrome 100",
	// "safari 14", "ie 11".
	Targets      []string `json:"targets,omitempty" yaml:"targets"`
	Minify       bool     `json:"minify,omitempty" yaml:"minify"`
	IncludePaths []string `json:"include_paths,omitempty" yaml:"include_paths"`
}

// ScriptOptions configures the script optimizer.
type ScriptOptions struct {
	Minify bool `json:"minify,omitempty" yaml:"minify"`
	Mangle bool `json:"mangle,omitempty" yaml:"mangle"`
	// Root is the directory imports are resolved against.
	Root string `json:"root,omitempty" yaml:"root"`
}

// OptimizationOptions carries the configuration for every kind; the route
// chosen for an asset decides which part is consulted.
type OptimizationOptions struct {
	Image  ImageOptions  `json:"image" yaml:"image"`
	Style  StyleOptions  `json:"style" yaml:"style"`
	Script ScriptOptions `json:"script" yaml:"script"`
}

// Input describes one asset handed to the pipeline. Inputs are treated as
// immutable once submitted.
type Input struct {
	// Key is the caller's stable logical reference, unique per run.
	Key       string
	Kind      Kind
	MediaType string
	// Name is the original file name; its extension drives classification
	// and becomes the output extension for passthrough assets.
	Name string
	// Data holds the raw bytes. When nil, SourcePath is read instead.
	Data       []byte
	SourcePath string
	// Options overrides the run defaults when non-nil.
	Options *OptimizationOptions
}

// Ext returns the lower-cased extension of the input without the leading
// dot, looking at Name first and SourcePath second.
func (in Input) Ext() string {
	name := in.Name
	if name == "" {
		name = in.SourcePath
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}

// Output is the result of optimizing one asset.
type Output struct {
	Data      []byte `cbor:"1,keyasint"`
	Format    string `cbor:"2,keyasint"`
	MediaType string `cbor:"3,keyasint"`
	// Hash is assigned by the pipeline from Data; optimizers leave it empty.
	Hash string `cbor:"4,keyasint"`
	// Optimized is false when the original bytes were passed through.
	Optimized bool `cbor:"5,keyasint"`
	// Modules lists the source modules bundled into a script output.
	Modules []string `cbor:"6,keyasint,omitempty"`
}

// Passthrough wraps raw bytes as an unoptimized output.
func Passthrough(data []byte, format string) *Output {
	return &Output{
		Data:      data,
		Format:    format,
		MediaType: MediaTypeFor(format),
	}
}
