// Package imageopt recompresses raster images and converts them into
// next-generation formats.
//
// Strategy by detected format:
//   - JPEG: decode and re-encode at the requested quality
//   - PNG: median-cut palette quantization, then best-compression encode
//   - conversion requested (AVIF/WebP): general decode, target encode
//   - anything else without a conversion request: UnsupportedFormat
//
// Every candidate is compared against the input; if it is not strictly
// smaller the original bytes are returned unmodified. Encoders run with
// fixed settings so identical inputs give identical outputs.
package imageopt

import (
	"bytes"
	"fmt"
	"image"
	"io"

	// Decoders for image.Decode used by the conversion path.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/rs/zerolog/log"

	"github.com/fpang/asset-pipeline/internal/asset"
)

// encodeFunc writes img in a target format.
type encodeFunc func(w io.Writer, img image.Image, quality int, lossless bool) error

// Optimizer recompresses images. The zero value is not usable; call New.
type Optimizer struct {
	// DefaultQuality applies when ImageOptions.Quality is zero.
	DefaultQuality int

	encoders map[asset.OutputFormat]encodeFunc
}

// New returns an Optimizer with the AVIF and WebP encoders registered.
func New(defaultQuality int) *Optimizer {
	return &Optimizer{
		DefaultQuality: defaultQuality,
		encoders: map[asset.OutputFormat]encodeFunc{
			asset.FormatAVIF: encodeAVIF,
			asset.FormatWebP: encodeWebP,
		},
	}
}

// Optimize recompresses data according to opts. The returned output never
// exceeds len(data) bytes.
func (o *Optimizer) Optimize(data []byte, opts asset.ImageOptions) (*asset.Output, error) {
	format := DetectFormat(data)
	quality := opts.EffectiveQuality(o.DefaultQuality)

	log.Debug().
		Str("format", format).
		Int("size_bytes", len(data)).
		Int("quality", quality).
		Str("target", string(opts.Format)).
		Bool("lossless", opts.Lossless).
		Msg("Optimizing image")

	var (
		candidate []byte
		outFormat = format
		err       error
	)

	switch {
	case opts.Format != "" && opts.Format != asset.FormatKeep:
		candidate, err = o.convert(data, format, opts.Format, quality, opts.Lossless)
		outFormat = string(opts.Format)
	case format == FormatJPEG:
		candidate, err = recompressJPEG(data, quality)
	case format == FormatPNG:
		candidate, err = recompressPNG(data, opts.Lossless)
	case format == FormatUnknown:
		return nil, &asset.Error{Kind: asset.ErrUnsupportedFormat, Err: fmt.Errorf("unrecognized image data")}
	default:
		return nil, &asset.Error{Kind: asset.ErrUnsupportedFormat, Format: format,
			Err: fmt.Errorf("no recompressor for %s without a conversion target", format)}
	}
	if err != nil {
		return nil, err
	}

	if len(candidate) == 0 || len(candidate) >= len(data) {
		log.Debug().
			Str("format", format).
			Int("original_size", len(data)).
			Int("candidate_size", len(candidate)).
			Msg("Optimized image not smaller, keeping original bytes")
		return asset.Passthrough(data, format), nil
	}

	log.Debug().
		Str("format", outFormat).
		Int("original_size", len(data)).
		Int("output_size", len(candidate)).
		Msg("Image optimization complete")

	return &asset.Output{
		Data:      candidate,
		Format:    outFormat,
		MediaType: asset.MediaTypeFor(outFormat),
		Optimized: true,
	}, nil
}

// decode runs image.Decode behind a panic guard so a crashing decoder
// becomes a DecodeFailed for this asset only.
func decode(data []byte, format string) (image.Image, error) {
	var img image.Image
	err := guard(asset.ErrDecodeFailed, format, func() error {
		var derr error
		img, _, derr = image.Decode(bytes.NewReader(data))
		return derr
	})
	if err != nil {
		return nil, asErr(asset.ErrDecodeFailed, format, err)
	}
	return img, nil
}

// guard converts a panic inside fn into an *asset.Error of the given kind.
func guard(kind asset.ErrorKind, format string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &asset.Error{Kind: kind, Format: format, Err: fmt.Errorf("codec panic: %v", r)}
		}
	}()
	return fn()
}

func asErr(kind asset.ErrorKind, format string, err error) *asset.Error {
	ae := asset.AsError(err, kind)
	if ae.Format == "" {
		ae.Format = format
	}
	return ae
}
