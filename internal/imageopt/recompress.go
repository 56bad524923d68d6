package imageopt

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"

	"github.com/ericpauley/go-quantize/quantize"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"

	"github.com/fpang/asset-pipeline/internal/asset"
)

// maxPaletteColors is the palette size for quantized PNGs.
const maxPaletteColors = 256

// recompressJPEG decodes and re-encodes a JPEG at the given quality. EXIF and
// other application segments are not carried over.
func recompressJPEG(data []byte, quality int) ([]byte, error) {
	var img image.Image
	err := guard(asset.ErrDecodeFailed, FormatJPEG, func() error {
		var derr error
		img, derr = jpeg.Decode(bytes.NewReader(data))
		return derr
	})
	if err != nil {
		return nil, asErr(asset.ErrDecodeFailed, FormatJPEG, err)
	}

	if camera, ok := inspectCamera(data); ok {
		log.Debug().Str("camera", camera).Msg("Dropping camera metadata during JPEG re-encode")
	}

	var buf bytes.Buffer
	err = guard(asset.ErrEncodeFailed, FormatJPEG, func() error {
		return jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality})
	})
	if err != nil {
		return nil, asErr(asset.ErrEncodeFailed, FormatJPEG, err)
	}
	return buf.Bytes(), nil
}

// recompressPNG reduces the image to a palette of at most 256 colors and
// re-encodes it with the best zlib level. With lossless set the pixels are
// kept as decoded and only the encoding is redone.
func recompressPNG(data []byte, lossless bool) ([]byte, error) {
	var img image.Image
	err := guard(asset.ErrDecodeFailed, FormatPNG, func() error {
		var derr error
		img, derr = png.Decode(bytes.NewReader(data))
		return derr
	})
	if err != nil {
		return nil, asErr(asset.ErrDecodeFailed, FormatPNG, err)
	}

	if !lossless {
		img = quantizeImage(img)
	}

	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	err = guard(asset.ErrEncodeFailed, FormatPNG, func() error {
		return enc.Encode(&buf, img)
	})
	if err != nil {
		return nil, asErr(asset.ErrEncodeFailed, FormatPNG, err)
	}
	return buf.Bytes(), nil
}

// quantizeImage maps img onto a median-cut palette using Floyd-Steinberg
// error diffusion. Both steps are deterministic for a given input.
func quantizeImage(img image.Image) *image.Paletted {
	bounds := img.Bounds()
	q := quantize.MedianCutQuantizer{}
	palette := q.Quantize(make(color.Palette, 0, maxPaletteColors), img)
	if len(palette) == 0 {
		palette = color.Palette{color.Transparent}
	}

	dst := image.NewPaletted(bounds, palette)
	draw.FloydSteinberg.Draw(dst, bounds, img, bounds.Min)

	log.Debug().
		Int("width", bounds.Dx()).
		Int("height", bounds.Dy()).
		Int("palette_size", len(palette)).
		Msg("Quantized PNG palette")

	return dst
}

// convert decodes any registered format and re-encodes it into target.
func (o *Optimizer) convert(data []byte, source string, target asset.OutputFormat, quality int, lossless bool) ([]byte, error) {
	enc, ok := o.encoders[target]
	if !ok {
		return nil, &asset.Error{Kind: asset.ErrUnsupportedFormat, Format: string(target),
			Err: fmt.Errorf("no encoder registered for %s", target)}
	}

	img, err := decode(data, source)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	err = guard(asset.ErrEncodeFailed, string(target), func() error {
		return enc(&buf, img, quality, lossless)
	})
	if err != nil {
		return nil, asErr(asset.ErrEncodeFailed, string(target), err)
	}
	if buf.Len() == 0 {
		return nil, &asset.Error{Kind: asset.ErrEncodeFailed, Format: string(target),
			Err: fmt.Errorf("%s encoder produced no data", target)}
	}
	return buf.Bytes(), nil
}
