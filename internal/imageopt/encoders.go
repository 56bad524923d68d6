package imageopt

import (
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/gen2brain/avif"
)

// avifSpeed is fixed so repeated runs produce identical bytes.
const avifSpeed = 6

func encodeAVIF(w io.Writer, img image.Image, quality int, lossless bool) error {
	if lossless {
		quality = 100
	}
	return avif.Encode(w, img, avif.Options{
		Quality:      quality,
		QualityAlpha: quality,
		Speed:        avifSpeed,
	})
}

func encodeWebP(w io.Writer, img image.Image, quality int, lossless bool) error {
	return webp.Encode(w, img, &webp.Options{
		Lossless: lossless,
		Quality:  float32(quality),
	})
}
