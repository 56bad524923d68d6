package imageopt

import "bytes"

// Canonical format names. They double as output file extensions.
const (
	FormatJPEG    = "jpg"
	FormatPNG     = "png"
	FormatGIF     = "gif"
	FormatWebP    = "webp"
	FormatBMP     = "bmp"
	FormatTIFF    = "tiff"
	FormatAVIF    = "avif"
	FormatUnknown = ""
)

var (
	magicJPEG    = []byte{0xFF, 0xD8, 0xFF}
	magicPNG     = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1A, '\n'}
	magicGIF87   = []byte("GIF87a")
	magicGIF89   = []byte("GIF89a")
	magicRIFF    = []byte("RIFF")
	magicWEBP    = []byte("WEBP")
	magicBMP     = []byte("BM")
	magicTIFFLE  = []byte{'I', 'I', '*', 0}
	magicTIFFBE  = []byte{'M', 'M', 0, '*'}
	magicFtyp    = []byte("ftyp")
	magicAVIF    = []byte("avif")
	magicAVIFSeq = []byte("avis")
)

// DetectFormat sniffs the container format from leading magic bytes. It does
// not validate the rest of the payload, so a truncated JPEG is still
// reported as a JPEG and fails later at decode time.
func DetectFormat(data []byte) string {
	switch {
	case bytes.HasPrefix(data, magicJPEG):
		return FormatJPEG
	case bytes.HasPrefix(data, magicPNG):
		return FormatPNG
	case bytes.HasPrefix(data, magicGIF87), bytes.HasPrefix(data, magicGIF89):
		return FormatGIF
	case len(data) >= 12 && bytes.HasPrefix(data, magicRIFF) && bytes.Equal(data[8:12], magicWEBP):
		return FormatWebP
	case bytes.HasPrefix(data, magicTIFFLE), bytes.HasPrefix(data, magicTIFFBE):
		return FormatTIFF
	case len(data) >= 12 && bytes.Equal(data[4:8], magicFtyp) &&
		(bytes.Equal(data[8:12], magicAVIF) || bytes.Equal(data[8:12], magicAVIFSeq)):
		return FormatAVIF
	case bytes.HasPrefix(data, magicBMP):
		return FormatBMP
	}
	return FormatUnknown
}

// SameFormat reports whether two extensions name the same image format,
// treating jpg/jpeg and tif/tiff as equal.
func SameFormat(a, b string) bool {
	return canonical(a) == canonical(b)
}

func canonical(ext string) string {
	switch ext {
	case "jpeg", "jpe":
		return FormatJPEG
	case "tif":
		return FormatTIFF
	}
	return ext
}
