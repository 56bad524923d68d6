package sink

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Variant is a precompressed sibling of an output, stored at the output's
// path plus Suffix.
type Variant struct {
	Suffix   string
	Encoding string
	Data     []byte
}

type encoding struct {
	Suffix   string
	Encoding string
	encode   func([]byte) ([]byte, error)
}

var encodings = []encoding{
	{Suffix: ".gz", Encoding: "gzip", encode: gzipBytes},
	{Suffix: ".zst", Encoding: "zstd", encode: zstdBytes},
}

// precompressFormats are the text formats servers benefit from having
// precompressed.
var precompressFormats = map[string]bool{
	"css": true, "js": true, "svg": true, "json": true, "txt": true, "html": true,
}

// Compressible reports whether outputs of format get precompressed
// siblings.
func Compressible(format string) bool {
	return precompressFormats[format]
}

// Precompress returns the gzip and zstd variants of data. Variants that are
// not smaller than data are left out.
func Precompress(data []byte) ([]Variant, error) {
	var out []Variant
	for _, enc := range encodings {
		encoded, err := enc.encode(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", enc.Encoding, err)
		}
		if len(encoded) >= len(data) {
			continue
		}
		out = append(out, Variant{Suffix: enc.Suffix, Encoding: enc.Encoding, Data: encoded})
	}
	return out, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var zstdWriter *zstd.Encoder

func init() {
	var err error
	zstdWriter, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBestCompression))
	if err != nil {
		panic("sink: zstd encoder initialization failed: " + err.Error())
	}
}

func zstdBytes(data []byte) ([]byte, error) {
	return zstdWriter.EncodeAll(data, nil), nil
}
