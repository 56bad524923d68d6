package cache

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compression identifies how an entry's payload is stored on disk. The
// values are written into entry files and must not change.
type compression uint8

const (
	compressionNone compression = 0
	compressionLZ4  compression = 1
	compressionZstd compression = 2
)

func (c compression) String() string {
	switch c {
	case compressionNone:
		return "none"
	case compressionLZ4:
		return "lz4"
	case compressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// textFormats compress well with zstd.
var textFormats = map[string]bool{
	"css": true, "js": true, "svg": true, "json": true,
	"txt": true, "html": true, "map": true, "xml": true,
}

// packedFormats already carry their own entropy coding.
var packedFormats = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
	"avif": true, "woff": true, "woff2": true, "gz": true, "zst": true,
}

// compressionFor picks the payload compression for an output format.
func compressionFor(format string) compression {
	switch {
	case textFormats[format]:
		return compressionZstd
	case packedFormats[format]:
		return compressionNone
	default:
		return compressionLZ4
	}
}

var errIncompressible = errors.New("data is incompressible")

const (
	// maxEntrySize bounds the decoded size recorded in an entry file.
	maxEntrySize = 1 << 30
	// maxLZ4Ratio is the largest expansion an LZ4 block can encode.
	maxLZ4Ratio = 255
)

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("cache: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("cache: zstd decoder initialization failed: " + err.Error())
	}
}

// compress returns the payload and the compression actually applied, which
// falls back to none when the chosen algorithm does not shrink the data.
func compress(data []byte, c compression) ([]byte, compression) {
	var (
		out []byte
		err error
	)
	switch c {
	case compressionZstd:
		out = zstdEncoder.EncodeAll(data, nil)
		if len(out) >= len(data) {
			err = errIncompressible
		}
	case compressionLZ4:
		out = make([]byte, lz4.CompressBlockBound(len(data)))
		var n int
		n, err = lz4.CompressBlock(data, out, nil)
		if err == nil && (n == 0 || n >= len(data)) {
			err = errIncompressible
		}
		out = out[:n]
	default:
		return data, compressionNone
	}
	if err != nil {
		return data, compressionNone
	}
	return out, c
}

func decompress(payload []byte, c compression, size int) ([]byte, error) {
	if size < 0 || size > maxEntrySize {
		return nil, fmt.Errorf("entry size %d out of range", size)
	}
	switch c {
	case compressionNone:
		if len(payload) != size {
			return nil, fmt.Errorf("payload size %d does not match expected %d", len(payload), size)
		}
		return payload, nil
	case compressionLZ4:
		if size > len(payload)*maxLZ4Ratio+16 {
			return nil, fmt.Errorf("lz4 entry size %d exceeds bound for %d byte payload", size, len(payload))
		}
		out := make([]byte, size)
		n, err := lz4.UncompressBlock(payload, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", n, size)
		}
		return out, nil
	case compressionZstd:
		out, err := zstdDecoder.DecodeAll(payload, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(out), size)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}
