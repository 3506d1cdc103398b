package distributed

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

// EncodingZstd is the Content-Encoding of compressed messages.
const EncodingZstd = "zstd"

// Stateless zstd codecs. EncodeAll and DecodeAll are safe for concurrent
// use.
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// encodeMessage marshals v as JSON, zstd-compressed when compress is set.
func encodeMessage(v any, compress bool) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding message: %w", err)
	}
	if !compress {
		return data, nil
	}
	return zstdEncoder.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

// decodeMessage unmarshals data written by encodeMessage. encoding is the
// Content-Encoding the data was sent with.
func decodeMessage(data []byte, encoding string, v any) error {
	switch encoding {
	case "", "identity":
	case EncodingZstd:
		raw, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return fmt.Errorf("decompressing message: %w", err)
		}
		data = raw
	default:
		return fmt.Errorf("unsupported content encoding %q", encoding)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decoding message: %w", err)
	}
	return nil
}

func encodingOf(compress bool) string {
	if compress {
		return EncodingZstd
	}
	return ""
}
