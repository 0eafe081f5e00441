package distproto

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/lz4"
	"github.com/klauspost/compress/zstd"
)

var (
	// zstdEncoder/zstdDecoder are process-wide: both types are documented as
	// safe for concurrent use and expensive enough to build that sharing one
	// across every envelope avoids repeatedly paying their setup cost.
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("distproto: lz4 compress: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("distproto: lz4 compress: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("distproto: unknown compression tag %d", c)
	}
}

func decompress(c Compression, data []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("distproto: zstd decompress: %w", err)
		}
		return out, nil
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(data))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("distproto: lz4 decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("distproto: unknown compression tag %d", c)
	}
}
