package packet

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/xxh3"
)

// compressBlock сжимает строки данных (разделитель - перевод строки) zstd,
// кодирует в base64 и возвращает блок вместе с XXH3 хешом сжатых данных
func compressBlock(lines []string, level int) (block, checksum string, err error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)))
	if err != nil {
		return "", "", fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	defer encoder.Close()

	compressed := encoder.EncodeAll([]byte(strings.Join(lines, "\n")), nil)
	return base64.StdEncoding.EncodeToString(compressed), hashHex(compressed), nil
}

// decompressBlock проверяет контрольную сумму и распаковывает блок данных
func decompressBlock(block, checksum string) ([]string, error) {
	compressed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(block))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64: %w", err)
	}

	if checksum != "" {
		if actual := hashHex(compressed); actual != checksum {
			return nil, fmt.Errorf("checksum mismatch: expected %s, got %s (data corruption detected)", checksum, actual)
		}
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	defer decoder.Close()

	raw, err := decoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress zstd: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return strings.Split(string(raw), "\n"), nil
}

// hashHex - XXH3 (64-bit) в big-endian hex
func hashHex(data []byte) string {
	h := xxh3.Hash(data)
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(h)
		h >>= 8
	}
	return hex.EncodeToString(b)
}

func errCompressedRows(n int) error {
	return fmt.Errorf("compressed data should have exactly 1 row, got %d", n)
}
