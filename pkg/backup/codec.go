package backup

import (
	"bytes"
	"fmt"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
	"github.com/ruslano69/bridgestation/pkg/core/packet"
)

// Codec сериализует строки суток в TDTP-пакет типа reference
type Codec struct {
	gen *packet.Generator
}

// NewCodec создает кодек со сжатием zstd и XXH3.
// level 0 - уровень по умолчанию (3).
func NewCodec(level int) *Codec {
	gen := packet.NewGenerator()
	if level != 0 {
		gen.SetCompressionLevel(level)
	}
	return &Codec{gen: gen}
}

// Encode упаковывает Frame в XML. Типы полей выводятся из значений колонок.
func (c *Codec) Encode(key Key, f *frame.Frame) ([]byte, error) {
	pkt, err := packet.FromFrame(packet.TypeReference, tableName(key), packet.FieldsOf(f), f)
	if err != nil {
		return nil, fmt.Errorf("backup: encode %s: %w", key, err)
	}
	pkt.Header.ProcessID = key.ProcessID
	pkt.Header.Sender = "bridgestation"
	if err := c.gen.Compress(pkt); err != nil {
		return nil, fmt.Errorf("backup: encode %s: %w", key, err)
	}

	var buf bytes.Buffer
	if err := c.gen.WriteToWriter(pkt, &buf); err != nil {
		return nil, fmt.Errorf("backup: encode %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Decode разбирает XML файла в Frame
func (c *Codec) Decode(key Key, data []byte) (*frame.Frame, error) {
	pkt, err := packet.NewParser().ParseBytes(data)
	if err != nil {
		return nil, fmt.Errorf("backup: decode %s: %w", key, err)
	}
	if pkt.Header.ProcessID != 0 && pkt.Header.ProcessID != key.ProcessID {
		return nil, fmt.Errorf("backup: decode %s: file belongs to process %d", key, pkt.Header.ProcessID)
	}
	f, err := pkt.ToFrame()
	if err != nil {
		return nil, fmt.Errorf("backup: decode %s: %w", key, err)
	}
	return f, nil
}

func tableName(key Key) string {
	return fmt.Sprintf("t_process_%d", key.ProcessID)
}
