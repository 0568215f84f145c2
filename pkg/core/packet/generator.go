package packet

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// CompressionOptions содержит настройки сжатия данных
type CompressionOptions struct {
	Enabled   bool   // Включить сжатие
	Level     int    // Уровень сжатия: 1 (fastest) - 19 (best), по умолчанию 3
	MinSize   int    // Минимальный размер данных для сжатия (bytes), по умолчанию 1024
	Algorithm string // Алгоритм сжатия: "zstd" (пока только он поддерживается)
}

// DefaultCompressionOptions возвращает настройки сжатия по умолчанию.
// Файлы резервных копий сжимаются всегда, когда данных больше MinSize.
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		Enabled:   true,
		Level:     3,
		MinSize:   1024,
		Algorithm: "zstd",
	}
}

// Generator отвечает за сериализацию TDTP пакетов
type Generator struct {
	compression CompressionOptions
}

// NewGenerator создает новый генератор
func NewGenerator() *Generator {
	return &Generator{compression: DefaultCompressionOptions()}
}

// DisableCompression выключает сжатие
func (g *Generator) DisableCompression() {
	g.compression.Enabled = false
}

// SetCompressionLevel задает уровень zstd; значение приводится к 1-19
func (g *Generator) SetCompressionLevel(level int) {
	g.compression.Level = min(max(level, 1), 19)
}

// Compress сжимает блок данных пакета, если сжатие включено и данных достаточно
func (g *Generator) Compress(p *DataPacket) error {
	if !g.compression.Enabled || p.Data.Compression != "" || len(p.Data.Rows) == 0 {
		return nil
	}

	lines := make([]string, len(p.Data.Rows))
	total := 0
	for i, r := range p.Data.Rows {
		lines[i] = r.Value
		total += len(r.Value)
	}
	if total < g.compression.MinSize {
		// Данные слишком маленькие, сжатие не выгодно
		return nil
	}

	block, checksum, err := compressBlock(lines, g.compression.Level)
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}
	p.Data = Data{
		Compression: g.compression.Algorithm,
		Checksum:    checksum,
		Rows:        []Row{{Value: block}},
	}
	return nil
}

// ToXML сериализует пакет в XML
func (g *Generator) ToXML(packet *DataPacket, indent bool) ([]byte, error) {
	var data []byte
	var err error

	if indent {
		data, err = xml.MarshalIndent(packet, "", "  ")
	} else {
		data, err = xml.Marshal(packet)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal XML: %w", err)
	}

	return append([]byte(xml.Header), data...), nil
}

// WriteToWriter записывает пакет в writer
func (g *Generator) WriteToWriter(packet *DataPacket, w io.Writer) error {
	data, err := g.ToXML(packet, true)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// escapeValue экранирует специальные символы в значении.
// Backslash (\) -> \\, pipe (|) -> \|, перевод строки -> \n
func escapeValue(value string) string {
	// Сначала экранируем backslash, потом остальное (важен порядок!)
	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "|", "\\|")
	return strings.ReplaceAll(escaped, "\n", "\\n")
}

// RowsToData преобразует [][]string в Data, экранируя разделители
func RowsToData(rows [][]string) Data {
	data := Data{Rows: make([]Row, len(rows))}
	for i, row := range rows {
		escaped := make([]string, len(row))
		for j, value := range row {
			escaped[j] = escapeValue(value)
		}
		data.Rows[i] = Row{Value: strings.Join(escaped, "|")}
	}
	return data
}
