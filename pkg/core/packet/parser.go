package packet

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Parser читает TDTP-пакеты двух видов: reference (файл суток резервной
// копии, одна таблица процесса) и feed (пачка транзакций от источника
// данных из брокера). Блок данных остается сжатым до ToFrame.
type Parser struct{}

// NewParser создает парсер
func NewParser() *Parser {
	return &Parser{}
}

// Parse читает и проверяет пакет
func (p *Parser) Parse(r io.Reader) (*DataPacket, error) {
	var pkt DataPacket
	if err := xml.NewDecoder(r).Decode(&pkt); err != nil {
		return nil, fmt.Errorf("failed to decode XML: %w", err)
	}
	if err := checkPacket(&pkt); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return &pkt, nil
}

// ParseBytes - Parse для файла или сообщения, уже прочитанного целиком
func (p *Parser) ParseBytes(data []byte) (*DataPacket, error) {
	return p.Parse(bytes.NewReader(data))
}

// checkPacket проверяет заголовок: файл суток должен назвать таблицу,
// feed-пакет дополнительно источник данных, по которому выбирается категория.
func checkPacket(pkt *DataPacket) error {
	if pkt.Protocol != "TDTP" {
		return fmt.Errorf("invalid protocol: %q", pkt.Protocol)
	}
	if pkt.Version == "" {
		return errors.New("version is required")
	}
	h := pkt.Header
	switch h.Type {
	case TypeReference:
	case TypeFeed:
		if h.DataSourceID == 0 {
			return errors.New("header.DataSourceID is required for feed messages")
		}
	case "":
		return errors.New("header.Type is required")
	default:
		return fmt.Errorf("invalid message type: %s", h.Type)
	}
	if h.TableName == "" {
		return errors.New("header.TableName is required")
	}
	if len(pkt.Data.Rows) > 0 && len(pkt.Schema.Fields) == 0 {
		return errors.New("schema is required when data is present")
	}
	return nil
}

// GetRowValues делит строку блока данных на значения по '|'.
// Экранирование: \| - символ '|', \\ - '\', \n - перевод строки;
// висящий '\' в конце строки остается как есть.
func (p *Parser) GetRowValues(row Row) []string {
	var (
		values  []string
		cur     strings.Builder
		escaped bool
	)
	for _, c := range row.Value {
		if escaped {
			escaped = false
			if c == 'n' {
				c = '\n'
			}
			cur.WriteRune(c)
			continue
		}
		switch c {
		case '\\':
			escaped = true
		case '|':
			values = append(values, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(c)
		}
	}
	if escaped {
		cur.WriteRune('\\')
	}
	return append(values, cur.String())
}
