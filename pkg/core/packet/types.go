package packet

import (
	"time"

	"github.com/google/uuid"
)

// MessageType определяет тип TDTP сообщения
type MessageType string

const (
	// TypeReference - полный срез данных (файл резервной копии)
	TypeReference MessageType = "reference"
	// TypeFeed - пакет транзакций от источника данных (V2/EFA/общий фид)
	TypeFeed MessageType = "feed"
)

// DataPacket представляет корневой элемент TDTP сообщения
type DataPacket struct {
	Protocol string `xml:"protocol,attr"`
	Version  string `xml:"version,attr"`
	Header   Header `xml:"Header"`
	Schema   Schema `xml:"Schema"`
	Data     Data   `xml:"Data"`
}

// Header содержит метаданные сообщения
type Header struct {
	Type          MessageType `xml:"Type"`
	TableName     string      `xml:"TableName"`
	MessageID     string      `xml:"MessageID"`
	ProcessID     int64       `xml:"ProcessID,omitempty"`
	DataSourceID  int64       `xml:"DataSourceID,omitempty"`
	RecordsInPart int         `xml:"RecordsInPart,omitempty"`
	Timestamp     time.Time   `xml:"Timestamp"`
	Sender        string      `xml:"Sender,omitempty"`
}

// Schema описывает структуру таблицы
type Schema struct {
	Fields []Field `xml:"Field"`
}

// Field описывает одно поле таблицы
type Field struct {
	Name      string `xml:"name,attr"`
	Type      string `xml:"type,attr"`
	Precision int    `xml:"precision,attr,omitempty"`
	Key       bool   `xml:"key,attr,omitempty"`
}

// Data содержит табличные данные
type Data struct {
	Compression string `xml:"compression,attr,omitempty"` // Алгоритм сжатия: "zstd" или пусто
	Checksum    string `xml:"checksum,attr,omitempty"`    // XXH3 хеш сжатых данных (hex)
	Rows        []Row  `xml:"R"`
}

// Row представляет одну строку данных
type Row struct {
	Value string `xml:",chardata"`
}

// NewDataPacket создает новый пакет с базовыми настройками
func NewDataPacket(msgType MessageType, tableName string) *DataPacket {
	return &DataPacket{
		Protocol: "TDTP",
		Version:  "1.0",
		Header: Header{
			Type:      msgType,
			TableName: tableName,
			MessageID: uuid.NewString(),
			Timestamp: time.Now().UTC(),
		},
	}
}

// GetRows извлекает все данные из пакета в виде [][]string.
// Сжатый блок данных предварительно распаковывается и проверяется по контрольной сумме.
func (p *DataPacket) GetRows() ([][]string, error) {
	lines, err := p.rowLines()
	if err != nil {
		return nil, err
	}
	parser := NewParser()
	rows := make([][]string, len(lines))
	for i, line := range lines {
		rows[i] = parser.GetRowValues(Row{Value: line})
	}
	return rows, nil
}

// SetRows устанавливает данные в пакет из [][]string
func (p *DataPacket) SetRows(rows [][]string) {
	p.Data = RowsToData(rows)
	p.Header.RecordsInPart = len(rows)
}

func (p *DataPacket) rowLines() ([]string, error) {
	if p.Data.Compression == "" {
		lines := make([]string, len(p.Data.Rows))
		for i, r := range p.Data.Rows {
			lines[i] = r.Value
		}
		return lines, nil
	}
	if len(p.Data.Rows) != 1 {
		return nil, errCompressedRows(len(p.Data.Rows))
	}
	return decompressBlock(p.Data.Rows[0].Value, p.Data.Checksum)
}
