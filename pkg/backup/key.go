// Package backup переносит транзакционные данные процесса между хранилищем
// и файлами резервных копий (один файл на процесс и сутки UTC) и обратно,
// сверяя строки тем же движком, что и импорт.
package backup

import (
	"fmt"
	"time"
)

// FileExt - расширение файла резервной копии (TDTP XML)
const FileExt = ".tdtp.xml"

const day = 24 * time.Hour

// Key - файл резервной копии одного процесса за одни сутки UTC.
// From и To - часть суток, попавшая в запрошенное окно.
type Key struct {
	ProcessID int64     `json:"process_id"`
	Day       time.Time `json:"day"`
	From      time.Time `json:"from"`
	To        time.Time `json:"to"`
}

// Path возвращает относительный путь файла: <pid>/<yyyy>/<mm>/<yyyymmdd>.tdtp.xml
func (k Key) Path() string {
	return fmt.Sprintf("%d/%04d/%02d/%s%s", k.ProcessID, k.Day.Year(), int(k.Day.Month()), k.Day.Format("20060102"), FileExt)
}

// String возвращает "<pid>/<yyyymmdd>"
func (k Key) String() string {
	return fmt.Sprintf("%d/%s", k.ProcessID, k.Day.Format("20060102"))
}

// Whole сообщает, покрывает ли ключ сутки целиком
func (k Key) Whole() bool {
	return k.From.Equal(k.Day) && k.To.Equal(k.Day.Add(day))
}

// Keys возвращает ключи суток, покрывающих окно [start, end), по возрастанию
func Keys(processID int64, start, end time.Time) []Key {
	start, end = start.UTC(), end.UTC()
	if !start.Before(end) {
		return nil
	}

	var keys []Key
	for d := start.Truncate(day); d.Before(end); d = d.Add(day) {
		from, to := d, d.Add(day)
		if from.Before(start) {
			from = start
		}
		if to.After(end) {
			to = end
		}
		keys = append(keys, Key{ProcessID: processID, Day: d, From: from, To: to})
	}
	return keys
}
