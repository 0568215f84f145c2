package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/jszwec/csvutil"

	"github.com/ruslano69/bridgestation/pkg/core/frame"
)

// ReadCSV читает CSV с заголовком в первой строке
func ReadCSV(r io.Reader, opts Options) (*frame.Frame, error) {
	cr := csv.NewReader(r)
	if opts.Comma != 0 {
		cr.Comma = opts.Comma
	}

	dec, err := csvutil.NewDecoder(cr)
	if errors.Is(err, io.EOF) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: read CSV header: %w", err)
	}

	t, err := newTable(dec.Header())
	if err != nil {
		return nil, err
	}

	// Строки разбираются по заголовку, а не по полям структуры
	var skip struct{}
	for row := 2; ; row++ {
		if err := dec.Decode(&skip); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("ingest: row %d: %w", row, err)
		}
		if err := t.add(row, dec.Record()); err != nil {
			return nil, err
		}
	}
	return t.out, nil
}
