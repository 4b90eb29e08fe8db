package visitation

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/htmlindex"
)

// LoadCSV ingests the visitation table from CSV. charset names a source text
// encoding ("" or utf-8 reads the stream as-is); spreadsheet exports from
// older tooling show up in latin-1 often enough to make this configurable.
func (s *Store) LoadCSV(ctx context.Context, r io.Reader, charset string) error {
	decoded, err := decodeCharset(r, charset)
	if err != nil {
		return err
	}

	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return eris.New("visitation: empty csv")
	}
	if err != nil {
		return eris.Wrap(err, "visitation: read csv header")
	}

	next := func() ([]string, error) {
		record, err := reader.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, eris.Wrap(err, "visitation: read csv row")
		}
		return record, nil
	}
	return s.ingest(ctx, header, next)
}

// LoadXLSX ingests the visitation table from the first sheet of an XLSX
// workbook.
func (s *Store) LoadXLSX(ctx context.Context, data []byte) error {
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return eris.Wrap(err, "visitation: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return eris.New("visitation: xlsx has no sheets")
	}
	sheet := f.Sheets[0]
	if len(sheet.Rows) == 0 {
		return eris.New("visitation: xlsx sheet is empty")
	}

	header := rowToStrings(sheet.Rows[0])
	i := 1
	next := func() ([]string, error) {
		if i >= len(sheet.Rows) {
			return nil, nil
		}
		record := rowToStrings(sheet.Rows[i])
		i++
		return record, nil
	}
	return s.ingest(ctx, header, next)
}

func rowToStrings(row *xlsx.Row) []string {
	out := make([]string, len(row.Cells))
	for i, c := range row.Cells {
		out[i] = strings.TrimSpace(c.Value)
	}
	return out
}

func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "utf-8", "utf8":
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "visitation: unknown charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}
