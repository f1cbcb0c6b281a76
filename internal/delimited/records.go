package delimited

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// ErrNoHeader is returned when a source holds no record at all.
var ErrNoHeader = errors.New("no header record")

// newCSVReader configures encoding/csv for the delimiter. Quoting follows
// RFC 4180, the same dialect the database bulk-copy paths expect.
func newCSVReader(r io.Reader, d Delimiter) *csv.Reader {
	cr := csv.NewReader(r)
	cr.Comma = d.Rune()
	cr.FieldsPerRecord = 0
	return cr
}

// ReadHeader parses exactly one record from r and returns its fields
// verbatim. It returns ErrNoHeader when r is empty.
func ReadHeader(r io.Reader, d Delimiter) ([]string, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid delimiter %q", rune(d))
	}
	rec, err := newCSVReader(r, d).Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	return rec, nil
}

// RecordReader streams data records after the header. Every record must
// have as many fields as the header; a mismatch is reported with its line
// number.
type RecordReader struct {
	cr *csv.Reader
}

// NewRecordReader reads the header from r and positions the reader on the
// first data record.
func NewRecordReader(r io.Reader, d Delimiter) (*RecordReader, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid delimiter %q", rune(d))
	}
	cr := newCSVReader(r, d)
	_, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrNoHeader
	}
	if err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}
	// The header fixed FieldsPerRecord; reuse the slice from here on.
	cr.ReuseRecord = true
	return &RecordReader{cr: cr}, nil
}

// Next returns the next data record, or io.EOF when the source is done. The
// returned slice is reused by the following call.
func (rr *RecordReader) Next() ([]string, error) {
	rec, err := rr.cr.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ForEach calls fn for every data record and returns the number of records
// visited. It stops at the first error from the reader or from fn.
func ForEach(r io.Reader, d Delimiter, fn func(rec []string) error) (int64, error) {
	rr, err := NewRecordReader(r, d)
	if err != nil {
		return 0, err
	}
	var n int64
	for {
		rec, err := rr.Next()
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := fn(rec); err != nil {
			return n, fmt.Errorf("record %d: %w", n+1, err)
		}
		n++
	}
}
