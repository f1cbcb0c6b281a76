package core

import (
	"encoding/csv"
	"errors"

	"github.com/JonMunkholm/tableload/internal/delimited"
)

// ReadHeader returns the first record of the file at path, field for field.
// Only the header is decoded; the file is closed before returning.
func ReadHeader(path string, d delimited.Delimiter, encoding string) (ColumnSpec, error) {
	if err := delimited.CheckEncoding(encoding); err != nil {
		return nil, newError(KindRequest, StateReadingHeader, encoding, err)
	}

	src, err := delimited.Open(path, encoding)
	if err != nil {
		return nil, newError(KindFileAccess, StateReadingHeader, path, err)
	}
	defer src.Close()

	header, err := delimited.ReadHeader(src, d)
	if errors.Is(err, delimited.ErrNoHeader) {
		return nil, newError(KindEmptyFile, StateReadingHeader, path, err)
	}
	// A header that does not parse has a quote character inside a name.
	var perr *csv.ParseError
	if errors.As(err, &perr) {
		return nil, newError(KindIdentifier, StateReadingHeader, path, err)
	}
	if err != nil {
		return nil, newError(KindFileAccess, StateReadingHeader, path, err)
	}
	return ColumnSpec(header), nil
}
