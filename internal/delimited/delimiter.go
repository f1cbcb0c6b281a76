// Package delimited reads delimited text sources: it opens a file with the
// right character decoding, parses the header record, and streams data
// records for backends that need them parsed.
package delimited

import (
	"fmt"
	"strings"
)

// Delimiter is the field separator of a source file. Only the values below
// are accepted.
type Delimiter rune

const (
	Comma Delimiter = ','
	Pipe  Delimiter = '|'
	Tilde Delimiter = '~'
)

// Delimiters lists every supported delimiter in display order.
var Delimiters = []Delimiter{Comma, Pipe, Tilde}

// ParseDelimiter accepts either the literal character or its name
// ("comma", "pipe", "tilde"). The empty string yields Comma.
func ParseDelimiter(s string) (Delimiter, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", ",", "comma":
		return Comma, nil
	case "|", "pipe":
		return Pipe, nil
	case "~", "tilde":
		return Tilde, nil
	}
	return 0, fmt.Errorf("unsupported delimiter %q (allowed: , | ~)", s)
}

// Valid reports whether d is one of the supported delimiters.
func (d Delimiter) Valid() bool {
	switch d {
	case Comma, Pipe, Tilde:
		return true
	}
	return false
}

// Rune returns the delimiter as a rune for encoding/csv.
func (d Delimiter) Rune() rune { return rune(d) }

func (d Delimiter) String() string { return string(rune(d)) }

// Name returns the word form used in flags and config files.
func (d Delimiter) Name() string {
	switch d {
	case Comma:
		return "comma"
	case Pipe:
		return "pipe"
	case Tilde:
		return "tilde"
	}
	return fmt.Sprintf("invalid(%q)", rune(d))
}

// MarshalText renders the delimiter as its literal character.
func (d Delimiter) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("invalid delimiter %q", rune(d))
	}
	return []byte(d.String()), nil
}

// UnmarshalText accepts the same forms as ParseDelimiter.
func (d *Delimiter) UnmarshalText(b []byte) error {
	v, err := ParseDelimiter(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
