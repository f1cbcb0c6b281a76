package delimited

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// readBufferSize is the buffer placed in front of the file. It is also the
// upper bound on how much of the file a header read touches.
const readBufferSize = 64 * 1024

// PeekSize is the buffer size callers should give a bufio.Reader passed to
// LineTerminator.
const PeekSize = readBufferSize

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// encodings maps accepted encoding names to decoders. UTF-8 is handled
// separately: bytes pass through untouched so invalid sequences reach the
// database and fail the load instead of being silently replaced.
var encodings = map[string]encoding.Encoding{
	"windows-1252": charmap.Windows1252,
	"cp1252":       charmap.Windows1252,
	"latin1":       charmap.ISO8859_1,
	"iso-8859-1":   charmap.ISO8859_1,
	"iso-8859-15":  charmap.ISO8859_15,
	"utf-16":       unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16le":     unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	"utf-16be":     unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
}

// Encodings returns the accepted encoding names, sorted, including utf-8.
func Encodings() []string {
	names := []string{"utf-8"}
	for name := range encodings {
		names = append(names, name)
	}
	sort.Strings(names[1:])
	return names
}

// CheckEncoding reports whether name is an accepted encoding.
func CheckEncoding(name string) error {
	_, _, err := lookupEncoding(name)
	return err
}

func lookupEncoding(name string) (encoding.Encoding, bool, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "", "utf-8", "utf8":
		return nil, true, nil
	}
	enc, ok := encodings[n]
	if !ok {
		return nil, false, fmt.Errorf("unsupported encoding %q (allowed: %s)", name, strings.Join(Encodings(), ", "))
	}
	return enc, false, nil
}

// Source is an open delimited file, decoded to UTF-8 with any byte order
// mark removed. It must be closed by the caller.
type Source struct {
	Path string

	file    *os.File
	size    int64
	counter *countingReader
	r       io.Reader
}

// Open opens path for reading and applies the named character decoding.
// Errors from the filesystem are returned wrapped and can be inspected with
// errors.Is (os.ErrNotExist, os.ErrPermission).
func Open(path, encodingName string) (*Source, error) {
	enc, isUTF8, err := lookupEncoding(encodingName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("open %s: is a directory", path)
	}

	counter := &countingReader{r: f}
	br := bufio.NewReaderSize(counter, readBufferSize)

	var r io.Reader = br
	if isUTF8 {
		if err := skipBOM(br); err != nil {
			f.Close()
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
	} else {
		r = transform.NewReader(br, enc.NewDecoder())
	}

	return &Source{
		Path:    path,
		file:    f,
		size:    info.Size(),
		counter: counter,
		r:       r,
	}, nil
}

// skipBOM discards a leading UTF-8 byte order mark.
func skipBOM(br *bufio.Reader) error {
	head, err := br.Peek(len(utf8BOM))
	if err != nil && err != io.EOF {
		return err
	}
	if bytes.Equal(head, utf8BOM) {
		_, err = br.Discard(len(utf8BOM))
		return err
	}
	return nil
}

// LineTerminator reports whether the first record in br ends with "\r\n" or
// "\n". Newlines inside quoted fields are skipped. It only peeks, so br is
// still positioned at the start. A first record longer than the buffer, or
// one with no terminator at all, reports "\n".
func LineTerminator(br *bufio.Reader) string {
	head, _ := br.Peek(br.Size())
	quoted := false
	for i, c := range head {
		switch {
		case c == '"':
			quoted = !quoted
		case c == '\n' && !quoted:
			if i > 0 && head[i-1] == '\r' {
				return "\r\n"
			}
			return "\n"
		}
	}
	return "\n"
}

// Read implements io.Reader over the decoded stream.
func (s *Source) Read(p []byte) (int, error) { return s.r.Read(p) }

// Close closes the underlying file.
func (s *Source) Close() error { return s.file.Close() }

// Size returns the file size in bytes as reported when it was opened.
func (s *Source) Size() int64 { return s.size }

// BytesRead returns how many raw file bytes have been consumed so far.
func (s *Source) BytesRead() int64 { return s.counter.n }

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
