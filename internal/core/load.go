package core

import (
	"context"

	"github.com/JonMunkholm/tableload/internal/delimited"
)

// Load streams the file at path into t through the session's bulk-copy
// channel and returns the number of rows stored. The file is read from the
// start; the backend skips the header record. Any malformed row fails the
// whole load.
func Load(ctx context.Context, s Session, t TableIdentifier, cols ColumnSpec, path string, d delimited.Delimiter, encoding string) (int64, error) {
	st, err := load(ctx, s, t, cols, path, d, encoding)
	return st.rows, err
}

// loadStats describes a finished load. bytes counts raw file bytes handed to
// the backend, which is size unless the backend stopped early.
type loadStats struct {
	rows  int64
	bytes int64
	size  int64
}

func load(ctx context.Context, s Session, t TableIdentifier, cols ColumnSpec, path string, d delimited.Delimiter, encoding string) (loadStats, error) {
	src, err := delimited.Open(path, encoding)
	if err != nil {
		return loadStats{}, newError(KindFileAccess, StateLoading, path, err)
	}
	defer src.Close()

	rows, err := s.CopyFrom(ctx, t, cols, src, d)
	if err != nil {
		return loadStats{}, classify(ctx, KindLoad, StateLoading, t.String(), err)
	}
	return loadStats{rows: rows, bytes: src.BytesRead(), size: src.Size()}, nil
}
