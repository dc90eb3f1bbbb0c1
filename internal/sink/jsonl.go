package sink

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// JSONL writes one JSON object per record to a stream.
type JSONL struct {
	mu     sync.Mutex
	seq    sequence
	w      *bufio.Writer
	closer io.Closer
	logger *slog.Logger
}

// NewJSONL writes to w. If w is an io.Closer it is closed by Close.
func NewJSONL(w io.Writer) *JSONL {
	s := &JSONL{
		w:      bufio.NewWriterSize(w, 64*1024),
		logger: slog.Default().With("component", "jsonl-sink"),
	}
	if c, ok := w.(io.Closer); ok && w != os.Stdout && w != os.Stderr {
		s.closer = c
	}
	return s
}

// CreateJSONL creates (or truncates) path and writes records to it.
func CreateJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating output file %s: %w", path, err)
	}
	return NewJSONL(f), nil
}

// Append encodes the whole batch before writing it, so a batch that fails to
// encode leaves nothing behind and consumes no row ids.
func (s *JSONL) Append(_ context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq.assign(records)
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range records {
		if err := enc.Encode(&records[i]); err != nil {
			return fmt.Errorf("encoding record %d: %w", records[i].RowID, err)
		}
	}
	if _, err := s.w.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("writing %d records: %w", len(records), err)
	}
	s.seq.commit(len(records))
	return nil
}

func (s *JSONL) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	s.logger.Debug("output flushed", "rows", s.seq.last)
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
