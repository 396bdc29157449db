package workflow

import (
	"context"
	"encoding/json"
	"io"
	"sync"
)

// RowSink receives decoded result rows from task handlers.
type RowSink interface {
	WriteRow(ctx context.Context, row any) error
}

// JSONLinesSink writes one JSON document per row to an underlying
// writer. Safe for concurrent use.
type JSONLinesSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLinesSink wraps w in a line-delimited JSON sink.
func NewJSONLinesSink(w io.Writer) *JSONLinesSink {
	return &JSONLinesSink{enc: json.NewEncoder(w)}
}

// WriteRow encodes one row followed by a newline.
func (s *JSONLinesSink) WriteRow(_ context.Context, row any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(row)
}
