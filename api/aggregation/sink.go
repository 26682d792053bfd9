package aggregation

import (
	"encoding/csv"
	"io"
)

// Sink receives a tabular result one row at a time.
type Sink interface {
	WriteHeader(columns []string) error
	WriteRow(values []string) error
	Finish() error
}

type csvSink struct {
	w *csv.Writer
}

// NewCSVSink returns a Sink writing RFC 4180 CSV to w. Output is buffered
// and pushed to w as the buffer fills, and on Finish.
func NewCSVSink(w io.Writer) Sink {
	return &csvSink{w: csv.NewWriter(w)}
}

func (s *csvSink) WriteHeader(columns []string) error {
	return s.w.Write(columns)
}

func (s *csvSink) WriteRow(values []string) error {
	return s.w.Write(values)
}

func (s *csvSink) Finish() error {
	s.w.Flush()
	return s.w.Error()
}
