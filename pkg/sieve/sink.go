package sieve

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/athapong/entity-sieve/pkg/transform"
	"github.com/pkg/errors"
)

// RecordSink receives the records of new entities
type RecordSink interface {
	// Write persists one record
	Write(ctx context.Context, record transform.Record) error

	// Close flushes anything still buffered
	Close() error
}

// NDJSONSink writes one JSON object per line
type NDJSONSink struct {
	mu      sync.Mutex
	w       *bufio.Writer
	written int
}

// NewNDJSONSink creates a sink over w
func NewNDJSONSink(w io.Writer) *NDJSONSink {
	return &NDJSONSink{
		w: bufio.NewWriter(w),
	}
}

// Write encodes record and flushes the line so it is visible downstream
// while later lookups are still running
func (s *NDJSONSink) Write(ctx context.Context, record transform.Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return errors.Wrapf(err, "encode record %s", record.Nit)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.w.Write(data); err != nil {
		return errors.Wrap(err, "write record")
	}
	if err := s.w.WriteByte('\n'); err != nil {
		return errors.Wrap(err, "write record")
	}
	if err := s.w.Flush(); err != nil {
		return errors.Wrap(err, "flush output")
	}
	s.written++
	return nil
}

// Written returns the number of records written
func (s *NDJSONSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}

// Close flushes the underlying writer. It does not close it.
func (s *NDJSONSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Flush()
}
