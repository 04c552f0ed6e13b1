// Package warcstream adapts a byte stream into response records, wrapping
// github.com/internetarchive/gowarc's multi-member gzip and WARC framing.
package warcstream

import (
	"errors"
	"io"

	warc "github.com/internetarchive/gowarc"
)

// ErrMalformed marks a record that could not be parsed from the stream.
// Reader never returns it - malformed records are skipped silently, per the
// WARC framing contract.
var ErrMalformed = errors.New("warcstream: malformed record")

// Header is the case-insensitive WARC header lookup gowarc's own record
// type provides; declared as an interface here so Record doesn't have to
// name gowarc's concrete header type.
type Header interface {
	Get(key string) string
}

// Record is a framed response record: its WARC headers and the raw HTTP
// payload bytes (status line, headers, body), fully read into memory so it
// can be handed to a worker pool without holding the underlying stream
// open.
type Record struct {
	Header  Header
	Content []byte
}

// Reader yields response records from an underlying byte stream. It is a
// single-producer, forward-only iterator; downstream parallelism belongs to
// the caller.
type Reader struct {
	wr *warc.Reader
}

// NewReader wraps r, which may span multiple concatenated gzip members (the
// usual case for Common Crawl WARC files); gowarc decodes across all of
// them until the underlying stream EOFs.
func NewReader(r io.Reader) (*Reader, error) {
	wr, err := warc.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &Reader{wr: wr}, nil
}

// Next returns the next response record, skipping any record whose
// WARC-Type is not "response" and any record gowarc itself fails to parse.
// It returns io.EOF once the stream is exhausted. Content is read fully
// before Next returns, since the underlying reader is forward-only and a
// record's body must be drained before the next one can be framed.
func (r *Reader) Next() (*Record, error) {
	for {
		rec, err := r.wr.ReadRecord()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			// A single malformed record does not end the stream: gowarc has
			// already resynchronized on the next record boundary by the time
			// it returns an error here, so keep reading.
			continue
		}
		if rec.Header.Get("WARC-Type") != "response" {
			continue
		}
		body, err := io.ReadAll(rec.Content)
		if err != nil {
			continue
		}
		return &Record{Header: rec.Header, Content: body}, nil
	}
}

// Each calls fn for every response record in r until the stream ends or fn
// returns an error, which is propagated to the caller.
func Each(r io.Reader, fn func(*Record) error) error {
	reader, err := NewReader(r)
	if err != nil {
		return err
	}
	for {
		rec, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
