// Package vtsio defines the opaque-stream contract tile payloads move
// through: the tileset and storage packages never interpret mesh/atlas/
// navtile bytes, only read and write them via these interfaces, and
// track that every stream they hand out gets closed.
package vtsio

import (
	"io"
	"sync"
)

// IStream is a read-only handle on a stored tile payload.
type IStream interface {
	io.ReadCloser
	// Stat returns the payload's size in bytes without reading it.
	Stat() (int64, error)
}

// OStream is a write handle a caller fills with a tile payload; Close
// commits it.
type OStream interface {
	io.WriteCloser
}

// bytesStream is the in-memory IStream used by drivers that
// buffer a whole payload before handing it to the archive layer.
type bytesStream struct {
	data   []byte
	reader int
	closed bool
}

// NewReader returns an IStream over an in-memory payload.
func NewReader(data []byte) IStream {
	return &bytesStream{data: data}
}

func (s *bytesStream) Read(p []byte) (int, error) {
	if s.closed {
		return 0, io.ErrClosedPipe
	}
	if s.reader >= len(s.data) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.reader:])
	s.reader += n
	return n, nil
}

func (s *bytesStream) Stat() (int64, error) { return int64(len(s.data)), nil }

func (s *bytesStream) Close() error {
	s.closed = true
	return nil
}

type bytesWriter struct {
	buf    []byte
	onDone func([]byte) error
	closed bool
}

// NewWriter returns an OStream that buffers writes in memory and calls
// onDone with the accumulated payload when Close is invoked.
func NewWriter(onDone func([]byte) error) OStream {
	return &bytesWriter{onDone: onDone}
}

func (w *bytesWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

func (w *bytesWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.onDone(w.buf)
}

// LeakTracker counts streams opened but never closed, so tests and
// long-running drivers can assert no handle was dropped on an error
// path (spec §3.8: "Archive streams are scoped handles — the archive
// guarantees they are closed and accounted for on all exit paths").
type LeakTracker struct {
	mu   sync.Mutex
	open int
}

// Opened records a stream being handed out.
func (lt *LeakTracker) Opened() { lt.mu.Lock(); lt.open++; lt.mu.Unlock() }

// Closed records a stream being closed.
func (lt *LeakTracker) Closed() { lt.mu.Lock(); lt.open--; lt.mu.Unlock() }

// Outstanding returns the number of streams opened but not yet closed.
func (lt *LeakTracker) Outstanding() int {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	return lt.open
}

// TrackReader wraps an IStream so Close is accounted for by lt.
func TrackReader(lt *LeakTracker, s IStream) IStream {
	lt.Opened()
	return &trackedReader{IStream: s, lt: lt}
}

type trackedReader struct {
	IStream
	lt     *LeakTracker
	closed bool
}

func (t *trackedReader) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true
	t.lt.Closed()
	return t.IStream.Close()
}
