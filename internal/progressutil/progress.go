// Package progressutil reports progress for long-running batch
// operations (glue generation across many pending glues, a merge pass
// across many target tiles). Grounded on the teacher's
// pmtiles/progress.go seam: a package-level, swappable Writer backed
// by github.com/schollz/progressbar/v3 by default, with a quiet no-op
// variant for tests and non-interactive runs.
package progressutil

import (
	"sync"

	"github.com/schollz/progressbar/v3"
)

// Writer creates progress trackers for count-based batch operations.
type Writer interface {
	NewCountProgress(total int64, description string) Progress
}

// Progress is one active progress tracker.
type Progress interface {
	Add(num int)
	Close() error
}

var (
	mu     sync.RWMutex
	writer Writer = &defaultWriter{}
)

// SetWriter installs w as the package-wide progress writer. Passing nil
// installs the quiet (no-op) writer.
func SetWriter(w Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		writer = &quietWriter{}
		return
	}
	writer = w
}

// SetQuiet toggles between the default schollz/progressbar writer and
// the no-op writer, for batch callers (e.g. cmd/vtsctl --quiet) that
// don't want a bar on a non-interactive stream.
func SetQuiet(quiet bool) {
	if quiet {
		SetWriter(&quietWriter{})
	} else {
		SetWriter(&defaultWriter{})
	}
}

func current() Writer {
	mu.RLock()
	defer mu.RUnlock()
	return writer
}

// NewCountProgress starts a progress tracker for a batch of total
// count-based steps, such as pending glues or merge target tiles.
func NewCountProgress(total int64, description string) Progress {
	return current().NewCountProgress(total, description)
}

type defaultWriter struct{}

func (defaultWriter) NewCountProgress(total int64, description string) Progress {
	return &barProgress{bar: progressbar.Default(total, description)}
}

type barProgress struct {
	bar *progressbar.ProgressBar
}

func (p *barProgress) Add(num int) {
	if p.bar != nil {
		p.bar.Add(num)
	}
}

func (p *barProgress) Close() error {
	if p.bar != nil {
		return p.bar.Close()
	}
	return nil
}

type quietWriter struct{}

func (quietWriter) NewCountProgress(total int64, description string) Progress {
	return &quietProgress{}
}

type quietProgress struct{}

func (quietProgress) Add(int)        {}
func (quietProgress) Close() error   { return nil }
