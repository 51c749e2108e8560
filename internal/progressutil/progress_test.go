package progressutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingWriter struct {
	totals []int64
}

type recordingProgress struct {
	added  *int
	closed *bool
}

func (r *recordingProgress) Add(n int)  { *r.added += n }
func (r *recordingProgress) Close() error {
	*r.closed = true
	return nil
}

func (w *recordingWriter) NewCountProgress(total int64, description string) Progress {
	w.totals = append(w.totals, total)
	return &recordingProgress{added: new(int), closed: new(bool)}
}

func TestSetWriterOverridesDefault(t *testing.T) {
	defer SetWriter(nil)
	rw := &recordingWriter{}
	SetWriter(rw)

	p := NewCountProgress(5, "test")
	p.Add(2)
	assert.NoError(t, p.Close())
	assert.Equal(t, []int64{5}, rw.totals)
}

func TestSetQuietSuppressesBar(t *testing.T) {
	defer SetWriter(nil)
	SetQuiet(true)
	p := NewCountProgress(3, "test")
	p.Add(1)
	assert.NoError(t, p.Close())
}
