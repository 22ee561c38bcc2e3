package orchestrator

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

var errSinkClosed = errors.New("stream sink closed: request has ended")

// streamSink forwards audio to the caller's writer until close. Writes that
// start after close fail with errSinkClosed.
type streamSink struct {
	w      io.Writer
	closed atomic.Bool
}

func (s *streamSink) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, errSinkClosed
	}
	return s.w.Write(p)
}

func (s *streamSink) Flush() {
	if s.closed.Load() {
		return
	}
	if f, ok := s.w.(interface{ Flush() }); ok {
		f.Flush()
	}
}

func (s *streamSink) close() { s.closed.Store(true) }

// interrupt expires the write deadline of writers that support one, so a
// write blocked on a slow client returns. It reports whether it did.
func (s *streamSink) interrupt() bool {
	d, ok := s.w.(interface{ SetWriteDeadline(time.Time) error })
	if !ok {
		return false
	}
	return d.SetWriteDeadline(time.Now()) == nil
}
