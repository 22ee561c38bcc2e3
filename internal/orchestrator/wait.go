package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
)

const (
	defaultPollInterval       = 100 * time.Millisecond
	defaultSynthesisTimeout   = 30 * time.Second
	defaultRecognitionTimeout = 10 * time.Second

	// closeWait bounds how long a request waits for its read loop after Close.
	closeWait = 2 * time.Second
)

// pollUntil checks done every interval until it reports true, the session
// stops, ctx ends, or timeout elapses.
func pollUntil(ctx context.Context, sess RealtimeSession, op string, interval, timeout time.Duration, done func() bool) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if done() {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			if done() {
				return nil
			}
			return apperr.Timeout(op, timeout)
		case <-sess.Done():
			if done() {
				return nil
			}
			return sessionEnded(op, sess)
		case <-ctx.Done():
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
	}
}

func sessionEnded(op string, sess RealtimeSession) error {
	cause := sess.Err()
	if cause == nil {
		cause = errors.New("realtime session closed")
	}
	return apperr.Connection(op, cause)
}

// outcome labels err for request metrics.
func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case apperr.KindOf(err) != "":
		return strings.ToLower(string(apperr.KindOf(err)))
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "error"
	}
}

func orDefault(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
