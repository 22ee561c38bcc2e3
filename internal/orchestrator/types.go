// Package orchestrator drives one realtime session per synthesis or
// recognition request.
package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/realtime"
)

const instrumentationName = "github.com/udayansarma/voice-ai-chat/internal/orchestrator"

var tracer = otel.Tracer(instrumentationName)

// RealtimeSession is the part of realtime.Session the orchestrators drive.
type RealtimeSession interface {
	Open(ctx context.Context) error
	On(kind realtime.EventKind, h realtime.Handler)
	Send(ctx context.Context, cmd realtime.Command) error
	Close() error
	// Done is closed when the session's read loop stops; Err then reports why.
	Done() <-chan struct{}
	Err() error
}

// SessionFactory returns a new, unopened session for one request.
type SessionFactory func() RealtimeSession

// StatsSink receives request telemetry. Implementations must be safe for
// concurrent use.
type StatsSink interface {
	AddCharacters(n int)
	ObserveRequest(op, outcome string, d time.Duration)
}

// NewSessionFactory builds sessions over the dialer variant cfg selects.
func NewSessionFactory(cfg config.RealtimeConfig, logger *zap.Logger) SessionFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	dialer := realtime.NewDialer(cfg, logger)
	return func() RealtimeSession {
		return realtime.NewSession(dialer,
			realtime.WithLogger(logger),
			realtime.WithReadyTimeout(cfg.ReadyTimeout))
	}
}
