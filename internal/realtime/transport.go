package realtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/config"
)

// maxMessageSize bounds a single inbound provider message. Audio deltas are
// a few tens of KiB; session.created can carry the full tool list.
const maxMessageSize = 8 << 20

const defaultHandshakeTimeout = 10 * time.Second

// closeGrace bounds how long Close waits for the peer to answer a close frame.
const closeGrace = 250 * time.Millisecond

// Transport is one established WebSocket connection carrying text frames.
// ReadMessage is only called from a single goroutine; WriteMessage callers
// are serialized by the Session.
type Transport interface {
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
	// Close must return within a short grace period even if the peer is silent.
	Close() error
}

// Dialer opens a Transport to the realtime endpoint.
type Dialer interface {
	Dial(ctx context.Context) (Transport, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Transport, error)

func (f DialerFunc) Dial(ctx context.Context) (Transport, error) { return f(ctx) }

// NewDialer picks the handshake variant for cfg.
func NewDialer(cfg config.RealtimeConfig, logger *zap.Logger) Dialer {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.ResolvedProtocol() {
	case config.ProtocolDirect:
		return &DirectDialer{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Deployment: cfg.Deployment,
			Logger:     logger,
		}
	default:
		return &ClientDialer{
			Endpoint:   cfg.Endpoint,
			APIKey:     cfg.APIKey,
			Deployment: cfg.Deployment,
			APIVersion: cfg.APIVersion,
			Logger:     logger,
		}
	}
}
