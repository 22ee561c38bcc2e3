package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/logging"
)

// ClientDialer connects to the preview deployment endpoint through the
// coder/websocket client handshake.
type ClientDialer struct {
	Endpoint         string
	APIKey           string
	Deployment       string
	APIVersion       string
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// ClientURL builds wss://<host>/openai/realtime?api-version=..&deployment=...
func ClientURL(endpoint, deployment, apiVersion string) (string, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	u.Path = "/openai/realtime"
	q := url.Values{}
	if apiVersion != "" {
		q.Set("api-version", apiVersion)
	}
	q.Set("deployment", deployment)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (d *ClientDialer) Dial(ctx context.Context) (Transport, error) {
	wsURL, err := ClientURL(d.Endpoint, d.Deployment, d.APIVersion)
	if err != nil {
		return nil, err
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	header := http.Header{}
	header.Set("api-key", d.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	logger.Info("connecting to realtime endpoint",
		zap.String("url", wsURL),
		zap.String("protocol", "client"),
		zap.String("api_key", logging.KeyPreview(d.APIKey)))

	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		if resp != nil {
			logger.Warn("realtime handshake rejected", zap.Int("status", resp.StatusCode))
			return nil, apperr.Connection("realtime.dial", fmt.Errorf("handshake status %d: %w", resp.StatusCode, err))
		}
		return nil, apperr.Connection("realtime.dial", err)
	}
	conn.SetReadLimit(maxMessageSize)
	abort, cancelReads := context.WithCancel(context.Background())
	return &coderTransport{conn: conn, abort: abort, cancelReads: cancelReads}, nil
}

type coderTransport struct {
	conn *websocket.Conn
	// abort is cancelled when a close handshake goes unanswered. Cancelling a
	// pending Read makes coder/websocket drop the connection.
	abort       context.Context
	cancelReads context.CancelFunc
	closeOnce   sync.Once
	closeErr    error
}

func (t *coderTransport) ReadMessage(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(t.abort, cancel)
	defer stop()
	_, data, err := t.conn.Read(ctx)
	return data, err
}

func (t *coderTransport) WriteMessage(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

// Close sends a normal close frame and waits up to closeGrace for the peer's
// reply. conn.Close waits for the read lock held by a pending ReadMessage and
// for the peer for up to 5 s each; past closeGrace the pending read is
// cancelled, which closes the underlying connection.
func (t *coderTransport) Close() error {
	t.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- t.conn.Close(websocket.StatusNormalClosure, "") }()

		timer := time.NewTimer(closeGrace)
		defer timer.Stop()
		select {
		case t.closeErr = <-done:
		case <-timer.C:
			t.cancelReads()
		}
		t.cancelReads()
	})
	return t.closeErr
}
