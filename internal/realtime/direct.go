package realtime

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/logging"
)

// DirectDialer connects to the GA realtime endpoint with a hand-built URL
// and key header auth.
type DirectDialer struct {
	Endpoint         string
	APIKey           string
	Deployment       string
	HandshakeTimeout time.Duration
	Logger           *zap.Logger
}

// DirectURL builds wss://<host>/openai/v1/realtime?model=<deployment>.
// http(s) endpoints are mapped to ws(s).
func DirectURL(endpoint, deployment string) (string, error) {
	u, err := parseEndpoint(endpoint)
	if err != nil {
		return "", err
	}
	u.Path = "/openai/v1/realtime"
	q := url.Values{}
	q.Set("model", deployment)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseEndpoint(endpoint string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return nil, apperr.Configuration("realtime", "invalid endpoint %q: %v", endpoint, err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return nil, apperr.Configuration("realtime", "endpoint %q must be http(s) or ws(s)", endpoint)
	}
	if u.Host == "" {
		return nil, apperr.Configuration("realtime", "endpoint %q has no host", endpoint)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

func (d *DirectDialer) Dial(ctx context.Context) (Transport, error) {
	wsURL, err := DirectURL(d.Endpoint, d.Deployment)
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
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set("api-key", d.APIKey)

	logger.Info("connecting to realtime endpoint",
		zap.String("url", wsURL),
		zap.String("protocol", "direct"),
		zap.String("api_key", logging.KeyPreview(d.APIKey)))

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			logger.Warn("realtime handshake rejected", zap.Int("status", resp.StatusCode))
			return nil, apperr.Connection("realtime.dial", fmt.Errorf("handshake status %d: %w", resp.StatusCode, err))
		}
		return nil, apperr.Connection("realtime.dial", err)
	}
	conn.SetReadLimit(maxMessageSize)
	return &gorillaTransport{conn: conn}, nil
}

type gorillaTransport struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

// ReadMessage blocks until a frame arrives; Close unblocks it.
func (t *gorillaTransport) ReadMessage(context.Context) ([]byte, error) {
	_, data, err := t.conn.ReadMessage()
	return data, err
}

func (t *gorillaTransport) WriteMessage(ctx context.Context, data []byte) error {
	deadline, _ := ctx.Deadline()
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *gorillaTransport) Close() error {
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace))
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}
