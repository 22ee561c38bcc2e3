package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
)

// DefaultReadyTimeout bounds the wait for session.created after dialing.
const DefaultReadyTimeout = 10 * time.Second

// ErrNotReady is returned by Send before session.created arrives or after Close.
var ErrNotReady = errors.New("realtime: session not ready")

// State is the lifecycle position of a Session.
type State int

const (
	StateNew State = iota
	StateConnecting
	StateAwaitingReady
	StateReady
	StateClosing
	StateClosed
	// StateFailed is entered on a fatal transport error and immediately
	// followed by StateClosed.
	StateFailed
)

var stateNames = [...]string{
	StateNew:           "new",
	StateConnecting:    "connecting",
	StateAwaitingReady: "awaiting_ready",
	StateReady:         "ready",
	StateClosing:       "closing",
	StateClosed:        "closed",
	StateFailed:        "failed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Handler receives one inbound event on the session's read goroutine.
type Handler func(Event)

// Option configures a Session.
type Option func(*Session)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithReadyTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.readyTimeout = d
		}
	}
}

// Session is one realtime conversation bound to a single transport. It is
// created per request and must be closed on every exit path.
type Session struct {
	dialer       Dialer
	logger       *zap.Logger
	readyTimeout time.Duration

	mu        sync.Mutex
	state     State
	transport Transport
	handlers  map[EventKind][]Handler
	sessionID string
	err       error
	started   bool

	writeMu sync.Mutex

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
	cancel    context.CancelFunc
}

// NewSession returns an unopened session that will dial through dialer.
func NewSession(dialer Dialer, opts ...Option) *Session {
	s := &Session{
		dialer:       dialer,
		logger:       zap.NewNop(),
		readyTimeout: DefaultReadyTimeout,
		handlers:     make(map[EventKind][]Handler),
		ready:        make(chan struct{}),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "realtime_session"))
	return s
}

// Open dials the provider and blocks until session.created, the ready
// timeout, or ctx ends. On any failure the transport is already closed.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNew {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("realtime: open called in state %s", state)
	}
	s.state = StateConnecting
	s.mu.Unlock()

	start := time.Now()
	t, err := s.dialer.Dial(ctx)
	if err != nil {
		s.logger.Warn("realtime dial failed", zap.Error(err))
		s.Close()
		if apperr.KindOf(err) != "" {
			return err
		}
		return apperr.Connection("realtime.open", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state != StateConnecting {
		// Closed while dialing.
		s.mu.Unlock()
		cancel()
		_ = t.Close()
		return apperr.Connection("realtime.open", ErrNotReady)
	}
	s.transport = t
	s.cancel = cancel
	s.state = StateAwaitingReady
	s.started = true
	s.mu.Unlock()

	go s.readLoop(loopCtx, t)

	timer := time.NewTimer(s.readyTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
		s.logger.Debug("realtime session ready",
			zap.String("session_id", s.SessionID()),
			zap.Duration("elapsed", time.Since(start)))
		return nil
	case <-s.done:
		s.Close()
		cause := s.Err()
		if cause == nil {
			cause = errors.New("connection closed before session.created")
		}
		return apperr.Connection("realtime.open", cause)
	case <-timer.C:
		s.logger.Warn("realtime session not ready in time", zap.Duration("timeout", s.readyTimeout))
		s.Close()
		return apperr.ConnectionTimeout("realtime.open", s.readyTimeout)
	case <-ctx.Done():
		s.Close()
		return apperr.Connection("realtime.open", ctx.Err())
	}
}

// On appends h to the handlers for kind. Handlers registered after Close are dropped.
func (s *Session) On(kind EventKind, h Handler) {
	if h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handlers == nil {
		return
	}
	s.handlers[kind] = append(s.handlers[kind], h)
}

// Send serializes cmd and writes it. It fails with ErrNotReady unless the
// session has reached StateReady.
func (s *Session) Send(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	state, t := s.state, s.transport
	s.mu.Unlock()
	if state != StateReady {
		return apperr.Connection("realtime.send", fmt.Errorf("%w (state %s)", ErrNotReady, state))
	}

	if cmd.EventID == "" {
		cmd.EventID = newEventID()
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("realtime: encode %s: %w", cmd.Type, err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := t.WriteMessage(ctx, data); err != nil {
		return apperr.Connection("realtime.send", err)
	}
	s.logger.Debug("realtime command sent", zap.String("type", cmd.Type), zap.String("event_id", cmd.EventID))
	return nil
}

// Close releases the transport and discards the handler registry. Safe to
// call more than once and from a handler.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.state != StateFailed {
			s.state = StateClosing
		}
		t, cancel, started := s.transport, s.cancel, s.started
		s.handlers = nil
		s.mu.Unlock()

		if t != nil {
			s.closeErr = t.Close()
		}
		if cancel != nil {
			cancel()
		}
		if !started {
			s.doneOnce.Do(func() { close(s.done) })
		}

		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
	})
	return s.closeErr
}

// Done is closed once the read loop has stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports the fatal transport error that ended the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID is the provider's id from session.created.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) readLoop(ctx context.Context, t Transport) {
	var loopErr error
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("realtime read loop panic", zap.Any("panic", r))
			loopErr = fmt.Errorf("realtime: read loop panic: %v", r)
		}
		s.finish(loopErr)
	}()

	for {
		data, err := t.ReadMessage(ctx)
		if err != nil {
			if s.closing() {
				return
			}
			s.logger.Warn("realtime transport read failed", zap.Error(err))
			loopErr = err
			return
		}

		ev, err := ParseEvent(data)
		if err != nil {
			s.logger.Warn("dropping undecodable realtime event", zap.Error(err))
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev Event) {
	s.mu.Lock()
	if ev.Kind == EventSessionCreated && s.state == StateAwaitingReady {
		s.state = StateReady
		s.sessionID = ev.SessionID
		s.readyOnce.Do(func() { close(s.ready) })
	}
	specific := append([]Handler(nil), s.handlers[ev.Kind]...)
	wildcard := append([]Handler(nil), s.handlers[EventAny]...)
	s.mu.Unlock()

	if ev.Kind == EventError && ev.Error != nil {
		s.logger.Warn("realtime provider error",
			zap.String("type", ev.Error.Type),
			zap.String("code", ev.Error.Code),
			zap.String("message", ev.Error.Message))
	}
	if ev.Kind == EventUnknown {
		s.logger.Debug("unhandled realtime event", zap.String("type", ev.Type))
	}

	for _, h := range specific {
		h(ev)
	}
	for _, h := range wildcard {
		h(ev)
	}
}

func (s *Session) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateClosing || s.state == StateClosed
}

// finish runs once when the read loop exits. A transport error moves the
// session through StateFailed to StateClosed.
func (s *Session) finish(err error) {
	failed := false
	s.mu.Lock()
	if err != nil && s.state != StateClosing && s.state != StateClosed {
		s.state = StateFailed
		s.err = err
		failed = true
	}
	s.mu.Unlock()

	if failed {
		s.Close()
	}
	s.doneOnce.Do(func() { close(s.done) })
}

func newEventID() string {
	return "evt_" + uuid.NewString()
}
