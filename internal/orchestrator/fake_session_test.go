package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/realtime"
)

// fakeSession plays scripted events back on a single goroutine, the way
// realtime.Session dispatches from its read loop.
type fakeSession struct {
	openErr error
	// replies maps a command type to the events emitted after it is sent.
	replies map[string][]realtime.Event

	mu       sync.Mutex
	handlers map[realtime.EventKind][]realtime.Handler
	sent     []realtime.Command
	opened   int
	closed   int
	err      error
	started  bool

	queue     chan realtime.Event
	stop      chan struct{}
	stopOnce  sync.Once
	done      chan struct{}
	closeOnce sync.Once
}

func newFakeSession(replies map[string][]realtime.Event) *fakeSession {
	return &fakeSession{
		replies:  replies,
		handlers: make(map[realtime.EventKind][]realtime.Handler),
		queue:    make(chan realtime.Event, 256),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (f *fakeSession) Open(context.Context) error {
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.mu.Lock()
	f.started = true
	f.mu.Unlock()
	go f.loop()
	return nil
}

func (f *fakeSession) loop() {
	defer close(f.done)
	for {
		select {
		case ev := <-f.queue:
			f.dispatch(ev)
		case <-f.stop:
			return
		}
	}
}

func (f *fakeSession) dispatch(ev realtime.Event) {
	f.mu.Lock()
	specific := append([]realtime.Handler(nil), f.handlers[ev.Kind]...)
	wildcard := append([]realtime.Handler(nil), f.handlers[realtime.EventAny]...)
	f.mu.Unlock()
	for _, h := range specific {
		h(ev)
	}
	for _, h := range wildcard {
		h(ev)
	}
}

func (f *fakeSession) On(kind realtime.EventKind, h realtime.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[kind] = append(f.handlers[kind], h)
}

func (f *fakeSession) Send(_ context.Context, cmd realtime.Command) error {
	f.mu.Lock()
	if !f.started || f.closed > 0 {
		f.mu.Unlock()
		return realtime.ErrNotReady
	}
	f.sent = append(f.sent, cmd)
	f.mu.Unlock()
	for _, ev := range f.replies[cmd.Type] {
		f.queue <- ev
	}
	return nil
}

func (f *fakeSession) Close() error {
	f.mu.Lock()
	f.closed++
	started := f.started
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stop) })
	if !started {
		f.closeOnce.Do(func() { close(f.done) })
	}
	return nil
}

// drop simulates a fatal transport error.
func (f *fakeSession) drop(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
	f.stopOnce.Do(func() { close(f.stop) })
}

func (f *fakeSession) Done() <-chan struct{} { return f.done }

func (f *fakeSession) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *fakeSession) commands() []realtime.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.Command(nil), f.sent...)
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// factoryOf hands out sess and counts how many sessions were requested.
func factoryOf(sess RealtimeSession, created *int) SessionFactory {
	return func() RealtimeSession {
		*created++
		return sess
	}
}

type recordingStats struct {
	mu       sync.Mutex
	chars    int
	outcomes []string
}

func (r *recordingStats) AddCharacters(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chars += n
}

func (r *recordingStats) ObserveRequest(op, outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, op+":"+outcome)
}

func testConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		Endpoint:           "https://example.openai.azure.com",
		APIKey:             "test-key",
		Deployment:         "gpt-4o-realtime-preview",
		APIVersion:         "2025-04-01-preview",
		SynthesisTimeout:   2 * time.Second,
		RecognitionTimeout: 2 * time.Second,
		PollInterval:       5 * time.Millisecond,
	}
}

func audioDelta(b []byte) realtime.Event {
	return realtime.Event{Kind: realtime.EventAudioDelta, Type: "response.audio.delta", Audio: b}
}

func responseDone(status string) realtime.Event {
	return realtime.Event{Kind: realtime.EventResponseDone, Type: "response.done", ResponseStatus: status}
}

var errReset = errors.New("connection reset by peer")
