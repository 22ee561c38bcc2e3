package orchestrator

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/realtime"
)

func filled(n int, b byte) []byte { return bytes.Repeat([]byte{b}, n) }

func TestSynthesize_EmptyTextOpensNoSession(t *testing.T) {
	created := 0
	st := &recordingStats{}
	syn := NewSynthesizer(testConfig(), factoryOf(newFakeSession(nil), &created), st, nil)

	for _, text := range []string{"", "   "} {
		_, err := syn.Synthesize(context.Background(), text, "alloy")
		require.Error(t, err)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))

		err = syn.SynthesizeStream(context.Background(), text, "alloy", &bytes.Buffer{})
		assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	}
	assert.Zero(t, created)
	assert.Zero(t, st.chars)
}

func TestSynthesize_UnknownVoiceOpensNoSession(t *testing.T) {
	created := 0
	syn := NewSynthesizer(testConfig(), factoryOf(newFakeSession(nil), &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hello", "en-US-JennyNeural")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "unknown voice")

	err = syn.SynthesizeStream(context.Background(), "hello", "nobody", &bytes.Buffer{})
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Zero(t, created)
}

func TestSynthesize_MissingConfigOpensNoSession(t *testing.T) {
	created := 0
	cfg := testConfig()
	cfg.APIKey = ""
	syn := NewSynthesizer(cfg, factoryOf(newFakeSession(nil), &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hello", "alloy")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
	assert.Contains(t, err.Error(), "api key")
	assert.Zero(t, created)
}

func TestSynthesize_ConcatenatesChunksInOrder(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {
			audioDelta(filled(100, 1)),
			audioDelta(filled(200, 2)),
			audioDelta(filled(50, 3)),
			responseDone("completed"),
		},
	})
	created := 0
	st := &recordingStats{}
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), st, nil)

	wav, err := syn.Synthesize(context.Background(), "héllo wörld", "shimmer")
	require.NoError(t, err)

	require.Len(t, wav, audio.HeaderSize+350)
	assert.Equal(t, uint32(350), binary.LittleEndian.Uint32(wav[40:44]))
	pcm := wav[audio.HeaderSize:]
	assert.Equal(t, filled(100, 1), pcm[:100])
	assert.Equal(t, filled(200, 2), pcm[100:300])
	assert.Equal(t, filled(50, 3), pcm[300:])

	assert.Equal(t, 1, created)
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, 11, st.chars)
	assert.Equal(t, []string{"synthesize:ok"}, st.outcomes)

	cmds := sess.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "session.update", cmds[0].Type)
	assert.Equal(t, "shimmer", cmds[0].Session.Voice)
	assert.Equal(t, realtime.AudioFormatPCM16, cmds[0].Session.OutputAudioFormat)
	assert.Equal(t, "conversation.item.create", cmds[1].Type)
	assert.Equal(t, "héllo wörld", cmds[1].Item.Content[0].Text)
	assert.Equal(t, "response.create", cmds[2].Type)
}

func TestSynthesize_SkipsVoiceConfigForGADeployments(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {audioDelta([]byte{1, 2}), responseDone("completed")},
	})
	cfg := testConfig()
	cfg.Deployment = "gpt-realtime"
	created := 0
	syn := NewSynthesizer(cfg, factoryOf(sess, &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hi", "")
	require.NoError(t, err)

	cmds := sess.commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "conversation.item.create", cmds[0].Type)
	assert.Equal(t, "response.create", cmds[1].Type)
}

func TestSynthesize_ForcedVoiceConfig(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {audioDelta([]byte{1, 2}), responseDone("completed")},
	})
	cfg := testConfig()
	cfg.Protocol = config.ProtocolDirect
	on := true
	cfg.SendVoiceConfig = &on
	created := 0
	syn := NewSynthesizer(cfg, factoryOf(sess, &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hi", "")
	require.NoError(t, err)

	cmds := sess.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "alloy", cmds[0].Session.Voice)
}

func TestSynthesize_TimeoutClosesSession(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {audioDelta(filled(10, 1))},
	})
	cfg := testConfig()
	cfg.SynthesisTimeout = 150 * time.Millisecond
	created := 0
	st := &recordingStats{}
	syn := NewSynthesizer(cfg, factoryOf(sess, &created), st, nil)

	start := time.Now()
	_, err := syn.Synthesize(context.Background(), "hello", "alloy")
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
	assert.True(t, apperr.IsTimeout(err))
	assert.GreaterOrEqual(t, elapsed, 150*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, []string{"synthesize:timeout"}, st.outcomes)
	assert.Equal(t, 5, st.chars)
}

func TestSynthesize_OpenFailure(t *testing.T) {
	sess := newFakeSession(nil)
	sess.openErr = apperr.ConnectionTimeout("realtime.open", 10*time.Second)
	created := 0
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hello", "alloy")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConnection))
	assert.Equal(t, 1, sess.closeCount())
	assert.Empty(t, sess.commands())
}

func TestSynthesize_FailedResponseCarriesProviderError(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {
			{Kind: realtime.EventError, Type: "error", Error: &realtime.ProviderError{Code: "content_filter", Message: "blocked"}},
			responseDone("failed"),
		},
	})
	created := 0
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hello", "alloy")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
	assert.Contains(t, err.Error(), "content_filter")
	var pe *realtime.ProviderError
	assert.ErrorAs(t, err, &pe)
}

func TestSynthesize_NoAudio(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {responseDone("completed")},
	})
	created := 0
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), nil, nil)

	_, err := syn.Synthesize(context.Background(), "hello", "alloy")
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
}

func TestSynthesize_SessionDropped(t *testing.T) {
	sess := newFakeSession(nil)
	created := 0
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), nil, nil)

	go func() {
		assert.Eventually(t, func() bool { return len(sess.commands()) == 3 }, time.Second, time.Millisecond)
		sess.drop(errReset)
	}()

	_, err := syn.Synthesize(context.Background(), "hello", "alloy")
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindConnection))
	assert.ErrorIs(t, err, errReset)
}

func TestSynthesizeStream_WritesChunksAsTheyArrive(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {
			audioDelta([]byte{1, 1}),
			audioDelta([]byte{2, 2, 2}),
			responseDone("completed"),
			audioDelta([]byte{9}),
		},
	})
	created := 0
	st := &recordingStats{}
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), st, nil)

	var buf bytes.Buffer
	err := syn.SynthesizeStream(context.Background(), "stream me", "echo", &buf)
	require.NoError(t, err)

	assert.Equal(t, []byte{1, 1, 2, 2, 2}, buf.Bytes())
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, 9, st.chars)
	assert.Equal(t, []string{"synthesize_stream:ok"}, st.outcomes)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("client went away") }

func TestSynthesizeStream_SinkErrorEndsRequest(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {audioDelta([]byte{1}), audioDelta([]byte{2})},
	})
	created := 0
	syn := NewSynthesizer(testConfig(), factoryOf(sess, &created), nil, nil)

	err := syn.SynthesizeStream(context.Background(), "hello", "alloy", failingWriter{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client went away")
	assert.Equal(t, 1, sess.closeCount())
}

func TestSynthesizeStream_Timeout(t *testing.T) {
	sess := newFakeSession(nil)
	cfg := testConfig()
	cfg.SynthesisTimeout = 100 * time.Millisecond
	created := 0
	syn := NewSynthesizer(cfg, factoryOf(sess, &created), nil, nil)

	start := time.Now()
	err := syn.SynthesizeStream(context.Background(), "hello", "alloy", &bytes.Buffer{})
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 1, sess.closeCount())
}

// stuckWriter blocks every Write until its write deadline is expired.
type stuckWriter struct {
	mu       sync.Mutex
	writes   int
	released chan struct{}
	once     sync.Once
}

func newStuckWriter() *stuckWriter { return &stuckWriter{released: make(chan struct{})} }

func (w *stuckWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.writes++
	w.mu.Unlock()
	<-w.released
	return 0, errors.New("i/o timeout")
}

func (w *stuckWriter) SetWriteDeadline(time.Time) error {
	w.once.Do(func() { close(w.released) })
	return nil
}

func (w *stuckWriter) writeCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writes
}

func TestSynthesizeStream_BlockedSinkIsInterrupted(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"response.create": {audioDelta([]byte{1}), audioDelta([]byte{2})},
	})
	cfg := testConfig()
	cfg.SynthesisTimeout = 100 * time.Millisecond
	created := 0
	syn := NewSynthesizer(cfg, factoryOf(sess, &created), nil, nil)
	syn.closeWait = 50 * time.Millisecond

	w := newStuckWriter()
	start := time.Now()
	err := syn.SynthesizeStream(context.Background(), "hello", "alloy", w)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
	assert.Less(t, elapsed, time.Second)
	select {
	case <-sess.Done():
	default:
		t.Fatal("read loop still running after SynthesizeStream returned")
	}
	// The second delta arrives after the request ended and is never written.
	assert.Equal(t, 1, w.writeCount())
}

func TestStreamSink_RefusesWritesAfterClose(t *testing.T) {
	var buf bytes.Buffer
	out := &streamSink{w: &buf}
	_, err := out.Write([]byte{1})
	require.NoError(t, err)

	out.close()
	_, err = out.Write([]byte{2})
	assert.ErrorIs(t, err, errSinkClosed)
	assert.Equal(t, []byte{1}, buf.Bytes())
	assert.False(t, out.interrupt())
}
