package orchestrator

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/realtime"
)

func transcriptionCompleted(text string) realtime.Event {
	return realtime.Event{
		Kind:       realtime.EventTranscriptionCompleted,
		Type:       "conversation.item.input_audio_transcription.completed",
		Transcript: text,
	}
}

func TestRecognize_EmptyInputOpensNoSession(t *testing.T) {
	created := 0
	rec := NewRecognizer(testConfig(), factoryOf(newFakeSession(nil), &created), nil, nil)

	for _, in := range []string{"", "  ", "data:audio/wav;base64,", "not base64!"} {
		_, err := rec.Recognize(context.Background(), in)
		require.Error(t, err, in)
		assert.True(t, apperr.IsKind(err, apperr.KindValidation), in)
	}
	assert.Zero(t, created)
}

func TestRecognize_ReturnsTranscriptVerbatim(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"input_audio_buffer.commit": {
			transcriptionCompleted(""),
			transcriptionCompleted(" Hello there. "),
			transcriptionCompleted("ignored"),
		},
	})
	created := 0
	st := &recordingStats{}
	rec := NewRecognizer(testConfig(), factoryOf(sess, &created), st, nil)

	pcm := []byte{1, 0, 2, 0, 3, 0}
	text, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString(pcm))
	require.NoError(t, err)
	assert.Equal(t, " Hello there. ", text)
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, []string{"recognize:ok"}, st.outcomes)

	cmds := sess.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, "session.update", cmds[0].Type)
	require.NotNil(t, cmds[0].Session.InputAudioTranscription)
	assert.Equal(t, "whisper-1", cmds[0].Session.InputAudioTranscription.Model)
	assert.Nil(t, cmds[0].Session.TurnDetection)
	assert.Equal(t, "input_audio_buffer.append", cmds[1].Type)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), cmds[1].Audio)
	assert.Equal(t, "input_audio_buffer.commit", cmds[2].Type)
}

func TestRecognize_SplitsLargeAudio(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"input_audio_buffer.commit": {transcriptionCompleted("long")},
	})
	created := 0
	rec := NewRecognizer(testConfig(), factoryOf(sess, &created), nil, nil)

	pcm := make([]byte, 150<<10)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}
	_, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString(pcm))
	require.NoError(t, err)

	var rebuilt []byte
	appends := 0
	for _, cmd := range sess.commands() {
		if cmd.Type != "input_audio_buffer.append" {
			continue
		}
		appends++
		chunk, err := base64.StdEncoding.DecodeString(cmd.Audio)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), appendChunkSize)
		rebuilt = append(rebuilt, chunk...)
	}
	assert.Equal(t, 3, appends)
	assert.Equal(t, pcm, rebuilt)
}

func TestRecognize_AcceptsWAVAndDataURL(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"input_audio_buffer.commit": {transcriptionCompleted("ok")},
	})
	created := 0
	rec := NewRecognizer(testConfig(), factoryOf(sess, &created), nil, nil)

	pcm := []byte{5, 0, 6, 0}
	in := "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(audio.FramePCM16(pcm))
	_, err := rec.Recognize(context.Background(), in)
	require.NoError(t, err)

	cmds := sess.commands()
	require.Len(t, cmds, 3)
	assert.Equal(t, base64.StdEncoding.EncodeToString(pcm), cmds[1].Audio)
}

func TestRecognize_RejectsUnsupportedWAV(t *testing.T) {
	created := 0
	rec := NewRecognizer(testConfig(), factoryOf(newFakeSession(nil), &created), nil, nil)

	wav := audio.FrameWAV([]byte{1, 2, 3, 4}, 16000, 1, 16)
	_, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString(wav))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "16000 Hz")
	assert.Zero(t, created)
}

func TestRecognize_Timeout(t *testing.T) {
	sess := newFakeSession(nil)
	cfg := testConfig()
	cfg.RecognitionTimeout = 100 * time.Millisecond
	created := 0
	st := &recordingStats{}
	rec := NewRecognizer(cfg, factoryOf(sess, &created), st, nil)

	start := time.Now()
	_, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString([]byte{0, 0}))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindTimeout))
	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, []string{"recognize:timeout"}, st.outcomes)
}

func TestRecognize_TranscriptionFailureEndsRequest(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"input_audio_buffer.commit": {{
			Kind:  realtime.EventTranscriptionFailed,
			Type:  "conversation.item.input_audio_transcription.failed",
			Error: &realtime.ProviderError{Code: "audio_unintelligible", Message: "no speech"},
		}},
	})
	cfg := testConfig()
	cfg.RecognitionTimeout = 2 * time.Second
	created := 0
	st := &recordingStats{}
	rec := NewRecognizer(cfg, factoryOf(sess, &created), st, nil)

	start := time.Now()
	_, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString([]byte{0, 0}))
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
	assert.Contains(t, err.Error(), "audio_unintelligible")
	var pe *realtime.ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.Less(t, elapsed, 500*time.Millisecond)
	assert.Equal(t, 1, sess.closeCount())
	assert.Equal(t, []string{"recognize:provider"}, st.outcomes)
}

func TestRecognize_FailureWithoutDetails(t *testing.T) {
	sess := newFakeSession(map[string][]realtime.Event{
		"input_audio_buffer.commit": {{
			Kind: realtime.EventTranscriptionFailed,
			Type: "conversation.item.input_audio_transcription.failed",
		}},
	})
	created := 0
	rec := NewRecognizer(testConfig(), factoryOf(sess, &created), nil, nil)

	_, err := rec.Recognize(context.Background(), base64.StdEncoding.EncodeToString([]byte{0, 0}))
	require.Error(t, err)
	assert.True(t, apperr.IsKind(err, apperr.KindProvider))
}

func TestRecognize_ContextCancelled(t *testing.T) {
	sess := newFakeSession(nil)
	created := 0
	rec := NewRecognizer(testConfig(), factoryOf(sess, &created), nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := rec.Recognize(ctx, base64.StdEncoding.EncodeToString([]byte{0, 0}))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, sess.closeCount())
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "validation", outcome(apperr.Validation("x", "bad")))
	assert.Equal(t, "canceled", outcome(context.Canceled))
}
