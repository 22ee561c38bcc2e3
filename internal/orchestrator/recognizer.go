package orchestrator

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/realtime"
	"github.com/udayansarma/voice-ai-chat/internal/stats"
)

// appendChunkSize caps the decoded audio carried by one append command.
const appendChunkSize = 64 << 10

const defaultTranscriptionModel = "whisper-1"

// recognitionJob holds the outcome of one committed buffer. The first
// transcript or transcription failure wins.
type recognitionJob struct {
	mu         sync.Mutex
	transcript string
	failed     bool
	failure    *realtime.ProviderError
}

func (j *recognitionJob) record(transcript string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.transcript == "" && !j.failed {
		j.transcript = transcript
	}
}

func (j *recognitionJob) fail(pe *realtime.ProviderError) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.transcript == "" && !j.failed {
		j.failed = true
		j.failure = pe
	}
}

func (j *recognitionJob) done() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transcript != "" || j.failed
}

// result returns the transcript, or a Provider error when the provider
// reported that transcription failed.
func (j *recognitionJob) result(op string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.failed {
		return j.transcript, nil
	}
	e := apperr.Provider(op, "input audio transcription failed")
	if j.failure != nil {
		e.Cause = j.failure
	}
	return "", e
}

// Recognizer transcribes PCM16 audio over a realtime session.
type Recognizer struct {
	cfg      config.RealtimeConfig
	sessions SessionFactory
	stats    StatsSink
	logger   *zap.Logger
}

func NewRecognizer(cfg config.RealtimeConfig, sessions SessionFactory, sink StatsSink, logger *zap.Logger) *Recognizer {
	if sink == nil {
		sink = stats.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recognizer{
		cfg:      cfg,
		sessions: sessions,
		stats:    sink,
		logger:   logger.With(zap.String("component", "recognizer")),
	}
}

// Recognize transcribes base64 audio: raw 24 kHz PCM16 or a WAV file, with
// or without a data: URL prefix. The transcript is returned verbatim.
func (r *Recognizer) Recognize(ctx context.Context, audioBase64 string) (string, error) {
	const op = "recognize"
	start := time.Now()
	text, err := r.recognize(ctx, op, audioBase64)
	r.stats.ObserveRequest(op, outcome(err), time.Since(start))
	if err != nil {
		return "", err
	}
	r.logger.Info("recognition completed",
		zap.Int("chars", len(text)),
		zap.Duration("elapsed", time.Since(start)))
	return text, nil
}

func (r *Recognizer) recognize(ctx context.Context, op, audioBase64 string) (_ string, err error) {
	pcm, err := decodeAudio(op, audioBase64)
	if err != nil {
		return "", err
	}
	if err := r.cfg.Validate(); err != nil {
		return "", err
	}

	ctx, span := tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.Int("audio.bytes", len(pcm)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	job := &recognitionJob{}
	sess := r.sessions()
	defer sess.Close()

	sess.On(realtime.EventTranscriptionCompleted, func(ev realtime.Event) { job.record(ev.Transcript) })
	sess.On(realtime.EventTranscriptionFailed, func(ev realtime.Event) {
		r.logger.Warn("input transcription failed", zap.String("item_id", ev.ItemID))
		job.fail(ev.Error)
	})

	if err := sess.Open(ctx); err != nil {
		return "", err
	}

	model := r.cfg.TranscriptionModel
	if model == "" {
		model = defaultTranscriptionModel
	}
	update := realtime.UpdateSession(realtime.SessionConfig{
		Modalities:              []string{"text"},
		InputAudioFormat:        realtime.AudioFormatPCM16,
		InputAudioTranscription: &realtime.InputAudioTranscription{Model: model},
	})
	if err := sess.Send(ctx, update); err != nil {
		return "", err
	}
	for off := 0; off < len(pcm); off += appendChunkSize {
		end := min(off+appendChunkSize, len(pcm))
		chunk := base64.StdEncoding.EncodeToString(pcm[off:end])
		if err := sess.Send(ctx, realtime.AppendAudio(chunk)); err != nil {
			return "", err
		}
	}
	if err := sess.Send(ctx, realtime.CommitAudio()); err != nil {
		return "", err
	}

	timeout := orDefault(r.cfg.RecognitionTimeout, defaultRecognitionTimeout)
	interval := orDefault(r.cfg.PollInterval, defaultPollInterval)
	if err := pollUntil(ctx, sess, op, interval, timeout, job.done); err != nil {
		return "", err
	}
	text, err := job.result(op)
	if err != nil {
		return "", err
	}
	span.SetAttributes(attribute.Int("transcript.chars", len(text)))
	return text, nil
}

// decodeAudio returns the PCM payload of audioBase64.
func decodeAudio(op, audioBase64 string) ([]byte, error) {
	if strings.TrimSpace(audioBase64) == "" {
		return nil, apperr.Validation(op, "audioData is required")
	}
	data, err := audio.DecodeBase64(audioBase64)
	if err != nil {
		return nil, apperr.Validation(op, "audioData is not valid base64: %v", err)
	}
	if pcm, format, ok := audio.ParseWAV(data); ok {
		if format.SampleRate != audio.SampleRate || format.BitsPerSample != audio.BitsPerSample || format.Channels != audio.Channels {
			return nil, apperr.Validation(op, "unsupported WAV format %d Hz %d-bit %d-channel, want %d Hz 16-bit mono",
				format.SampleRate, format.BitsPerSample, format.Channels, audio.SampleRate)
		}
		data = pcm
	}
	if len(data) == 0 {
		return nil, apperr.Validation(op, "audioData contains no samples")
	}
	return data, nil
}
