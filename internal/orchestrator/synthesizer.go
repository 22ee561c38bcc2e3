package orchestrator

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/udayansarma/voice-ai-chat/internal/apperr"
	"github.com/udayansarma/voice-ai-chat/internal/audio"
	"github.com/udayansarma/voice-ai-chat/internal/config"
	"github.com/udayansarma/voice-ai-chat/internal/realtime"
	"github.com/udayansarma/voice-ai-chat/internal/stats"
	"github.com/udayansarma/voice-ai-chat/internal/voice"
)

// readAloudInstructions keeps the conversational model from answering the
// text instead of speaking it.
const readAloudInstructions = "Read the user's message aloud exactly as written. Do not add, omit or answer anything."

var responseModalities = []string{"audio", "text"}

// synthesisJob collects the audio of one response. chunks is append-only and
// final once complete is closed.
type synthesisJob struct {
	text  string
	voice string

	mu       sync.Mutex
	chunks   [][]byte
	size     int
	status   string
	lastErr  *realtime.ProviderError
	sinkErr  error
	complete chan struct{}
	once     sync.Once
}

func newSynthesisJob(text, voiceToken string) *synthesisJob {
	return &synthesisJob{text: text, voice: voiceToken, complete: make(chan struct{})}
}

func (j *synthesisJob) appendChunk(b []byte) {
	j.mu.Lock()
	j.chunks = append(j.chunks, b)
	j.size += len(b)
	j.mu.Unlock()
}

func (j *synthesisJob) finish(status string) {
	j.once.Do(func() {
		j.mu.Lock()
		j.status = status
		j.mu.Unlock()
		close(j.complete)
	})
}

func (j *synthesisJob) done() bool {
	select {
	case <-j.complete:
		return true
	default:
		return false
	}
}

func (j *synthesisJob) providerError(pe *realtime.ProviderError) {
	j.mu.Lock()
	j.lastErr = pe
	j.mu.Unlock()
}

func (j *synthesisJob) failSink(err error) {
	j.mu.Lock()
	if j.sinkErr == nil {
		j.sinkErr = err
	}
	j.mu.Unlock()
	j.finish("sink_error")
}

func (j *synthesisJob) addStreamed(n int) {
	j.mu.Lock()
	j.size += n
	j.mu.Unlock()
}

func (j *synthesisJob) audioSize() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.size
}

// audio concatenates the chunks in arrival order.
func (j *synthesisJob) audio() []byte {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]byte, 0, j.size)
	for _, c := range j.chunks {
		out = append(out, c...)
	}
	return out
}

// result classifies a completed job.
func (j *synthesisJob) result(op string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.sinkErr != nil {
		return fmt.Errorf("%s: write audio: %w", op, j.sinkErr)
	}
	if j.status == "failed" || j.status == "cancelled" {
		return j.providerFailure(op, "response %s", j.status)
	}
	if j.size == 0 {
		return j.providerFailure(op, "response contained no audio")
	}
	return nil
}

func (j *synthesisJob) providerFailure(op, format string, args ...any) error {
	e := apperr.Provider(op, format, args...)
	if j.lastErr != nil {
		e.Cause = j.lastErr
	}
	return e
}

// Synthesizer turns text into speech over a realtime session.
type Synthesizer struct {
	cfg      config.RealtimeConfig
	sessions SessionFactory
	stats    StatsSink
	logger   *zap.Logger

	// closeWait bounds each wait for the read loop at the end of a stream.
	closeWait time.Duration
}

func NewSynthesizer(cfg config.RealtimeConfig, sessions SessionFactory, sink StatsSink, logger *zap.Logger) *Synthesizer {
	if sink == nil {
		sink = stats.Nop{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{
		cfg:      cfg,
		sessions: sessions,
		stats:    sink,
		logger:   logger.With(zap.String("component", "synthesizer")),

		closeWait: closeWait,
	}
}

// Synthesize returns the spoken text as a 24 kHz mono WAV file.
func (s *Synthesizer) Synthesize(ctx context.Context, text, voiceToken string) ([]byte, error) {
	const op = "synthesize"
	start := time.Now()
	job, err := s.run(ctx, op, text, voiceToken, nil)
	s.stats.ObserveRequest(op, outcome(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	pcm := job.audio()
	s.logger.Info("synthesis completed",
		zap.String("voice", job.voice),
		zap.Int("pcm_bytes", len(pcm)),
		zap.Duration("elapsed", time.Since(start)))
	return audio.FramePCM16(pcm), nil
}

// SynthesizeStream writes raw PCM chunks to sink as they arrive. A sink
// write error ends the request.
func (s *Synthesizer) SynthesizeStream(ctx context.Context, text, voiceToken string, sink io.Writer) error {
	const op = "synthesize_stream"
	if sink == nil {
		return apperr.Validation(op, "sink is required")
	}
	start := time.Now()
	job, err := s.run(ctx, op, text, voiceToken, sink)
	s.stats.ObserveRequest(op, outcome(err), time.Since(start))
	if err == nil {
		s.logger.Info("streaming synthesis completed",
			zap.String("voice", job.voice),
			zap.Int("pcm_bytes", job.audioSize()),
			zap.Duration("elapsed", time.Since(start)))
	}
	return err
}

func (s *Synthesizer) run(ctx context.Context, op, text, voiceToken string, sink io.Writer) (_ *synthesisJob, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.Validation(op, "text is required")
	}
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	if voiceToken == "" {
		voiceToken = voice.Default
	}
	if !voice.Known(voiceToken) {
		return nil, apperr.Validation(op, "unknown voice %q", voiceToken)
	}
	s.stats.AddCharacters(utf8.RuneCountInString(text))

	ctx, span := tracer.Start(ctx, "orchestrator."+op, trace.WithAttributes(
		attribute.String("voice", voiceToken),
		attribute.Int("text.chars", utf8.RuneCountInString(text)),
		attribute.Bool("streaming", sink != nil),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	job := newSynthesisJob(text, voiceToken)
	sess := s.sessions()
	var out *streamSink
	if sink != nil {
		out = &streamSink{w: sink}
	}
	defer func() {
		if out != nil {
			out.close()
		}
		sess.Close()
		if out != nil {
			s.awaitReadLoop(sess, out)
		}
	}()

	if out != nil {
		sess.On(realtime.EventAudioDelta, func(ev realtime.Event) {
			if job.done() || len(ev.Audio) == 0 {
				return
			}
			if _, werr := out.Write(ev.Audio); werr != nil {
				job.failSink(werr)
				return
			}
			out.Flush()
			job.addStreamed(len(ev.Audio))
		})
	} else {
		sess.On(realtime.EventAudioDelta, func(ev realtime.Event) {
			if !job.done() {
				job.appendChunk(ev.Audio)
			}
		})
	}
	sess.On(realtime.EventResponseDone, func(ev realtime.Event) { job.finish(ev.ResponseStatus) })
	sess.On(realtime.EventError, func(ev realtime.Event) { job.providerError(ev.Error) })

	if err := sess.Open(ctx); err != nil {
		return nil, err
	}

	if s.cfg.VoiceConfigEnabled() {
		update := realtime.UpdateSession(realtime.SessionConfig{
			Voice:             voiceToken,
			Modalities:        responseModalities,
			Instructions:      readAloudInstructions,
			OutputAudioFormat: realtime.AudioFormatPCM16,
		})
		if err := sess.Send(ctx, update); err != nil {
			return nil, err
		}
	}
	if err := sess.Send(ctx, realtime.UserText(text)); err != nil {
		return nil, err
	}
	if err := sess.Send(ctx, realtime.CreateResponse(&realtime.ResponseOptions{
		Modalities:   responseModalities,
		Instructions: readAloudInstructions,
	})); err != nil {
		return nil, err
	}

	timeout := orDefault(s.cfg.SynthesisTimeout, defaultSynthesisTimeout)
	if sink != nil {
		err = awaitCompletion(ctx, sess, op, timeout, job.complete)
	} else {
		err = pollUntil(ctx, sess, op, orDefault(s.cfg.PollInterval, defaultPollInterval), timeout, job.done)
	}
	if err != nil {
		if apperr.IsKind(err, apperr.KindTimeout) {
			s.logger.Warn("synthesis timed out", zap.Duration("timeout", timeout), zap.Int("pcm_bytes", job.audioSize()))
		}
		return nil, err
	}
	if err := job.result(op); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("audio.bytes", job.audioSize()))
	return job, nil
}

// awaitReadLoop waits for the read loop to leave any in-flight sink write, so
// the caller's writer is not touched after the request returns. A write still
// blocked after closeWait is interrupted through the sink's write deadline
// when it has one.
func (s *Synthesizer) awaitReadLoop(sess RealtimeSession, out *streamSink) {
	select {
	case <-sess.Done():
		return
	case <-time.After(s.closeWait):
	}
	if out.interrupt() {
		select {
		case <-sess.Done():
			return
		case <-time.After(s.closeWait):
		}
	}
	s.logger.Warn("stream sink write still blocked after request end")
}

// awaitCompletion blocks on complete without polling.
func awaitCompletion(ctx context.Context, sess RealtimeSession, op string, timeout time.Duration, complete <-chan struct{}) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	select {
	case <-complete:
		return nil
	case <-deadline.C:
		return apperr.Timeout(op, timeout)
	case <-sess.Done():
		select {
		case <-complete:
			return nil
		default:
		}
		return sessionEnded(op, sess)
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	}
}
