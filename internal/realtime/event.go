package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// EventKind is the closed set of provider events the bridge reacts to.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventSessionCreated
	EventSessionUpdated
	EventError
	EventConversationItemCreated
	EventInputAudioCommitted
	EventTranscriptionCompleted
	EventTranscriptionFailed
	EventResponseCreated
	EventAudioDelta
	EventAudioDone
	EventAudioTranscriptDelta
	EventAudioTranscriptDone
	EventResponseDone
	EventRateLimitsUpdated

	// EventAny is a wildcard: its handlers receive every inbound event.
	EventAny
)

var kindNames = [...]string{
	EventUnknown:                 "unknown",
	EventSessionCreated:          "session.created",
	EventSessionUpdated:          "session.updated",
	EventError:                   "error",
	EventConversationItemCreated: "conversation.item.created",
	EventInputAudioCommitted:     "input_audio_buffer.committed",
	EventTranscriptionCompleted:  "transcription.completed",
	EventTranscriptionFailed:     "transcription.failed",
	EventResponseCreated:         "response.created",
	EventAudioDelta:              "audio.delta",
	EventAudioDone:               "audio.done",
	EventAudioTranscriptDelta:    "audio_transcript.delta",
	EventAudioTranscriptDone:     "audio_transcript.done",
	EventResponseDone:            "response.done",
	EventRateLimitsUpdated:       "rate_limits.updated",
	EventAny:                     "*",
}

func (k EventKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// ParseEventKind maps a wire type string to its kind. The GA protocol
// renamed the audio events to response.output_audio.*; both spellings map
// to the same kind.
func ParseEventKind(wireType string) EventKind {
	switch wireType {
	case "session.created":
		return EventSessionCreated
	case "session.updated":
		return EventSessionUpdated
	case "error":
		return EventError
	case "conversation.item.created", "conversation.item.added":
		return EventConversationItemCreated
	case "input_audio_buffer.committed":
		return EventInputAudioCommitted
	case "conversation.item.input_audio_transcription.completed":
		return EventTranscriptionCompleted
	case "conversation.item.input_audio_transcription.failed":
		return EventTranscriptionFailed
	case "response.created":
		return EventResponseCreated
	case "response.audio.delta", "response.output_audio.delta":
		return EventAudioDelta
	case "response.audio.done", "response.output_audio.done":
		return EventAudioDone
	case "response.audio_transcript.delta", "response.output_audio_transcript.delta":
		return EventAudioTranscriptDelta
	case "response.audio_transcript.done", "response.output_audio_transcript.done":
		return EventAudioTranscriptDone
	case "response.done":
		return EventResponseDone
	case "rate_limits.updated":
		return EventRateLimitsUpdated
	default:
		return EventUnknown
	}
}

// ProviderError is the payload of an error event.
type ProviderError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e *ProviderError) Error() string {
	switch {
	case e.Code != "":
		return fmt.Sprintf("realtime provider: %s: %s", e.Code, e.Message)
	case e.Type != "":
		return fmt.Sprintf("realtime provider: %s: %s", e.Type, e.Message)
	default:
		return "realtime provider: " + e.Message
	}
}

// Event is one decoded inbound message.
type Event struct {
	Kind    EventKind
	Type    string
	EventID string

	SessionID  string
	ItemID     string
	ResponseID string
	// ResponseStatus is set on response.done (completed, cancelled, failed, incomplete).
	ResponseStatus string

	// Audio holds the decoded bytes of an audio delta.
	Audio []byte
	// Delta holds incremental transcript text.
	Delta      string
	Transcript string

	Error *ProviderError
	Raw   []byte
}

type wireEvent struct {
	Type       string `json:"type"`
	EventID    string `json:"event_id"`
	ItemID     string `json:"item_id"`
	ResponseID string `json:"response_id"`
	Delta      string `json:"delta"`
	Transcript string `json:"transcript"`
	Session    *struct {
		ID string `json:"id"`
	} `json:"session"`
	Response *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"response"`
	Error *ProviderError `json:"error"`
}

// ParseEvent decodes a raw provider message.
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("realtime: decode event: %w", err)
	}
	if w.Type == "" {
		return Event{}, fmt.Errorf("realtime: event missing type")
	}

	ev := Event{
		Kind:       ParseEventKind(w.Type),
		Type:       w.Type,
		EventID:    w.EventID,
		ItemID:     w.ItemID,
		ResponseID: w.ResponseID,
		Transcript: w.Transcript,
		Error:      w.Error,
		Raw:        data,
	}
	if w.Session != nil {
		ev.SessionID = w.Session.ID
	}
	if w.Response != nil {
		if ev.ResponseID == "" {
			ev.ResponseID = w.Response.ID
		}
		ev.ResponseStatus = w.Response.Status
	}

	if ev.Kind == EventAudioDelta {
		audio, err := base64.StdEncoding.DecodeString(w.Delta)
		if err != nil {
			return Event{}, fmt.Errorf("realtime: decode audio delta: %w", err)
		}
		ev.Audio = audio
	} else {
		ev.Delta = w.Delta
	}
	return ev, nil
}
