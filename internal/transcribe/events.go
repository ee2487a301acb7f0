package transcribe

import (
	"encoding/json"
	"strings"
	"unicode"
)

// EventType discriminates classified upstream events.
type EventType int

const (
	// EventPartial is an in-progress transcript for an unfinished utterance.
	EventPartial EventType = iota
	// EventFinal is upstream-finalized text for a completed utterance.
	EventFinal
	// EventSessionBegins signals the upstream session is live.
	EventSessionBegins
	// EventSessionTerminated signals the upstream session has ended.
	EventSessionTerminated
	// EventError carries a user-facing upstream failure message.
	EventError
)

// Event is the stable, classified form of an upstream payload.
type Event struct {
	Type       EventType
	Text       string
	Confidence float64
	Message    string
}

// rawEvent mirrors the upstream JSON payload. The Type field discriminates
// turn updates from session lifecycle messages.
type rawEvent struct {
	Type                 string  `json:"type"`
	Transcript           string  `json:"transcript"`
	EndOfTurn            bool    `json:"end_of_turn"`
	TurnIsFormatted      bool    `json:"turn_is_formatted"`
	EndOfTurnConfidence  float64 `json:"end_of_turn_confidence"`
	ID                   string  `json:"id"`
	ExpiresAt            int64   `json:"expires_at"`
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`
}

const (
	rawTypeBegin       = "Begin"
	rawTypeTurn        = "Turn"
	rawTypeTermination = "Termination"
)

// Classify maps a raw upstream payload to zero or one Event. Malformed
// payloads and unrecognized shapes yield no event; they must never crash the
// relay or surface to the client.
func Classify(payload []byte) (Event, bool) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return Event{}, false
	}
	return classify(raw)
}

func classify(raw rawEvent) (Event, bool) {
	switch raw.Type {
	case rawTypeBegin:
		return Event{Type: EventSessionBegins}, true
	case rawTypeTermination:
		return Event{Type: EventSessionTerminated}, true
	case rawTypeTurn:
		if !raw.EndOfTurn {
			// Every partial update is forwarded, never throttled or
			// deduplicated.
			return Event{
				Type:       EventPartial,
				Text:       raw.Transcript,
				Confidence: raw.EndOfTurnConfidence,
			}, true
		}
		// End-of-turn text without any sentence formatting reads better left
		// on screen as the ongoing partial than surfaced as a malformed final
		// line, so it is dropped here.
		if !hasSentenceFormatting(raw.Transcript) {
			return Event{}, false
		}
		return Event{
			Type:       EventFinal,
			Text:       raw.Transcript,
			Confidence: raw.EndOfTurnConfidence,
		}, true
	default:
		return Event{}, false
	}
}

// hasSentenceFormatting reports whether text carries recognizable sentence
// markers: any of ". , ! ?" or an upper-case letter.
func hasSentenceFormatting(text string) bool {
	if strings.ContainsAny(text, ".,!?") {
		return true
	}
	for _, r := range text {
		if unicode.IsUpper(r) {
			return true
		}
	}
	return false
}
