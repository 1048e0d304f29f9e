// Package signal defines the typed event model for the host bridge's signal
// stream and the feed that delivers it.
//
// The host emits loosely-typed JSON events (call-state transitions,
// notification postings, capability changes). This package converts them into
// a closed set of Go types exactly once, at the feed boundary; nothing deeper
// in the pipeline inspects kind strings again.
package signal

import (
	"encoding/json"
	"fmt"
	"time"
)

// UnprocessedID is the sentinel value for "no signal processed yet". The host
// reuses numeric identifiers across logically distinct sessions, so the dedup
// guard resets its last-processed id to this sentinel whenever a signal is
// denied.
const UnprocessedID int64 = -1

// Kind selects the communication channel a signal belongs to.
type Kind string

const (
	// KindCall is a telephony call.
	KindCall Kind = "call"

	// KindMeeting is a video-meeting audio channel.
	KindMeeting Kind = "meeting"
)

// IsValid reports whether k is a recognised channel kind.
func (k Kind) IsValid() bool {
	return k == KindCall || k == KindMeeting
}

// EventType classifies what a signal announces.
type EventType string

const (
	// EventStart announces a session is being established (ringing/joining).
	EventStart EventType = "start"

	// EventConnected confirms the underlying transport is connected.
	EventConnected EventType = "connected"

	// EventEnd announces the session has ended.
	EventEnd EventType = "end"

	// EventNotification is a notification posting whose payload may carry a
	// recognisable meeting-app pattern.
	EventNotification EventType = "notification"

	// EventCapability announces an externally-granted capability change.
	EventCapability EventType = "capability"
)

// IsValid reports whether t is a recognised event type.
func (t EventType) IsValid() bool {
	switch t {
	case EventStart, EventConnected, EventEnd, EventNotification, EventCapability:
		return true
	}
	return false
}

// Event is one discrete signal from the host bridge. The stream is
// at-least-once and may contain duplicates; the orchestrator's dedup guard
// handles reuse of IDs.
type Event struct {
	// ID is the source identifier assigned by the host. Not unique across
	// sessions (a platform quirk, not a design choice).
	ID int64

	// Kind is the channel this event concerns.
	Kind Kind

	// Type is what the event announces.
	Type EventType

	// Target is the external entity being protected: a phone number for
	// calls, a meeting id for meetings. May be empty for notification
	// events until the recognizer extracts it from the payload.
	Target string

	// Timestamp is when the host observed the event.
	Timestamp time.Time

	// Payload is free text accompanying the event (notification title/body,
	// capability name, transport detail).
	Payload string
}

// wireEvent is the JSON shape the host bridge sends.
type wireEvent struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Type      string `json:"type"`
	Target    string `json:"target"`
	Timestamp int64  `json:"timestamp_ms"`
	Payload   string `json:"payload"`
}

// ParseEvent decodes one wire event and converts its kind/type strings into
// the closed enums. Malformed or unrecognised events return an error; the
// caller drops them (no retry).
func ParseEvent(data []byte) (Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return Event{}, fmt.Errorf("signal: decode event: %w", err)
	}

	kind := Kind(w.Kind)
	if !kind.IsValid() {
		return Event{}, fmt.Errorf("signal: unrecognised channel kind %q", w.Kind)
	}
	typ := EventType(w.Type)
	if !typ.IsValid() {
		return Event{}, fmt.Errorf("signal: unrecognised event type %q", w.Type)
	}

	return Event{
		ID:        w.ID,
		Kind:      kind,
		Type:      typ,
		Target:    w.Target,
		Timestamp: time.UnixMilli(w.Timestamp),
		Payload:   w.Payload,
	}, nil
}
