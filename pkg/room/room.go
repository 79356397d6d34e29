// Package room defines the interfaces and types for real-time room
// connectivity.
//
// The two primary abstractions are:
//
//   - [Platform] — connects to a named room and returns a [Connection].
//   - [Connection] — represents an active presence in that room, giving the
//     session an audio uplink, a mixed audio downlink, a JSON data
//     side-channel, and lifecycle events.
//
// Implementations are provided by transport-specific adapter packages (e.g.,
// room/ws). The interfaces are intentionally narrow to keep the session
// orchestrator decoupled from transport details.
package room

import (
	"context"

	"github.com/ckocel/voxtutor/pkg/types"
)

// EventType classifies lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant enters the room.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave

	// EventDisconnected is emitted once when the connection itself is lost or
	// closed. It is always the last event on the channel.
	EventDisconnected
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event describes a lifecycle change in the room.
type Event struct {
	// Type indicates what happened.
	Type EventType

	// Identity is the unique identity of the participant concerned.
	// Empty for EventDisconnected.
	Identity string

	// Name is the participant's display name, when known.
	Name string
}

// Connection represents an active presence in a room.
//
// A Connection is obtained from [Platform.Connect] and remains valid until
// [Connection.Close] is called or the transport drops. All read channels are
// closed by the implementation when the connection terminates.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// PublishAudio returns the write-only channel for the agent's voice.
	// Frames written here are encoded and sent to the room. The channel is
	// buffered; after Close, writes are dropped rather than panicking.
	PublishAudio() chan<- types.AudioFrame

	// SubscribeAudio returns the read-only channel carrying the mixed audio
	// of all remote participants, decoded to PCM frames.
	SubscribeAudio() <-chan types.AudioFrame

	// PublishData sends a payload on a named data side-channel, delivered to
	// all participants. Used for status events and transcripts; payloads are
	// expected to be JSON but are passed through opaquely.
	PublishData(channel string, payload []byte) error

	// Events returns the lifecycle event stream. The channel is closed after
	// the final EventDisconnected.
	Events() <-chan Event

	// Close tears down the connection. Safe to call more than once;
	// subsequent calls are no-ops and return nil.
	Close() error
}

// Platform is the entry point for a room transport.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the room reachable at url, authenticating with the given
	// join token. The supplied ctx governs the connection attempt only; once
	// established, the Connection lives until Close.
	Connect(ctx context.Context, url string, token string) (Connection, error)
}
