// Package mock provides test doubles for the room package interfaces.
//
// Connection exposes the far side of every channel so tests can feed remote
// audio and events in, and observe what the session published out.
package mock

import (
	"context"
	"sync"

	"github.com/ckocel/voxtutor/pkg/room"
	"github.com/ckocel/voxtutor/pkg/types"
)

// ConnectCall records a single invocation of Platform.Connect.
type ConnectCall struct {
	URL   string
	Token string
}

// Platform is a mock implementation of room.Platform.
type Platform struct {
	mu sync.Mutex

	// Conn is returned by Connect. If nil, a fresh Connection is created and
	// stored in Conn for later inspection.
	Conn *Connection

	// ConnectErr, if non-nil, is returned from Connect.
	ConnectErr error

	// ConnectCalls records every invocation in order.
	ConnectCalls []ConnectCall
}

var _ room.Platform = (*Platform)(nil)

// Connect records the call and returns Conn, ConnectErr.
func (p *Platform) Connect(ctx context.Context, url string, token string) (room.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{URL: url, Token: token})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Conn == nil {
		p.Conn = NewConnection()
	}
	return p.Conn, nil
}

// DataMessage records a single PublishData call.
type DataMessage struct {
	Channel string
	Payload []byte
}

// Connection is a mock implementation of room.Connection.
type Connection struct {
	mu sync.Mutex

	// Publish receives every frame written to PublishAudio.
	Publish chan types.AudioFrame

	// Remote feeds SubscribeAudio; tests send remote participant audio here.
	Remote chan types.AudioFrame

	// EventsIn feeds Events; tests send lifecycle events here.
	EventsIn chan room.Event

	// PublishDataErr, if non-nil, fails every PublishData call.
	PublishDataErr error

	// Data records every PublishData call in order.
	Data []DataMessage

	closed    bool
	closeOnce sync.Once
}

var _ room.Connection = (*Connection)(nil)

// NewConnection builds a Connection with buffered channels ready for use.
func NewConnection() *Connection {
	return &Connection{
		Publish:  make(chan types.AudioFrame, 256),
		Remote:   make(chan types.AudioFrame, 256),
		EventsIn: make(chan room.Event, 16),
	}
}

// PublishAudio implements room.Connection.
func (c *Connection) PublishAudio() chan<- types.AudioFrame {
	return c.Publish
}

// SubscribeAudio implements room.Connection.
func (c *Connection) SubscribeAudio() <-chan types.AudioFrame {
	return c.Remote
}

// Events implements room.Connection.
func (c *Connection) Events() <-chan room.Event {
	return c.EventsIn
}

// PublishData implements room.Connection.
func (c *Connection) PublishData(channel string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishDataErr != nil {
		return c.PublishDataErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	c.Data = append(c.Data, DataMessage{Channel: channel, Payload: cp})
	return nil
}

// Close implements room.Connection. The first call emits the terminal
// disconnect event and closes the read channels, mirroring the ws transport.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.EventsIn <- room.Event{Type: room.EventDisconnected}
		close(c.EventsIn)
		close(c.Remote)
	})
	return nil
}

// Closed reports whether Close has been called.
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// DataMessages returns a snapshot of every PublishData call so far.
func (c *Connection) DataMessages() []DataMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]DataMessage, len(c.Data))
	copy(out, c.Data)
	return out
}
