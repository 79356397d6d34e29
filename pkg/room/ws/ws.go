// Package ws implements the room.Platform interface over a single WebSocket.
//
// Wire protocol:
//
//   - Binary messages carry one Opus packet each (48 kHz mono, 20 ms frames)
//     in both directions.
//   - Text messages are JSON envelopes. Inbound envelopes announce
//     participant lifecycle ({"type":"participant_joined","identity":...,
//     "name":...} and "participant_left"); outbound envelopes carry data
//     side-channel payloads ({"type":"data","channel":...,"payload":...}).
//
// The join token is presented as a Bearer token during the handshake.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"layeh.com/gopus"

	"github.com/ckocel/voxtutor/pkg/room"
	"github.com/ckocel/voxtutor/pkg/types"
)

// Room audio is 48 kHz mono Opus at 20 ms frame size.
const (
	opusSampleRate  = 48000
	opusChannels    = 1
	opusFrameSizeMs = 20
	// opusFrameSize is the number of samples per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameSizeMs / 1000 // 960
)

const (
	publishBuffer   = 64
	subscribeBuffer = 256
	eventBuffer     = 16
)

// envelope is the JSON frame exchanged on text messages.
type envelope struct {
	Type     string          `json:"type"`
	Identity string          `json:"identity,omitempty"`
	Name     string          `json:"name,omitempty"`
	Channel  string          `json:"channel,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// Compile-time assertion that Platform implements room.Platform.
var _ room.Platform = (*Platform)(nil)

// Platform connects to rooms over WebSocket.
type Platform struct {
	dialTimeout time.Duration
}

// Option is a functional option for Platform.
type Option func(*Platform)

// WithDialTimeout bounds the connection handshake. Defaults to 10s.
func WithDialTimeout(d time.Duration) Option {
	return func(p *Platform) {
		p.dialTimeout = d
	}
}

// New constructs a WebSocket room platform.
func New(opts ...Option) *Platform {
	p := &Platform{dialTimeout: 10 * time.Second}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect implements room.Platform.
func (p *Platform) Connect(ctx context.Context, url string, token string) (room.Connection, error) {
	if url == "" {
		return nil, fmt.Errorf("ws room: url must not be empty")
	}
	if token == "" {
		return nil, fmt.Errorf("ws room: token must not be empty")
	}

	dialCtx, cancel := context.WithTimeout(ctx, p.dialTimeout)
	defer cancel()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	wsConn, _, err := websocket.Dial(dialCtx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("ws room: dial %s: %w", url, err)
	}
	wsConn.SetReadLimit(1 << 20)

	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Audio)
	if err != nil {
		wsConn.Close(websocket.StatusInternalError, "encoder init failed")
		return nil, fmt.Errorf("ws room: create opus encoder: %w", err)
	}
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		wsConn.Close(websocket.StatusInternalError, "decoder init failed")
		return nil, fmt.Errorf("ws room: create opus decoder: %w", err)
	}

	c := &conn{
		ws:        wsConn,
		enc:       enc,
		dec:       dec,
		publish:   make(chan types.AudioFrame, publishBuffer),
		subscribe: make(chan types.AudioFrame, subscribeBuffer),
		events:    make(chan room.Event, eventBuffer),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	go c.writeLoop()
	return c, nil
}

type conn struct {
	ws  *websocket.Conn
	enc *gopus.Encoder
	dec *gopus.Decoder

	publish   chan types.AudioFrame
	subscribe chan types.AudioFrame
	events    chan room.Event
	done      chan struct{}

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ room.Connection = (*conn)(nil)

// PublishAudio implements room.Connection.
func (c *conn) PublishAudio() chan<- types.AudioFrame {
	return c.publish
}

// SubscribeAudio implements room.Connection.
func (c *conn) SubscribeAudio() <-chan types.AudioFrame {
	return c.subscribe
}

// Events implements room.Connection.
func (c *conn) Events() <-chan room.Event {
	return c.events
}

// PublishData implements room.Connection.
func (c *conn) PublishData(channel string, payload []byte) error {
	select {
	case <-c.done:
		return fmt.Errorf("ws room: connection closed")
	default:
	}

	msg, err := json.Marshal(envelope{
		Type:    "data",
		Channel: channel,
		Payload: json.RawMessage(payload),
	})
	if err != nil {
		return fmt.Errorf("ws room: marshal data envelope: %w", err)
	}
	if err := c.write(websocket.MessageText, msg); err != nil {
		return fmt.Errorf("ws room: publish data on %q: %w", channel, err)
	}
	return nil
}

// Close implements room.Connection.
func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}

// write serialises all WebSocket writes; the library permits only one
// concurrent writer per message type.
func (c *conn) write(typ websocket.MessageType, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.ws.Write(ctx, typ, data)
}

// writeLoop drains the publish channel, rebuffers PCM into exact 20 ms Opus
// frames and ships them. Frames at other sample rates are resampled first.
func (c *conn) writeLoop() {
	pcmBuf := make([]int16, 0, opusFrameSize*4)
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.publish:
			pcmBuf = append(pcmBuf, toRoomRate(frame)...)
			for len(pcmBuf) >= opusFrameSize {
				packet, err := c.enc.Encode(pcmBuf[:opusFrameSize], opusFrameSize, opusFrameSize*2)
				pcmBuf = pcmBuf[opusFrameSize:]
				if err != nil {
					continue
				}
				if err := c.write(websocket.MessageBinary, packet); err != nil {
					return
				}
			}
		}
	}
}

// readLoop receives until the socket drops, then emits the terminal
// disconnect event and closes the read channels. Only readLoop closes them.
func (c *conn) readLoop() {
	defer func() {
		c.Close()
		c.events <- room.Event{Type: room.EventDisconnected}
		close(c.events)
		close(c.subscribe)
	}()

	ctx := context.Background()
	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		switch typ {
		case websocket.MessageBinary:
			pcm, err := c.dec.Decode(data, opusFrameSize, false)
			if err != nil {
				continue
			}
			frame := types.AudioFrame{
				Data:       int16sToBytes(pcm),
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
			}
			select {
			case c.subscribe <- frame:
			case <-c.done:
				return
			}
		case websocket.MessageText:
			var env envelope
			if err := json.Unmarshal(data, &env); err != nil {
				continue
			}
			var ev room.Event
			switch env.Type {
			case "participant_joined":
				ev = room.Event{Type: room.EventJoin, Identity: env.Identity, Name: env.Name}
			case "participant_left":
				ev = room.Event{Type: room.EventLeave, Identity: env.Identity, Name: env.Name}
			default:
				continue
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}
	}
}

// toRoomRate converts a frame to 48 kHz mono int16 samples. Stereo input is
// averaged down; other sample rates are linearly interpolated.
func toRoomRate(frame types.AudioFrame) []int16 {
	samples := bytesToInt16s(frame.Data)

	ch := frame.Channels
	if ch > 1 {
		mono := make([]int16, len(samples)/ch)
		for i := range mono {
			var sum int
			for j := 0; j < ch; j++ {
				sum += int(samples[i*ch+j])
			}
			mono[i] = int16(sum / ch)
		}
		samples = mono
	}

	sr := frame.SampleRate
	if sr <= 0 || sr == opusSampleRate || len(samples) == 0 {
		return samples
	}

	outLen := len(samples) * opusSampleRate / sr
	out := make([]int16, outLen)
	for i := range out {
		pos := float64(i) * float64(sr) / float64(opusSampleRate)
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		a, b := float64(samples[idx]), float64(samples[idx+1])
		out[i] = int16(a + (b-a)*frac)
	}
	return out
}

// int16sToBytes converts int16 PCM samples to little-endian bytes.
func int16sToBytes(pcm []int16) []byte {
	b := make([]byte, len(pcm)*2)
	for i, s := range pcm {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}

// bytesToInt16s converts little-endian bytes to int16 PCM samples.
func bytesToInt16s(b []byte) []int16 {
	pcm := make([]int16, len(b)/2)
	for i := range pcm {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}
