package app

import (
	"context"
	"sync"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/audio"
)

// deviceBuffer bounds how many capture frames may queue between the socket
// read pump and the session loop.
const deviceBuffer = 64

// wsDevice adapts one duplex WebSocket connection into the session's audio
// device: inbound binary messages are capture frames, Play writes playback
// frames back. It satisfies both session.CaptureSource and
// session.PlaybackSink.
type wsDevice struct {
	conn *websocket.Conn
	ctx  context.Context
	rate int

	frames    chan audio.Frame
	closeOnce sync.Once
	pumpOnce  sync.Once
}

func newWSDevice(ctx context.Context, conn *websocket.Conn, captureRate int) *wsDevice {
	return &wsDevice{
		conn:   conn,
		ctx:    ctx,
		rate:   captureRate,
		frames: make(chan audio.Frame, deviceBuffer),
	}
}

// Frames returns the capture stream. Closed when the peer disconnects.
func (d *wsDevice) Frames() <-chan audio.Frame { return d.frames }

// Play writes one playback frame to the peer as a binary message.
func (d *wsDevice) Play(f audio.Frame) error {
	return d.conn.Write(d.ctx, websocket.MessageBinary, f.PCM)
}

// Close shuts the connection down. Safe to call more than once; the session
// calls it at teardown and the read pump's exit path may race it.
func (d *wsDevice) Close() error {
	d.closeOnce.Do(func() {
		d.conn.Close(websocket.StatusNormalClosure, "session ended")
	})
	return nil
}

// readPump reads capture audio until the peer disconnects or ctx ends, then
// closes the frame channel so the session sees the hangup. Frames arriving
// faster than the session drains them are dropped rather than stalling the
// socket.
func (d *wsDevice) readPump(ctx context.Context) {
	defer d.pumpOnce.Do(func() { close(d.frames) })

	for {
		kind, msg, err := d.conn.Read(ctx)
		if err != nil {
			return
		}
		if kind != websocket.MessageBinary || len(msg) == 0 {
			continue
		}
		f := audio.Frame{PCM: msg, SampleRate: d.rate, Channels: 1}
		select {
		case d.frames <- f:
		default:
		}
	}
}
