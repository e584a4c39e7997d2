package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/audio"
)

// ErrRelay wraps failures to establish or sustain a supervisory listen
// stream. Relay errors are isolated: they never propagate into the call.
var ErrRelay = errors.New("relay: listen stream failed")

// Sink receives playback-ready frames on the supervisor's side, tagged with
// the source marker so the UI can show who is speaking.
type Sink interface {
	Play(source byte, frame audio.Frame)
}

// ListenerConfig configures a supervisory listen session.
type ListenerConfig struct {
	// URL is the relay endpoint for one call (ws://…/calls/{id}/listen).
	URL string

	// ServerRate is the sample rate of the relayed PCM.
	ServerRate int

	// DeviceRate is the local playback device's sample rate; relayed audio
	// is resampled from ServerRate before it reaches the sink.
	DeviceRate int

	// Lookahead overrides the playback scheduler's drift bound.
	Lookahead time.Duration
}

// Listen attaches to a live call's relay stream and plays it locally until
// ctx is cancelled or the server ends the stream. Each inbound binary
// message is a one-byte source marker followed by PCM at ServerRate; frames
// are resampled to DeviceRate and paced through a playback scheduler so
// network jitter does not accumulate into drift.
func Listen(ctx context.Context, cfg ListenerConfig, sink Sink) error {
	conn, _, err := websocket.Dial(ctx, cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", ErrRelay, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "listener done")

	var opts []audio.SchedulerOption
	if cfg.Lookahead > 0 {
		opts = append(opts, audio.WithLookahead(cfg.Lookahead))
	}
	sched := audio.NewScheduler(opts...)

	for {
		kind, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			return fmt.Errorf("%w: read: %v", ErrRelay, err)
		}
		if kind != websocket.MessageBinary || len(msg) < 3 {
			continue
		}

		frame := audio.Frame{PCM: msg[1:], SampleRate: cfg.ServerRate, Channels: 1}
		if cfg.DeviceRate > 0 && cfg.DeviceRate != cfg.ServerRate {
			frame = audio.ConvertFrame(frame, cfg.DeviceRate, 1)
		}

		start := sched.Reserve(frame.Duration())
		if wait := time.Until(start); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return nil
			}
		}
		sink.Play(msg[0], frame)
	}
}
