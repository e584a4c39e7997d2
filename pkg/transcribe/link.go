package transcribe

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Dial opens a streaming transcription link with the given configuration.
// The connection attempt (TCP + WebSocket upgrade) is bounded by
// [HandshakeTimeout]; an unacknowledged attempt fails with [ErrLinkTimeout].
func Dial(ctx context.Context, cfg Config) (Link, error) {
	wsURL, err := buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("transcribe: build URL: %w", err)
	}

	headers := http.Header{}
	if cfg.Token != "" {
		headers.Set("Authorization", "Token "+cfg.Token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		if dialCtx.Err() != nil && ctx.Err() == nil {
			return nil, ErrLinkTimeout
		}
		return nil, fmt.Errorf("transcribe: dial: %w", err)
	}

	l := &link{
		conn:      conn,
		parse:     parserFor(cfg),
		keepalive: cfg.Keepalive,
		events:    make(chan Event, 64),
		audio:     make(chan []byte, 256),
		done:      make(chan struct{}),
	}

	l.wg.Add(2)
	go l.readLoop(ctx)
	go l.writeLoop(ctx)

	return l, nil
}

// buildURL constructs the streaming endpoint URL for the given config.
func buildURL(cfg Config) (string, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return "", err
	}

	q := u.Query()
	if cfg.Model != "" {
		q.Set("model", cfg.Model)
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	}
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// link is a live transcription stream over one WebSocket connection.
type link struct {
	conn      *websocket.Conn
	parse     func([]byte) (Event, bool)
	keepalive time.Duration

	events chan Event
	audio  chan []byte

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// SendAudio queues a PCM chunk for delivery to the provider.
func (l *link) SendAudio(chunk []byte) error {
	select {
	case <-l.done:
		return ErrClosed
	default:
	}
	select {
	case l.audio <- chunk:
		return nil
	case <-l.done:
		return ErrClosed
	}
}

// Events returns the normalized event stream.
func (l *link) Events() <-chan Event { return l.events }

// Close terminates the link cleanly. It tells the provider to flush pending
// audio, waits for both loops to exit, then closes the connection.
func (l *link) Close() error {
	l.once.Do(func() {
		close(l.done)
		_ = l.conn.Write(context.Background(), websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		l.wg.Wait()
		l.conn.Close(websocket.StatusNormalClosure, "link closed")
	})
	return nil
}

// writeLoop sends queued audio as binary messages and emits keepalive text
// frames while the audio channel is idle.
func (l *link) writeLoop(ctx context.Context) {
	defer l.wg.Done()

	var keepalive <-chan time.Time
	if l.keepalive > 0 {
		t := time.NewTicker(l.keepalive)
		defer t.Stop()
		keepalive = t.C
	}

	for {
		select {
		case chunk := <-l.audio:
			if err := l.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				return
			}
		case <-keepalive:
			if err := l.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"KeepAlive"}`)); err != nil {
				return
			}
		case <-l.done:
			// Flush whatever audio is still queued.
			for {
				select {
				case chunk := <-l.audio:
					_ = l.conn.Write(ctx, websocket.MessageBinary, chunk)
				default:
					return
				}
			}
		}
	}
}

// readLoop receives provider JSON messages, normalizes them through the
// dialect parser, and forwards them in arrival order.
func (l *link) readLoop(ctx context.Context) {
	defer l.wg.Done()
	defer close(l.events)

	for {
		_, msg, err := l.conn.Read(ctx)
		if err != nil {
			// Normal close or context cancellation.
			return
		}
		ev, ok := l.parse(msg)
		if !ok {
			continue
		}
		select {
		case l.events <- ev:
		case <-l.done:
		}
	}
}

var _ Link = (*link)(nil)
