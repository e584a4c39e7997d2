package transcribe_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voxwire/voxwire/pkg/transcribe"
)

// linkServer upgrades the request and hands the connection to fn. After fn
// returns it keeps reading until the client's CloseStream arrives and then
// closes the connection, mirroring provider behaviour so Close can complete.
func linkServer(t *testing.T, fn func(ctx context.Context, c *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		if fn != nil {
			fn(r.Context(), c)
		}
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				c.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
		}
	}))
}

func wsAddr(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func TestDialSendsCredentialAndParams(t *testing.T) {
	var gotAuth string
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotQuery = r.URL.RawQuery
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		c.Close(websocket.StatusNormalClosure, "done")
	}))
	defer ts.Close()

	l, err := transcribe.Dial(context.Background(), transcribe.Config{
		URL:        wsAddr(ts),
		Token:      "tok-123",
		Model:      "nova-2",
		Language:   "hi",
		SampleRate: 16000,
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	if gotAuth != "Token tok-123" {
		t.Fatalf("auth header = %q, want provider token scheme", gotAuth)
	}
	for _, want := range []string{"model=nova-2", "language=hi", "encoding=linear16"} {
		if !strings.Contains(gotQuery, want) {
			t.Fatalf("query %q missing %q", gotQuery, want)
		}
	}
}

func TestLinkForwardsAudioAndNormalizesDelta(t *testing.T) {
	gotAudio := make(chan []byte, 1)
	ts := linkServer(t, func(ctx context.Context, c *websocket.Conn) {
		typ, msg, err := c.Read(ctx)
		if err != nil || typ != websocket.MessageBinary {
			t.Errorf("first message: type=%v err=%v, want binary audio", typ, err)
			return
		}
		gotAudio <- msg
		final := `{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hello there"}]}}`
		c.Write(ctx, websocket.MessageText, []byte(final))
	})
	defer ts.Close()

	l, err := transcribe.Dial(context.Background(), transcribe.Config{URL: wsAddr(ts)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	chunk := []byte{0x01, 0x02, 0x03, 0x04}
	if err := l.SendAudio(chunk); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	select {
	case got := <-gotAudio:
		if string(got) != string(chunk) {
			t.Fatalf("provider received %v, want %v", got, chunk)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("audio chunk never reached the provider")
	}

	select {
	case ev := <-l.Events():
		if ev.Kind != transcribe.EventFinal || ev.Text != "hello there" {
			t.Fatalf("event = %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}
}

func TestLinkNormalizesBoundaryDialect(t *testing.T) {
	ts := linkServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Write(ctx, websocket.MessageText, []byte(`{"type":"transcript.final","text":"my pincode is"}`))
		c.Write(ctx, websocket.MessageText, []byte(`{"type":"turn.end"}`))
	})
	defer ts.Close()

	l, err := transcribe.Dial(context.Background(), transcribe.Config{URL: wsAddr(ts), Boundary: true})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	want := []transcribe.Event{
		{Kind: transcribe.EventFinal, Text: "my pincode is"},
		{Kind: transcribe.EventBoundary},
	}
	for i, w := range want {
		select {
		case got := <-l.Events():
			if got != w {
				t.Fatalf("event %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("event %d never arrived", i)
		}
	}
}

func TestLinkKeepalive(t *testing.T) {
	sawKeepalive := make(chan struct{}, 1)
	ts := linkServer(t, func(ctx context.Context, c *websocket.Conn) {
		for {
			typ, msg, err := c.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "KeepAlive") {
				select {
				case sawKeepalive <- struct{}{}:
				default:
				}
				return
			}
		}
	})
	defer ts.Close()

	l, err := transcribe.Dial(context.Background(), transcribe.Config{URL: wsAddr(ts), Keepalive: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	select {
	case <-sawKeepalive:
	case <-time.After(2 * time.Second):
		t.Fatal("idle link never sent a keepalive frame")
	}
}

func TestCloseFlushesAndRejectsFurtherAudio(t *testing.T) {
	sawClose := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, msg, err := c.Read(r.Context())
			if err != nil {
				return
			}
			if typ == websocket.MessageText && strings.Contains(string(msg), "CloseStream") {
				select {
				case sawClose <- struct{}{}:
				default:
				}
				c.Close(websocket.StatusNormalClosure, "stream closed")
				return
			}
		}
	}))
	defer ts.Close()

	l, err := transcribe.Dial(context.Background(), transcribe.Config{URL: wsAddr(ts)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case <-sawClose:
	case <-time.After(2 * time.Second):
		t.Fatal("provider never saw the stream-close message")
	}

	if err := l.SendAudio([]byte{0x00}); !errors.Is(err, transcribe.ErrClosed) {
		t.Fatalf("SendAudio after Close = %v, want ErrClosed", err)
	}
}

func TestEventsClosedWhenProviderDrops(t *testing.T) {
	ts := linkServer(t, func(ctx context.Context, c *websocket.Conn) {
		c.Close(websocket.StatusNormalClosure, "provider going away")
	})
	defer ts.Close()

	l, err := transcribe.Dial(context.Background(), transcribe.Config{URL: wsAddr(ts)})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer l.Close()

	select {
	case _, open := <-l.Events():
		if open {
			t.Fatal("expected a closed event channel, got an event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event channel never closed after provider drop")
	}
}
