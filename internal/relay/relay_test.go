package relay_test

import (
	"errors"
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/relay"
	"github.com/voxwire/voxwire/pkg/audio"
)

func testFrame(b byte) audio.Frame {
	return audio.Frame{PCM: []byte{b, b}, SampleRate: 8000, Channels: 1}
}

func recvPacket(t *testing.T, sub *relay.Subscription) relay.Packet {
	t.Helper()
	select {
	case pkt, ok := <-sub.C:
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return pkt
	case <-time.After(2 * time.Second):
		t.Fatal("no packet arrived")
	}
	return relay.Packet{}
}

func assertDetached(t *testing.T, sub *relay.Subscription) {
	t.Helper()
	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("expected a closed channel, got a packet")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription channel never closed")
	}
}

func TestAttachUnknownCall(t *testing.T) {
	h := relay.NewHub()
	if _, err := h.Attach("nope"); !errors.Is(err, relay.ErrNoCall) {
		t.Fatalf("error = %v, want ErrNoCall", err)
	}
}

func TestPublishReachesListener(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")
	defer h.Unregister("c1")

	sub, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sub.Detach()

	h.Publish("c1", relay.SourceCaller, testFrame(0xaa))
	h.Publish("c1", relay.SourceAgent, testFrame(0xbb))

	if pkt := recvPacket(t, sub); pkt.Source != relay.SourceCaller {
		t.Fatalf("first packet source = %#x, want caller", pkt.Source)
	}
	pkt := recvPacket(t, sub)
	if pkt.Source != relay.SourceAgent {
		t.Fatalf("second packet source = %#x, want agent", pkt.Source)
	}
	if pkt.Frame.PCM[0] != 0xbb {
		t.Fatalf("frame payload = %#x", pkt.Frame.PCM[0])
	}
}

func TestPublishWithoutListenerIsNoop(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")
	defer h.Unregister("c1")

	// Must return immediately, no listener and no buffering.
	h.Publish("c1", relay.SourceCaller, testFrame(1))
	h.Publish("unknown", relay.SourceCaller, testFrame(1))
}

func TestPublishDropsWhenListenerFull(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")
	defer h.Unregister("c1")

	var drops int
	h.OnDrop(func(callID string) {
		if callID != "c1" {
			t.Errorf("drop reported for %q", callID)
		}
		drops++
	})

	sub, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sub.Detach()

	// Fill the subscription buffer without draining, then overflow it.
	for i := 0; i < cap(sub.C); i++ {
		h.Publish("c1", relay.SourceCaller, testFrame(byte(i)))
	}
	h.Publish("c1", relay.SourceCaller, testFrame(0xff))
	h.Publish("c1", relay.SourceCaller, testFrame(0xff))

	if drops != 2 {
		t.Fatalf("drops = %d, want 2", drops)
	}
	// The buffered frames are intact.
	if pkt := recvPacket(t, sub); pkt.Frame.PCM[0] != 0 {
		t.Fatalf("first buffered frame = %#x", pkt.Frame.PCM[0])
	}
}

func TestAttachReplacesPriorListener(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")
	defer h.Unregister("c1")

	first, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("first Attach: %v", err)
	}
	second, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("second Attach: %v", err)
	}
	defer second.Detach()

	// The old subscription is detached, not left dangling.
	assertDetached(t, first)

	h.Publish("c1", relay.SourceAgent, testFrame(0x42))
	if pkt := recvPacket(t, second); pkt.Frame.PCM[0] != 0x42 {
		t.Fatalf("replacement listener got %#x", pkt.Frame.PCM[0])
	}
}

func TestDetachIsIdempotent(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")
	defer h.Unregister("c1")

	sub, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	sub.Detach()
	sub.Detach()
	assertDetached(t, sub)

	// Publishing after detach must not panic or report to the old listener.
	h.Publish("c1", relay.SourceCaller, testFrame(1))

	// The slot is free again.
	if _, err := h.Attach("c1"); err != nil {
		t.Fatalf("re-Attach after Detach: %v", err)
	}
}

func TestUnregisterDetachesListener(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")

	sub, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}

	h.Unregister("c1")
	assertDetached(t, sub)

	if _, err := h.Attach("c1"); !errors.Is(err, relay.ErrNoCall) {
		t.Fatalf("Attach after Unregister = %v, want ErrNoCall", err)
	}
	// Late publishes for a dead call are silently ignored.
	h.Publish("c1", relay.SourceAgent, testFrame(1))
}

func TestRegisterIsIdempotent(t *testing.T) {
	h := relay.NewHub()
	h.Register("c1")

	sub, err := h.Attach("c1")
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer sub.Detach()

	// A duplicate Register must not wipe the existing tap.
	h.Register("c1")
	h.Publish("c1", relay.SourceCaller, testFrame(7))
	if pkt := recvPacket(t, sub); pkt.Frame.PCM[0] != 7 {
		t.Fatalf("frame payload = %#x", pkt.Frame.PCM[0])
	}
}
