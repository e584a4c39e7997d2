// Package relay implements the supervisory audio tap: a parallel, read-only
// distribution path that subscribes to a live call's outbound audio and
// streams it to one supervisory listener at a time.
//
// The relay is an observer, never a participant: publishing into it must not
// block or slow the call's own playback path, and any relay failure is
// isolated from the underlying session.
package relay

import (
	"errors"
	"sync"

	"github.com/voxwire/voxwire/pkg/audio"
)

// Source markers prepended to each relayed binary message so a supervisor
// client can render who is speaking.
const (
	SourceCaller byte = 0x01
	SourceAgent  byte = 0x02
)

// ErrNoCall is returned when attaching to a call id that is not live.
var ErrNoCall = errors.New("relay: no such live call")

// listenerBuffer bounds how many frames may queue for a slow listener
// before the relay starts dropping.
const listenerBuffer = 32

// Packet is one relayed audio message: the source marker plus a PCM frame
// at the relay's server-side sample rate.
type Packet struct {
	Source byte
	Frame  audio.Frame
}

// Subscription is one listener's attachment to a live call. Packets arrive
// on C until the subscription is detached, after which C is closed.
type Subscription struct {
	C <-chan Packet

	c      chan Packet
	unlink func()

	mu     sync.Mutex
	closed bool
}

// Detach releases the subscription and closes C. Safe to call more than once.
func (s *Subscription) Detach() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.unlink()

	// No send can be in flight past this point: send checks closed under mu.
	s.mu.Lock()
	close(s.c)
	s.mu.Unlock()
}

// send delivers a packet without blocking. Returns false when the packet was
// dropped, either because the listener detached or its buffer is full.
func (s *Subscription) send(p Packet) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.c <- p:
		return true
	default:
		return false
	}
}

// tap is the per-call distribution point.
type tap struct {
	mu  sync.Mutex
	sub *Subscription
}

// Hub tracks live calls and their supervisory subscriptions.
// All methods are safe for concurrent use.
type Hub struct {
	mu    sync.Mutex
	calls map[string]*tap

	// onDrop, when set, is invoked for every frame dropped because a
	// listener fell behind. Used for metrics.
	onDrop func(callID string)
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{calls: make(map[string]*tap)}
}

// OnDrop registers a callback invoked when a relayed frame is dropped.
func (h *Hub) OnDrop(fn func(callID string)) {
	h.mu.Lock()
	h.onDrop = fn
	h.mu.Unlock()
}

// Register announces a live call. Sessions call this at start and must pair
// it with Unregister at teardown.
func (h *Hub) Register(callID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.calls[callID]; !ok {
		h.calls[callID] = &tap{}
	}
}

// Unregister removes a call and detaches its listener, if any.
func (h *Hub) Unregister(callID string) {
	h.mu.Lock()
	t := h.calls[callID]
	delete(h.calls, callID)
	h.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	sub := t.sub
	t.mu.Unlock()
	if sub != nil {
		sub.Detach()
	}
}

// Attach subscribes a listener to the call's outbound audio. At most one
// listener is active per call: attaching detaches and releases any prior
// subscription first, deterministically.
func (h *Hub) Attach(callID string) (*Subscription, error) {
	h.mu.Lock()
	t := h.calls[callID]
	h.mu.Unlock()
	if t == nil {
		return nil, ErrNoCall
	}

	c := make(chan Packet, listenerBuffer)
	sub := &Subscription{C: c, c: c}
	sub.unlink = func() {
		t.mu.Lock()
		if t.sub == sub {
			t.sub = nil
		}
		t.mu.Unlock()
	}

	t.mu.Lock()
	prev := t.sub
	t.sub = sub
	t.mu.Unlock()

	if prev != nil {
		prev.Detach()
	}
	return sub, nil
}

// Publish delivers one outbound audio frame to the call's listener, if any.
// Never blocks: when the listener's buffer is full the frame is dropped.
// Publishing to an unknown call is a no-op.
func (h *Hub) Publish(callID string, source byte, frame audio.Frame) {
	h.mu.Lock()
	t := h.calls[callID]
	drop := h.onDrop
	h.mu.Unlock()
	if t == nil {
		return
	}

	t.mu.Lock()
	sub := t.sub
	t.mu.Unlock()
	if sub == nil {
		return
	}

	if !sub.send(Packet{Source: source, Frame: frame}) && drop != nil {
		drop(callID)
	}
}
