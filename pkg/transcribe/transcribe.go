// Package transcribe manages the connection to an external streaming
// transcription service.
//
// A [Link] owns exactly one live WebSocket connection: raw little-endian
// 16-bit PCM flows out, JSON recognition messages flow in. Providers speak
// one of two wire dialects — some emit an explicit end-of-turn event, others
// only a continuous stream of partial/final transcript deltas — and the link
// normalizes both into a single ordered stream of [Event] values.
//
// Implementations must be safe for concurrent use. The audio input and event
// output channels are goroutine-safe by construction.
package transcribe

import (
	"context"
	"errors"
	"time"
)

// HandshakeTimeout bounds how long a connection attempt may wait for the
// provider to acknowledge the stream before failing with [ErrLinkTimeout].
const HandshakeTimeout = 5 * time.Second

// ErrLinkTimeout is returned when the provider does not acknowledge the
// connection within [HandshakeTimeout]. The caller decides whether to retry
// or surface the failure.
var ErrLinkTimeout = errors.New("transcribe: link handshake timed out")

// ErrClosed is returned by [Link.SendAudio] after the link has been closed.
var ErrClosed = errors.New("transcribe: link is closed")

// EventKind discriminates the members of the [Event] union.
type EventKind int

const (
	// EventPartial is a low-latency interim transcript; its text may be
	// revised by later events and must not be treated as authoritative.
	EventPartial EventKind = iota

	// EventFinal is a committed transcript fragment.
	EventFinal

	// EventBoundary is a provider-signaled end of the user's turn. Only
	// emitted by providers whose dialect supports it (Config.Boundary).
	EventBoundary
)

// Event is one normalized transcription event. Produced by a [Link],
// consumed exactly once by the turn detector.
type Event struct {
	Kind EventKind

	// Text is the transcript fragment. Empty for boundary events.
	Text string
}

// Config describes one transcription stream: where to connect, which model
// and language to request, the audio format, and the provider's capability
// flags. A language switch mid-call tears down the link and dials a fresh
// one with an updated Config.
type Config struct {
	// URL is the provider's streaming WebSocket endpoint.
	URL string

	// Token is the per-session transcription credential issued at session start.
	Token string

	// Model selects the provider's recognition model.
	Model string

	// Language is the BCP-47 tag for recognition (e.g., "en-IN", "hi").
	Language string

	// SampleRate is the PCM sample rate of the outbound audio in Hz.
	SampleRate int

	// Boundary reports whether the provider emits explicit end-of-turn
	// events. When false the caller must infer turn ends from silence.
	Boundary bool

	// Keepalive, when positive, makes the link send provider keepalive
	// frames at this interval so an idle connection (e.g. during a long
	// playback phase) is not closed by the provider.
	Keepalive time.Duration
}

// Link is an open transcription stream.
//
// Callers must call Close when the link is no longer needed; failing to do
// so leaks goroutines and the underlying connection. All methods are safe
// for concurrent use.
type Link interface {
	// SendAudio queues a chunk of raw PCM bytes for delivery to the
	// provider. Returns ErrClosed after Close.
	SendAudio(chunk []byte) error

	// Events returns the normalized event stream. The channel preserves
	// provider message order and is closed when the link ends.
	Events() <-chan Event

	// Close terminates the stream, flushes pending audio, and releases the
	// connection. Calling Close more than once is safe and returns nil.
	Close() error
}

// Dialer opens transcription links. The package-level [Dial] is the
// production implementation; tests substitute fakes.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Link, error)
}

// DialerFunc adapts a function to the [Dialer] interface.
type DialerFunc func(ctx context.Context, cfg Config) (Link, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Link, error) {
	return f(ctx, cfg)
}
