// Package turndetect decides when the user's conversational turn has ended.
//
// Two interchangeable strategies exist, selected once per transcription link
// from the provider's capability flag:
//
//   - boundary-signaled: the provider emits a discrete end-of-turn event and
//     the detector forwards the accumulated transcript when it arrives;
//   - silence-timeout: the detector tracks the last moment of speech and
//     emits the accumulated transcript once a silence threshold elapses.
//
// Both strategies share two rules: a turn is never emitted for an empty
// (whitespace-only) transcript, and emitting a turn clears the accumulator,
// so a repeated boundary or timeout cannot produce the same turn twice.
//
// Detectors are driven from a single session goroutine and are not safe for
// concurrent use.
package turndetect

import (
	"strings"
	"time"

	"github.com/voxwire/voxwire/pkg/transcribe"
)

// Reference timing for the silence-timeout strategy.
const (
	// DefaultPollInterval is how often the session loop asks a polling
	// strategy to re-check its clock condition.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultSilenceThreshold is the silence span after the last speech
	// fragment that finalizes a turn.
	DefaultSilenceThreshold = 2000 * time.Millisecond
)

// Detector is the per-session end-of-turn strategy.
type Detector interface {
	// Observe feeds one transcription event. When the event completes a
	// turn, Observe returns the finalized utterance text and true.
	Observe(ev transcribe.Event, now time.Time) (string, bool)

	// Poll re-evaluates clock-driven conditions (silence elapsed). When the
	// condition finalizes a turn it returns the utterance text and true.
	// Strategies with PollInterval() == 0 always return ("", false).
	Poll(now time.Time) (string, bool)

	// PollInterval returns how often Poll should run, or 0 when the
	// strategy needs no polling.
	PollInterval() time.Duration

	// Reset discards the accumulated transcript and any pending timing
	// state. Called when a turn starts processing and when the
	// transcription link is rebuilt for a provider or language switch.
	Reset()
}

// Option configures detector construction.
type Option func(*options)

type options struct {
	pollInterval     time.Duration
	silenceThreshold time.Duration
}

// WithPollInterval overrides the silence strategy's polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithSilenceThreshold overrides the silence span that finalizes a turn.
func WithSilenceThreshold(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.silenceThreshold = d
		}
	}
}

// New selects the strategy matching the provider capability: boundary-signaled
// detection when the provider emits explicit turn-end events, silence-timeout
// detection otherwise.
func New(providerBoundary bool, opts ...Option) Detector {
	o := options{
		pollInterval:     DefaultPollInterval,
		silenceThreshold: DefaultSilenceThreshold,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if providerBoundary {
		return &boundaryDetector{}
	}
	return &silenceDetector{
		pollInterval: o.pollInterval,
		threshold:    o.silenceThreshold,
	}
}

// accumulator joins committed transcript fragments with single spaces.
type accumulator struct {
	b strings.Builder
}

func (a *accumulator) add(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if a.b.Len() > 0 {
		a.b.WriteByte(' ')
	}
	a.b.WriteString(text)
}

// take returns the accumulated text and clears the accumulator. The empty
// string means nothing worth emitting was collected.
func (a *accumulator) take() string {
	text := strings.TrimSpace(a.b.String())
	a.b.Reset()
	return text
}

func (a *accumulator) empty() bool { return a.b.Len() == 0 }
