package turndetect_test

import (
	"testing"
	"time"

	"github.com/voxwire/voxwire/internal/turndetect"
	"github.com/voxwire/voxwire/pkg/transcribe"
)

func final(text string) transcribe.Event {
	return transcribe.Event{Kind: transcribe.EventFinal, Text: text}
}

func partial(text string) transcribe.Event {
	return transcribe.Event{Kind: transcribe.EventPartial, Text: text}
}

var boundary = transcribe.Event{Kind: transcribe.EventBoundary}

func TestNewSelectsStrategy(t *testing.T) {
	if d := turndetect.New(true); d.PollInterval() != 0 {
		t.Fatalf("boundary strategy poll interval = %v, want 0", d.PollInterval())
	}
	if d := turndetect.New(false); d.PollInterval() != turndetect.DefaultPollInterval {
		t.Fatalf("silence strategy poll interval = %v, want %v", d.PollInterval(), turndetect.DefaultPollInterval)
	}
}

func TestBoundaryAccumulatesFinalsUntilSignal(t *testing.T) {
	d := turndetect.New(true)
	now := time.Now()

	if _, done := d.Observe(final("my name"), now); done {
		t.Fatal("final alone must not finalize a turn")
	}
	if _, done := d.Observe(partial("is raj..."), now); done {
		t.Fatal("partials must never finalize a turn")
	}
	d.Observe(final("is rajesh"), now)

	text, done := d.Observe(boundary, now)
	if !done {
		t.Fatal("boundary event must finalize the turn")
	}
	if text != "my name is rajesh" {
		t.Fatalf("turn text = %q, want space-joined finals", text)
	}
}

func TestBoundaryEmptyTurnNotEmitted(t *testing.T) {
	d := turndetect.New(true)
	now := time.Now()

	if _, done := d.Observe(boundary, now); done {
		t.Fatal("boundary with no accumulated text must be a no-op")
	}
	d.Observe(final("   "), now)
	if _, done := d.Observe(boundary, now); done {
		t.Fatal("whitespace-only accumulation must not emit a turn")
	}
}

func TestBoundaryRepeatedSignalEmitsOnce(t *testing.T) {
	d := turndetect.New(true)
	now := time.Now()

	d.Observe(final("hello"), now)
	if _, done := d.Observe(boundary, now); !done {
		t.Fatal("first boundary must emit")
	}
	if _, done := d.Observe(boundary, now); done {
		t.Fatal("second boundary must not re-emit the same turn")
	}
}

// The silence strategy's timing contract: last speech at T, threshold 2000ms.
// A poll at T+1999ms must not emit; a poll at T+2001ms must, exactly once.
func TestSilenceThresholdEdge(t *testing.T) {
	d := turndetect.New(false)
	base := time.Now()

	d.Observe(final("send the engineer"), base)

	if _, done := d.Poll(base.Add(1999 * time.Millisecond)); done {
		t.Fatal("poll 1ms before the threshold must not emit")
	}
	text, done := d.Poll(base.Add(2001 * time.Millisecond))
	if !done {
		t.Fatal("poll past the threshold must emit")
	}
	if text != "send the engineer" {
		t.Fatalf("turn text = %q", text)
	}
	if _, done := d.Poll(base.Add(3 * time.Second)); done {
		t.Fatal("a later poll must not re-emit the same turn")
	}
}

func TestSilencePartialsDeferTheTurn(t *testing.T) {
	d := turndetect.New(false)
	base := time.Now()

	d.Observe(final("the pincode is"), base)
	// The caller keeps talking: a partial at T+1500 pushes the clock.
	d.Observe(partial("five six"), base.Add(1500*time.Millisecond))

	if _, done := d.Poll(base.Add(2500 * time.Millisecond)); done {
		t.Fatal("poll 1s after the partial must not emit yet")
	}
	if _, done := d.Poll(base.Add(3600 * time.Millisecond)); !done {
		t.Fatal("poll 2.1s after the last partial must emit")
	}
}

func TestSilenceNoSpeechNoTurn(t *testing.T) {
	d := turndetect.New(false)
	base := time.Now()

	if _, done := d.Poll(base.Add(time.Minute)); done {
		t.Fatal("silence with no accumulated speech must never emit")
	}
	// Empty finals are activity-free too.
	d.Observe(final(""), base)
	if _, done := d.Poll(base.Add(time.Minute)); done {
		t.Fatal("empty finals must not arm the detector")
	}
}

func TestSilenceCustomThreshold(t *testing.T) {
	d := turndetect.New(false,
		turndetect.WithSilenceThreshold(500*time.Millisecond),
		turndetect.WithPollInterval(100*time.Millisecond),
	)
	base := time.Now()

	if d.PollInterval() != 100*time.Millisecond {
		t.Fatalf("poll interval = %v, want 100ms", d.PollInterval())
	}
	d.Observe(final("quick"), base)
	if _, done := d.Poll(base.Add(499 * time.Millisecond)); done {
		t.Fatal("emitted before the custom threshold")
	}
	if _, done := d.Poll(base.Add(500 * time.Millisecond)); !done {
		t.Fatal("did not emit at the custom threshold")
	}
}

func TestResetDiscardsPendingTurn(t *testing.T) {
	for _, providerBoundary := range []bool{true, false} {
		d := turndetect.New(providerBoundary)
		base := time.Now()

		d.Observe(final("stale words"), base)
		d.Reset()

		if _, done := d.Observe(boundary, base); done {
			t.Fatalf("providerBoundary=%v: boundary after reset emitted a turn", providerBoundary)
		}
		if _, done := d.Poll(base.Add(time.Minute)); done {
			t.Fatalf("providerBoundary=%v: poll after reset emitted a turn", providerBoundary)
		}
	}
}
