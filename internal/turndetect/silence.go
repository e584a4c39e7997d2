package turndetect

import (
	"time"

	"github.com/voxwire/voxwire/pkg/transcribe"
)

// silenceDetector finalizes a turn once the elapsed time since the last
// non-empty transcript fragment exceeds the silence threshold. Partials
// count as speech activity (they push the silence clock forward) but only
// final fragments contribute text.
type silenceDetector struct {
	pollInterval time.Duration
	threshold    time.Duration

	acc        accumulator
	lastSpeech time.Time
}

var _ Detector = (*silenceDetector)(nil)

func (d *silenceDetector) Observe(ev transcribe.Event, now time.Time) (string, bool) {
	switch ev.Kind {
	case transcribe.EventPartial:
		if ev.Text != "" {
			d.lastSpeech = now
		}
	case transcribe.EventFinal:
		d.acc.add(ev.Text)
		if !d.acc.empty() {
			d.lastSpeech = now
		}
	}
	return "", false
}

func (d *silenceDetector) Poll(now time.Time) (string, bool) {
	if d.acc.empty() || d.lastSpeech.IsZero() {
		return "", false
	}
	if now.Sub(d.lastSpeech) < d.threshold {
		return "", false
	}
	text := d.acc.take()
	d.lastSpeech = time.Time{}
	if text == "" {
		return "", false
	}
	return text, true
}

func (d *silenceDetector) PollInterval() time.Duration { return d.pollInterval }

func (d *silenceDetector) Reset() {
	d.acc.take()
	d.lastSpeech = time.Time{}
}
