package turndetect

import (
	"time"

	"github.com/voxwire/voxwire/pkg/transcribe"
)

// boundaryDetector finalizes a turn when the provider emits an explicit
// end-of-turn event. Final transcript fragments accumulate until then;
// partials are ignored because the provider commits the authoritative text
// itself before signaling the boundary.
type boundaryDetector struct {
	acc accumulator
}

var _ Detector = (*boundaryDetector)(nil)

func (d *boundaryDetector) Observe(ev transcribe.Event, _ time.Time) (string, bool) {
	switch ev.Kind {
	case transcribe.EventFinal:
		d.acc.add(ev.Text)
	case transcribe.EventBoundary:
		if text := d.acc.take(); text != "" {
			return text, true
		}
	}
	return "", false
}

func (d *boundaryDetector) Poll(time.Time) (string, bool) { return "", false }

func (d *boundaryDetector) PollInterval() time.Duration { return 0 }

func (d *boundaryDetector) Reset() { d.acc.take() }
