package transcribe

import "encoding/json"

// The two provider dialects share one JSON envelope shape on the wire but
// differ in which messages they send:
//
//   - Delta dialect: "Results" messages carrying partial/final transcript
//     alternatives per channel. No explicit turn marker; turn ends are
//     inferred downstream from silence.
//   - Boundary dialect: "transcript.partial" / "transcript.final" messages
//     with a flat text field, plus a discrete "turn.end" event when the
//     provider's endpointing decides the user stopped speaking.

// deltaMessage is the Results envelope of the delta dialect.
type deltaMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// boundaryMessage is the envelope of the boundary dialect.
type boundaryMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// parseDelta normalizes one delta-dialect message. Returns (event, true) on
// a usable transcript, or (zero, false) when the message should be ignored
// (metadata, empty alternatives, unknown type).
func parseDelta(data []byte) (Event, bool) {
	var msg deltaMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}
	if msg.Type != "Results" || len(msg.Channel.Alternatives) == 0 {
		return Event{}, false
	}
	text := msg.Channel.Alternatives[0].Transcript
	if text == "" {
		return Event{}, false
	}
	kind := EventPartial
	if msg.IsFinal {
		kind = EventFinal
	}
	return Event{Kind: kind, Text: text}, true
}

// parseBoundary normalizes one boundary-dialect message.
func parseBoundary(data []byte) (Event, bool) {
	var msg boundaryMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, false
	}
	switch msg.Type {
	case "turn.end":
		return Event{Kind: EventBoundary}, true
	case "transcript.final":
		if msg.Text == "" {
			return Event{}, false
		}
		return Event{Kind: EventFinal, Text: msg.Text}, true
	case "transcript.partial":
		if msg.Text == "" {
			return Event{}, false
		}
		return Event{Kind: EventPartial, Text: msg.Text}, true
	}
	return Event{}, false
}

// parserFor selects the wire parser matching the provider capability flag.
func parserFor(cfg Config) func([]byte) (Event, bool) {
	if cfg.Boundary {
		return parseBoundary
	}
	return parseDelta
}
