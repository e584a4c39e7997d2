package respond

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/voxwire/voxwire/pkg/audio"
	"github.com/voxwire/voxwire/pkg/transcribe"
)

// frameChunk is the duration of the playback frames a decoded reply is cut
// into before scheduling.
const frameChunk = 100 * time.Millisecond

// Reply is a fully decoded boundary response, ready for the session to act
// on: text for the transcript, playback frames, an optional language switch,
// and the server-authoritative remaining budget.
type Reply struct {
	// Text is the assistant's reply.
	Text string

	// Frames is the synthesized speech cut into scheduler-sized chunks.
	// Empty when the boundary returned no audio.
	Frames []audio.Frame

	// Switch, when non-nil, is the transcription configuration to rebuild
	// the link with once pending audio has finished playing.
	Switch *transcribe.Config

	// Language is the conversation language after this reply.
	Language string

	// RemainingSecs is the updated time budget. Zero means the boundary
	// did not report one and the session keeps its local countdown.
	RemainingSecs int
}

// Orchestrator owns the think step of the pipeline: it takes a finalized
// user turn, performs the reasoning/synthesis round trip, and decodes the
// result. It never mutates session state itself; the session applies the
// returned Reply at its next callback boundary.
type Orchestrator struct {
	client       *Client
	playbackRate int
}

// NewOrchestrator creates an Orchestrator delivering frames at the given
// playback sample rate.
func NewOrchestrator(client *Client, playbackRate int) *Orchestrator {
	return &Orchestrator{client: client, playbackRate: playbackRate}
}

// StartSession allocates a session at the boundary and decodes any welcome
// audio into playback frames.
func (o *Orchestrator) StartSession(ctx context.Context, req StartRequest) (StartResult, []audio.Frame, error) {
	res, err := o.client.StartSession(ctx, req)
	if err != nil {
		return StartResult{}, nil, err
	}
	if res.WelcomeAudio == "" {
		return res, nil, nil
	}
	frames, err := o.decodeAudio(res.WelcomeAudio, res.AudioFormat)
	if err != nil {
		// A bad welcome payload should not kill the session; start silent.
		return res, nil, nil
	}
	return res, frames, nil
}

// Respond performs the chat round trip for one finalized turn.
func (o *Orchestrator) Respond(ctx context.Context, sessionID, text string) (Reply, error) {
	raw, err := o.client.Chat(ctx, sessionID, text)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{
		Text:          raw.Reply,
		Switch:        raw.Transcribe,
		Language:      raw.Language,
		RemainingSecs: raw.Remaining,
	}
	if raw.Audio != "" {
		frames, err := o.decodeAudio(raw.Audio, raw.Format)
		if err != nil {
			return Reply{}, fmt.Errorf("%w: %v", ErrBoundary, err)
		}
		reply.Frames = frames
	}
	return reply, nil
}

// decodeAudio decodes a base64 payload with its format tag, converts it to
// the playback rate as mono PCM, and splits it into scheduler-sized frames.
func (o *Orchestrator) decodeAudio(b64, format string) ([]audio.Frame, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	frame, err := audio.DecodeEncoded(format, data)
	if err != nil {
		return nil, err
	}
	frame = audio.ConvertFrame(frame, o.playbackRate, 1)
	return frame.Split(frameChunk), nil
}
