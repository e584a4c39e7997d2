package audio

import "time"

// Frame represents a single chunk of audio flowing through the pipeline.
// Frames are the atomic unit of audio transport — captured from the caller's
// microphone stream, sent to the transcription link, and produced by the
// synthesis boundary for playback. A Frame is immutable once produced.
type Frame struct {
	// PCM holds little-endian signed 16-bit samples.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for transcription input, 48000 for playback).
	SampleRate int

	// Channels: 1 for mono (transcription input), 2 for stereo playback devices.
	Channels int
}

// Samples returns the number of per-channel sample positions in the frame.
func (f Frame) Samples() int {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return len(f.PCM) / 2 / ch
}

// Duration returns the playback duration of the frame at its sample rate.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.Samples()) * time.Second / time.Duration(f.SampleRate)
}

// Split cuts the frame into consecutive sub-frames of at most chunk duration.
// The final sub-frame may be shorter. Frames shorter than chunk are returned
// as a single-element slice.
func (f Frame) Split(chunk time.Duration) []Frame {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	if chunk <= 0 || f.SampleRate <= 0 {
		return []Frame{f}
	}
	chunkBytes := int(int64(chunk)*int64(f.SampleRate)/int64(time.Second)) * 2 * ch
	if chunkBytes <= 0 || chunkBytes >= len(f.PCM) {
		return []Frame{f}
	}

	var out []Frame
	for off := 0; off < len(f.PCM); off += chunkBytes {
		end := min(off+chunkBytes, len(f.PCM))
		out = append(out, Frame{PCM: f.PCM[off:end], SampleRate: f.SampleRate, Channels: f.Channels})
	}
	return out
}
