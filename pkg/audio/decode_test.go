package audio_test

import (
	"errors"
	"testing"

	"github.com/voxwire/voxwire/pkg/audio"
)

func TestWAVRoundTrip(t *testing.T) {
	src := audio.Frame{PCM: pcm16(1, -1, 12345, -12345), SampleRate: 16000, Channels: 1}
	got, err := audio.DecodeWAV(audio.EncodeWAV(src))
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if got.SampleRate != src.SampleRate || got.Channels != src.Channels {
		t.Fatalf("header = %d Hz %d ch, want %d Hz %d ch",
			got.SampleRate, got.Channels, src.SampleRate, src.Channels)
	}
	if string(got.PCM) != string(src.PCM) {
		t.Fatal("PCM payload did not survive the round trip")
	}
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"not riff":  []byte("OggS....junkjunk"),
		"no chunks": []byte("RIFF\x04\x00\x00\x00WAVE"),
		"truncated": append(audio.EncodeWAV(audio.Frame{PCM: pcm16(1, 2, 3), SampleRate: 8000, Channels: 1})[:20], 0xff),
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := audio.DecodeWAV(data); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestDecodeWAVRejectsCompressedCodec(t *testing.T) {
	data := audio.EncodeWAV(audio.Frame{PCM: pcm16(0, 0), SampleRate: 8000, Channels: 1})
	// Overwrite the fmt codec field (offset 20) with a-law.
	data[20] = 6
	if _, err := audio.DecodeWAV(data); err == nil {
		t.Fatal("expected rejection of non-PCM codec")
	}
}

func TestDecodeEncodedFormatDispatch(t *testing.T) {
	wav := audio.EncodeWAV(audio.Frame{PCM: pcm16(7, 8), SampleRate: 16000, Channels: 1})

	if _, err := audio.DecodeEncoded("wav", wav); err != nil {
		t.Fatalf("wav: %v", err)
	}
	if _, err := audio.DecodeEncoded("wave", wav); err != nil {
		t.Fatalf("wave alias: %v", err)
	}
	if _, err := audio.DecodeEncoded("flac", wav); !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Fatalf("flac error = %v, want ErrUnsupportedFormat", err)
	}
}
