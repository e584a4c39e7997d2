package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrUnsupportedFormat is returned by [DecodeEncoded] for format tags other
// than the supported wav and mp3.
var ErrUnsupportedFormat = errors.New("audio: unsupported format")

// DecodeEncoded decodes a synthesized audio payload into a PCM frame.
// The format tag comes from the synthesis boundary ("wav" or "mp3").
func DecodeEncoded(format string, data []byte) (Frame, error) {
	switch format {
	case "wav", "wave":
		return DecodeWAV(data)
	case "mp3":
		return DecodeMP3(data)
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
}

// DecodeWAV parses a RIFF/WAVE container holding 16-bit PCM and returns the
// raw sample data. Compressed WAVE encodings are rejected.
func DecodeWAV(data []byte) (Frame, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return Frame{}, errors.New("audio: not a RIFF/WAVE file")
	}

	var (
		sampleRate int
		channels   int
		bits       int
		pcm        []byte
	)

	// Walk the chunk list; fmt must precede data per the RIFF spec.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			return Frame{}, errors.New("audio: truncated WAVE chunk")
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return Frame{}, errors.New("audio: malformed fmt chunk")
			}
			codec := binary.LittleEndian.Uint16(data[body : body+2])
			if codec != 1 { // PCM
				return Frame{}, fmt.Errorf("audio: unsupported WAVE codec %d", codec)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			sampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		// Chunks are word-aligned.
		off = body + size + size%2
	}

	if sampleRate == 0 || pcm == nil {
		return Frame{}, errors.New("audio: WAVE file missing fmt or data chunk")
	}
	if bits != 16 {
		return Frame{}, fmt.Errorf("audio: unsupported bit depth %d", bits)
	}
	return Frame{PCM: pcm, SampleRate: sampleRate, Channels: channels}, nil
}

// DecodeMP3 decodes an MP3 payload to 16-bit stereo PCM at the stream's
// native sample rate.
func DecodeMP3(data []byte) (Frame, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return Frame{}, fmt.Errorf("audio: decode mp3: %w", err)
	}
	// go-mp3 always emits 16-bit two-channel output.
	return Frame{PCM: pcm, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

// EncodeWAV wraps 16-bit PCM in a minimal RIFF/WAVE container. Used by tests
// and by tooling that captures pipeline output for inspection.
func EncodeWAV(f Frame) []byte {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(f.PCM)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(ch))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(f.SampleRate*ch*2))
	binary.Write(&buf, binary.LittleEndian, uint16(ch*2))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(len(f.PCM)))
	buf.Write(f.PCM)
	return buf.Bytes()
}
