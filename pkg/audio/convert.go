// Package audio provides the PCM frame codec shared by the conversation
// pipeline and the supervisory relay: wire-format conversion between
// little-endian int16 PCM and float samples, linear-interpolation resampling,
// channel up/down-mixing, and the playback scheduler that paces frames onto
// an output sink.
package audio

import (
	"encoding/binary"
	"math"
)

// Decode converts little-endian int16 PCM bytes into float64 samples in
// [-1, 1). A trailing odd byte is ignored.
func Decode(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Encode converts float64 samples in [-1, 1) back to little-endian int16 PCM.
// Samples outside the valid range are clamped.
func Encode(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		scaled := v * 32768.0
		if scaled > 32767 {
			scaled = 32767
		} else if scaled < -32768 {
			scaled = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(scaled)))
	}
	return out
}

// Resample converts mono samples from srcRate to dstRate using linear
// interpolation. The output length is round(len(samples)·dstRate/srcRate).
// Each output position maps to a fractional source index; the two nearest
// input samples are blended, with the last input sample used as the upper
// bound so the loop never reads past the buffer. Equal rates return the
// input unchanged.
func Resample(samples []float64, srcRate, dstRate int) []float64 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(math.Round(float64(len(samples)) * float64(dstRate) / float64(srcRate)))
	if dstLen == 0 {
		return nil
	}

	out := make([]float64, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(samples)-1 {
			out[i] = samples[len(samples)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = samples[idx]*(1-frac) + samples[idx+1]*frac
	}
	return out
}

// ResamplePCM16 resamples 16-bit mono PCM bytes from srcRate to dstRate.
// This is the byte-level fast path used on the capture and relay streams;
// it follows the same length and interpolation contract as [Resample].
func ResamplePCM16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(math.Round(float64(srcSamples) * float64(dstRate) / float64(srcRate)))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstSamples {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)

		s0 := int16(binary.LittleEndian.Uint16(pcm[idx*2:]))
		s1 := s0
		if idx+1 < srcSamples {
			s1 = int16(binary.LittleEndian.Uint16(pcm[(idx+1)*2:]))
		}

		v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(binary.LittleEndian.Uint16(pcm[i*4:])))
		r := int32(int16(binary.LittleEndian.Uint16(pcm[i*4+2:])))
		avg := (l + r) / 2
		if avg > 32767 {
			avg = 32767
		} else if avg < -32768 {
			avg = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(avg)))
	}
	return out
}

// ConvertFrame converts a frame to the target sample rate and channel count.
// If the frame already matches, it is returned unchanged. Resampling happens
// before channel conversion so stereo sources are not resampled twice.
func ConvertFrame(f Frame, sampleRate, channels int) Frame {
	if len(f.PCM)%2 != 0 {
		return Frame{SampleRate: sampleRate, Channels: channels}
	}
	if f.SampleRate == sampleRate && f.Channels == channels {
		return f
	}

	pcm := f.PCM
	if f.SampleRate != sampleRate {
		if f.Channels == 2 {
			// Downmix first so the resampler only sees mono streams.
			pcm = StereoToMono(pcm)
			f.Channels = 1
		}
		pcm = ResamplePCM16(pcm, f.SampleRate, sampleRate)
	}
	switch {
	case f.Channels == 1 && channels == 2:
		pcm = MonoToStereo(pcm)
	case f.Channels == 2 && channels == 1:
		pcm = StereoToMono(pcm)
	}
	return Frame{PCM: pcm, SampleRate: sampleRate, Channels: channels}
}
