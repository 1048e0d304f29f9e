package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Converter converts raw PCM to a target format. It logs a warning on the
// first format mismatch and validates PCM data alignment. Safe for concurrent
// use: the only mutable state is the warn-once guards.
type Converter struct {
	Target         Format
	warnedMismatch sync.Once
	warnedCorrupt  sync.Once
}

// Convert converts pcm from src to the converter's target format. If the
// source format already matches the target, the input slice is returned
// unchanged (by reference, zero allocation). Conversion order: channel
// convert first, then resample, so multi-channel input is never resampled.
func (c *Converter) Convert(pcm []byte, src Format) []byte {
	// Odd byte count means the int16 stream is corrupt; drop it.
	if len(pcm)%2 != 0 {
		c.warnedCorrupt.Do(func() {
			slog.Warn("audio converter: odd byte count in PCM data, dropping",
				"bytes", len(pcm),
				"sampleRate", src.SampleRate,
				"channels", src.Channels,
			)
		})
		return nil
	}

	// Fast path: source matches target.
	if src == c.Target {
		return pcm
	}

	c.warnedMismatch.Do(func() {
		slog.Warn("audio format mismatch: converting",
			"from", formatString(src),
			"to", formatString(c.Target),
		)
	})

	cur := src
	if cur.Channels != c.Target.Channels {
		if c.Target.Channels == 1 {
			pcm = DownmixMono(pcm, cur.Channels)
		} else if cur.Channels == 1 {
			pcm = ExpandMono(pcm, c.Target.Channels)
		} else {
			// N→M with both >1: go through mono.
			pcm = ExpandMono(DownmixMono(pcm, cur.Channels), c.Target.Channels)
		}
		cur.Channels = c.Target.Channels
	}

	if cur.SampleRate != c.Target.SampleRate {
		if cur.Channels == 1 {
			pcm = ResampleMono16(pcm, cur.SampleRate, c.Target.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, cur.SampleRate, c.Target.SampleRate)
		}
		cur.SampleRate = c.Target.SampleRate
	}

	return pcm
}

// Convert is a convenience wrapper for one-shot conversions. The identity
// law holds: when src == dst the input slice itself is returned.
func Convert(pcm []byte, src, dst Format) []byte {
	c := Converter{Target: dst}
	return c.Convert(pcm, src)
}

// DownmixMono reduces interleaved PCM with the given channel count to mono by
// taking the arithmetic mean of the channels per frame. The mean of int16
// values cannot leave the int16 range, so Go's integer division (truncation
// toward zero) is the only rounding applied.
func DownmixMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := channels * 2
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += int32(int16(pcm[off]) | int16(pcm[off+1])<<8)
		}
		avg := sum / int32(channels)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ExpandMono replicates each mono int16 sample into every channel of an
// interleaved multi-channel frame.
func ExpandMono(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	samples := len(pcm) / 2
	out := make([]byte, samples*channels*2)
	for i := range samples {
		lo, hi := pcm[i*2], pcm[i*2+1]
		for ch := range channels {
			off := (i*channels + ch) * 2
			out[off] = lo
			out[off+1] = hi
		}
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using
// linear interpolation between the two nearest source samples. Boundary
// frames clamp to the last valid source sample rather than reading out of
// bounds. If srcRate == dstRate the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcSamples := len(pcm) / 2
	dstSamples := int(int64(srcSamples) * int64(dstRate) / int64(srcRate))
	if dstSamples == 0 {
		return nil
	}

	out := make([]byte, dstSamples*2)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstSamples {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		s0 := int16(pcm[srcIdx*2]) | int16(pcm[srcIdx*2+1])<<8
		var s1 int16
		if srcIdx+1 < srcSamples {
			s1 = int16(pcm[(srcIdx+1)*2]) | int16(pcm[(srcIdx+1)*2+1])<<8
		} else {
			s1 = s0
		}

		interpolated := int16(float64(s0)*(1-frac) + float64(s1)*frac)
		out[i*2] = byte(interpolated)
		out[i*2+1] = byte(interpolated >> 8)
	}
	return out
}

// ResampleStereo16 resamples 16-bit stereo PCM from srcRate to dstRate using
// linear interpolation. Each stereo frame is 4 bytes (L+R interleaved).
// If srcRate == dstRate the input is returned unchanged.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 {
		return pcm
	}
	if srcRate == dstRate || len(pcm) < 4 {
		return pcm
	}
	srcFrames := len(pcm) / 4
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*4)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		l0 := int16(pcm[srcIdx*4]) | int16(pcm[srcIdx*4+1])<<8
		r0 := int16(pcm[srcIdx*4+2]) | int16(pcm[srcIdx*4+3])<<8

		var l1, r1 int16
		if srcIdx+1 < srcFrames {
			l1 = int16(pcm[(srcIdx+1)*4]) | int16(pcm[(srcIdx+1)*4+1])<<8
			r1 = int16(pcm[(srcIdx+1)*4+2]) | int16(pcm[(srcIdx+1)*4+3])<<8
		} else {
			l1 = l0
			r1 = r0
		}

		lInterp := int16(float64(l0)*(1-frac) + float64(l1)*frac)
		rInterp := int16(float64(r0)*(1-frac) + float64(r1)*frac)

		out[i*4] = byte(lInterp)
		out[i*4+1] = byte(lInterp >> 8)
		out[i*4+2] = byte(rInterp)
		out[i*4+3] = byte(rInterp >> 8)
	}
	return out
}

// formatString returns a human-readable string for a format,
// e.g. "48000Hz stereo".
func formatString(f Format) string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}
