// Package audio provides the PCM16 primitives shared by both capture paths:
// format conversion (resampling and channel mixing) and the WAV container
// codec used to package segments into uploadable evidence artifacts.
//
// All PCM data in this package is interleaved 16-bit signed little-endian.
package audio

import "time"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the PCM byte rate for the format (16-bit samples).
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Segment is a bounded span of raw PCM samples produced by one of the capture
// paths. A segment is owned by exactly one pipeline stage at a time: the
// capture engine fills it, seals it, and hands it downstream; the encoder
// consumes it once and the data is discarded afterwards.
type Segment struct {
	// Data is interleaved 16-bit little-endian PCM.
	Data []byte

	// Format is the sample rate and channel layout of Data.
	Format Format

	// SessionID identifies the protection session this segment belongs to.
	SessionID string

	// Index is the zero-based position of this segment within its session.
	// Segment N's audio strictly precedes segment N+1's.
	Index int

	// Start and End are the wall-clock bounds of the captured span.
	Start time.Time
	End   time.Time
}

// Duration returns the audio duration implied by the PCM length and format.
func (s Segment) Duration() time.Duration {
	bps := s.Format.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(float64(len(s.Data)) / float64(bps) * float64(time.Second))
}
