// Package audio owns the pipeline glue between a decoded audio source and
// the RTP sender: format/channel/rate conversion and the ring buffer that
// absorbs producer/consumer timing jitter (spec.md §4.7).
package audio

import "time"

// SampleFormat identifies the PCM sample encoding.
type SampleFormat int

const (
	SampleFormatI16 SampleFormat = iota
	SampleFormatI24
	SampleFormatI32
	SampleFormatF32
)

// BytesPerSample returns the on-wire size of one sample in this format.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatI16:
		return 2
	case SampleFormatI24:
		return 3
	case SampleFormatI32, SampleFormatF32:
		return 4
	default:
		return 0
	}
}

// Format fully describes a PCM stream: sample encoding, rate, and channel
// count.
type Format struct {
	SampleFormat SampleFormat
	SampleRate   uint32
	Channels     int
}

// CDQuality is 16-bit 44.1kHz stereo, the format AirPlay's legacy RTP
// audio type (100/PCM) and ALAC both negotiate down to.
var CDQuality = Format{SampleFormat: SampleFormatI16, SampleRate: 44100, Channels: 2}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.SampleFormat.BytesPerSample() * f.Channels
}

// BytesPerSecond is the stream's raw data rate.
func (f Format) BytesPerSecond() int {
	return f.BytesPerFrame() * int(f.SampleRate)
}

// FramesToDuration converts a frame count to wall-clock duration at this
// format's sample rate.
func (f Format) FramesToDuration(frames int) time.Duration {
	return time.Duration(float64(frames) / float64(f.SampleRate) * float64(time.Second))
}

// DurationToFrames converts a wall-clock duration to a frame count at
// this format's sample rate.
func (f Format) DurationToFrames(d time.Duration) int {
	return int(d.Seconds() * float64(f.SampleRate))
}

// DurationToBytes converts a wall-clock duration to a byte count at this
// format's rate and frame size.
func (f Format) DurationToBytes(d time.Duration) int {
	return f.DurationToFrames(d) * f.BytesPerFrame()
}
