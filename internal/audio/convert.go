package audio

import (
	"encoding/binary"
	"math"
)

// ToFloat32 decodes raw PCM bytes in the given sample format into
// normalized [-1, 1] float32 samples, as an intermediate representation
// for format/channel/rate conversion.
func ToFloat32(input []byte, format SampleFormat) []float32 {
	switch format {
	case SampleFormatI16:
		n := len(input) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(input[i*2:]))
			out[i] = float32(v) / float32(32767)
		}
		return out
	case SampleFormatI24:
		n := len(input) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			b := input[i*3 : i*3+3]
			v := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
			v = (v << 8) >> 8 // sign-extend from 24 to 32 bits
			out[i] = float32(v) / 8388608.0
		}
		return out
	case SampleFormatI32:
		n := len(input) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(input[i*4:]))
			out[i] = float32(v) / float32(2147483647)
		}
		return out
	case SampleFormatF32:
		n := len(input) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
		}
		return out
	default:
		return nil
	}
}

// FromFloat32 encodes normalized [-1, 1] float32 samples into raw PCM
// bytes in the given sample format, clamping out-of-range input.
func FromFloat32(input []float32, format SampleFormat) []byte {
	switch format {
	case SampleFormatI16:
		out := make([]byte, len(input)*2)
		for i, s := range input {
			v := int16(clamp(s) * 32767)
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return out
	case SampleFormatI24:
		out := make([]byte, len(input)*3)
		for i, s := range input {
			scaled := clamp(s) * 8388608.0
			v := int32(scaled)
			if v > 8388607 {
				v = 8388607
			}
			out[i*3] = byte(v)
			out[i*3+1] = byte(v >> 8)
			out[i*3+2] = byte(v >> 16)
		}
		return out
	case SampleFormatI32:
		out := make([]byte, len(input)*4)
		for i, s := range input {
			v := int32(clamp(s) * 2147483647)
			binary.LittleEndian.PutUint32(out[i*4:], uint32(v))
		}
		return out
	case SampleFormatF32:
		out := make([]byte, len(input)*4)
		for i, s := range input {
			binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
		}
		return out
	default:
		return nil
	}
}

// ConvertSamples re-encodes raw PCM bytes from one sample format to
// another via the float32 intermediate, a no-op when the formats match.
func ConvertSamples(input []byte, from, to SampleFormat) []byte {
	if from == to {
		out := make([]byte, len(input))
		copy(out, input)
		return out
	}
	return FromFloat32(ToFloat32(input, from), to)
}

// ConvertChannels remaps a float32 frame stream between channel counts.
// Mono<->stereo gets the natural duplicate/average treatment; any other
// combination copies the channels it can and zero-fills the rest.
func ConvertChannels(input []float32, inChannels, outChannels int) []float32 {
	if inChannels == outChannels {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	frames := len(input) / inChannels
	out := make([]float32, frames*outChannels)

	for frame := 0; frame < frames; frame++ {
		inStart := frame * inChannels
		outStart := frame * outChannels

		switch {
		case inChannels == 1 && outChannels == 2:
			out[outStart] = input[inStart]
			out[outStart+1] = input[inStart]
		case inChannels == 2 && outChannels == 1:
			out[outStart] = (input[inStart] + input[inStart+1]) * 0.5
		default:
			count := outChannels
			if inChannels < count {
				count = inChannels
			}
			copy(out[outStart:outStart+count], input[inStart:inStart+count])
		}
	}
	return out
}

// ResampleLinear performs linear-interpolation sample rate conversion.
// Acceptable per spec.md §4.7 ("linear interpolation is acceptable; a
// polyphase filter is better") for the common case of matching a
// source's native rate to the session's negotiated 44.1kHz.
func ResampleLinear(input []float32, inRate, outRate uint32, channels int) []float32 {
	if inRate == outRate {
		out := make([]float32, len(input))
		copy(out, input)
		return out
	}

	inFrames := len(input) / channels
	ratio := float64(inRate) / float64(outRate)
	outFrames := int(float64(inFrames) / ratio)

	out := make([]float32, outFrames*channels)
	for outFrame := 0; outFrame < outFrames; outFrame++ {
		inPos := float64(outFrame) * ratio
		inFrame := int(inPos)
		frac := float32(inPos - float64(inFrame))

		for ch := 0; ch < channels; ch++ {
			idx0 := inFrame*channels + ch
			idx1Frame := inFrame + 1
			if idx1Frame > inFrames-1 {
				idx1Frame = inFrames - 1
			}
			idx1 := idx1Frame*channels + ch

			s0 := input[idx0]
			s1 := input[idx1]
			out[outFrame*channels+ch] = s0*(1-frac) + s1*frac
		}
	}
	return out
}

func clamp(s float32) float32 {
	if s > 1 {
		return 1
	}
	if s < -1 {
		return -1
	}
	return s
}
