package audio

import (
	"context"
	"io"
	"log/slog"
	"time"
)

// Source is the downstream collaborator the application supplies: a
// blocking PCM reader in a source-native format, yielding zero bytes at
// end of stream (spec.md §6 "Downstream to the audio source").
type Source interface {
	Format() Format
	Read(buf []byte) (int, error)
	Seek(frameOffset int64) error
	IsSeekable() bool
}

// prefillThreshold is the fraction of ring-buffer capacity the pipeline
// waits to cross before considering the stream primed (spec.md §4.7).
const prefillThreshold = 0.5

// producerChunkMultiplier sizes each source read as a multiple of one RTP
// packet's byte footprint in the target format (spec.md §4.7: "chunks of
// 4 × packet_bytes").
const producerChunkMultiplier = 4

// Pipeline owns the ring buffer staging conformed audio between an
// application-supplied Source and the RTP sender, performing format and
// channel conversion and, when rates differ, linear-interpolation
// resampling inline (spec.md §4.7).
type Pipeline struct {
	source Source
	target Format
	ring   *RingBuffer

	logger *slog.Logger
}

// NewPipeline sizes the ring buffer for ~500ms of the target format and
// wraps source with the conversion the target stream requires.
func NewPipeline(source Source, target Format, logger *slog.Logger) *Pipeline {
	capacity := target.DurationToBytes(ringBufferDuration)
	return &Pipeline{
		source: source,
		target: target,
		ring:   NewRingBuffer(capacity),
		logger: logger.With("subsystem", "audio-pipeline"),
	}
}

const ringBufferDuration = 500 * time.Millisecond

// Ring returns the backing ring buffer the RTP sender reads from.
func (p *Pipeline) Ring() *RingBuffer { return p.ring }

// Prefill reads from the source until the ring buffer crosses its
// readiness threshold or the source yields zero bytes (spec.md §4.7).
func (p *Pipeline) Prefill(ctx context.Context) error {
	threshold := int(float64(len(p.ring.buf)) * prefillThreshold)
	chunk := make([]byte, p.target.BytesPerFrame()*FramesPerChunk)
	for p.ring.Available() < threshold {
		n, err := p.readConformed(chunk)
		if n == 0 || err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := p.ring.Write(ctx, chunk[:n]); err != nil {
			return err
		}
	}
	return nil
}

// FramesPerChunk matches the RTP sender's packetization unit so the
// producer's chunk multiplier composes cleanly with pacing ticks.
const FramesPerChunk = 352

// Run reads from the source in producerChunkMultiplier-sized chunks,
// conforms to the target format, and writes into the ring buffer until
// ctx is canceled or the source reaches end of stream. It blocks on
// ring-buffer space rather than dropping samples (spec.md §4.7 "never
// drops").
func (p *Pipeline) Run(ctx context.Context) {
	chunkFrames := FramesPerChunk * producerChunkMultiplier
	chunk := make([]byte, p.target.BytesPerFrame()*chunkFrames)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := p.readConformed(chunk)
		if err != nil && err != io.EOF {
			p.logger.Error("source read failed", "error", err)
			return
		}
		if n == 0 {
			return
		}
		if _, err := p.ring.Write(ctx, chunk[:n]); err != nil {
			return
		}
	}
}

// readConformed reads one chunk from the source and converts it in place
// to the pipeline's target sample format, channel layout, and rate.
func (p *Pipeline) readConformed(buf []byte) (int, error) {
	srcFormat := p.source.Format()
	srcBytesPerFrame := srcFormat.BytesPerFrame()

	srcBuf := make([]byte, (len(buf)/p.target.BytesPerFrame())*srcBytesPerFrame)
	n, err := p.source.Read(srcBuf)
	if n == 0 {
		return 0, err
	}
	srcBuf = srcBuf[:n]

	if srcFormat == p.target {
		return copy(buf, srcBuf), nil
	}

	samples := ToFloat32(srcBuf, srcFormat.SampleFormat)
	samples = ConvertChannels(samples, srcFormat.Channels, p.target.Channels)
	samples = ResampleLinear(samples, srcFormat.SampleRate, p.target.SampleRate, p.target.Channels)
	out := FromFloat32(samples, p.target.SampleFormat)

	return copy(buf, out), nil
}

// Seek clears the ring buffer and, when the source supports it, seeks to
// frameOffset before the producer resumes (spec.md §8 S4).
func (p *Pipeline) Seek(frameOffset int64) error {
	p.ring.Clear()
	if !p.source.IsSeekable() {
		return nil
	}
	return p.source.Seek(frameOffset)
}
