package audio

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"
)

type fakeSource struct {
	format Format
	r      *bytes.Reader
}

func (f *fakeSource) Format() Format { return f.format }

func (f *fakeSource) Read(buf []byte) (int, error) {
	n, err := f.r.Read(buf)
	if err == io.EOF {
		return n, nil
	}
	return n, err
}

func (f *fakeSource) Seek(frameOffset int64) error { return nil }
func (f *fakeSource) IsSeekable() bool              { return true }

func TestPipelinePassthroughSameFormat(t *testing.T) {
	format := CDQuality
	data := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 10000)
	src := &fakeSource{format: format, r: bytes.NewReader(data)}

	p := NewPipeline(src, format, slog.Default())
	if err := p.Prefill(context.Background()); err != nil {
		t.Fatalf("Prefill: %v", err)
	}

	if p.Ring().Available() == 0 {
		t.Fatal("expected ring buffer to have been primed")
	}
}

func TestPipelineConvertsDifferingFormat(t *testing.T) {
	srcFormat := Format{SampleFormat: SampleFormatI16, SampleRate: 44100, Channels: 1}
	target := CDQuality
	data := bytes.Repeat([]byte{0x01, 0x02}, 10000)
	src := &fakeSource{format: srcFormat, r: bytes.NewReader(data)}

	p := NewPipeline(src, target, slog.Default())
	if err := p.Prefill(context.Background()); err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if p.Ring().Available() == 0 {
		t.Fatal("expected mono source to be upmixed into the stereo ring buffer")
	}
}

func TestPipelineSeekClearsRing(t *testing.T) {
	format := CDQuality
	data := bytes.Repeat([]byte{0x01, 0x02, 0x03, 0x04}, 10000)
	src := &fakeSource{format: format, r: bytes.NewReader(data)}

	p := NewPipeline(src, format, slog.Default())
	p.Prefill(context.Background())
	if p.Ring().Available() == 0 {
		t.Fatal("expected buffered data before seek")
	}

	if err := p.Seek(0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	if p.Ring().Available() != 0 {
		t.Fatalf("Available() after Seek = %d, want 0", p.Ring().Available())
	}
}
