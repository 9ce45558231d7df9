package client

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/audio"
)

// buildWAV constructs a minimal canonical PCM WAV file in memory:
// a RIFF header, a 16-byte "fmt " chunk, and a "data" chunk holding
// frameCount frames of the given format.
func buildWAV(t *testing.T, format audio.Format, frameCount int) []byte {
	t.Helper()

	bytesPerFrame := format.BytesPerFrame()
	dataSize := frameCount * bytesPerFrame

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+16+8+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(&buf, binary.LittleEndian, format.SampleRate)
	byteRate := format.SampleRate * uint32(bytesPerFrame)
	binary.Write(&buf, binary.LittleEndian, byteRate)
	binary.Write(&buf, binary.LittleEndian, uint16(bytesPerFrame))
	binary.Write(&buf, binary.LittleEndian, uint16(format.SampleFormat.BytesPerSample()*8))

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataSize))
	for i := 0; i < dataSize; i++ {
		buf.WriteByte(byte(i))
	}

	return buf.Bytes()
}

func TestWAVSourceParsesFormatAndReadsFrames(t *testing.T) {
	data := buildWAV(t, audio.CDQuality, 10)
	src, err := newWAVSource(&byteSeeker{data: data}, nil)
	if err != nil {
		t.Fatalf("newWAVSource: %v", err)
	}

	if src.Format() != audio.CDQuality {
		t.Fatalf("expected format %+v, got %+v", audio.CDQuality, src.Format())
	}

	buf := make([]byte, src.format.BytesPerFrame()*10)
	n, err := src.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("expected to read %d bytes, got %d", len(buf), n)
	}

	n, err = src.Read(buf)
	if err != nil {
		t.Fatalf("Read at EOF: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 bytes at end of stream, got %d", n)
	}
}

func TestWAVSourceSeek(t *testing.T) {
	data := buildWAV(t, audio.CDQuality, 10)
	src, err := newWAVSource(&byteSeeker{data: data}, nil)
	if err != nil {
		t.Fatalf("newWAVSource: %v", err)
	}

	if err := src.Seek(5); err != nil {
		t.Fatalf("Seek: %v", err)
	}

	buf := make([]byte, src.format.BytesPerFrame())
	n, err := src.Read(buf)
	if err != nil || n != len(buf) {
		t.Fatalf("Read after seek: n=%d err=%v", n, err)
	}
	if buf[0] != byte(5*src.format.BytesPerFrame()) {
		t.Fatalf("expected to land on frame 5's first byte, got %d", buf[0])
	}
}

func TestWAVSourceRejectsCompressedFormatTag(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(4+8+16+8+4))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(85)) // MP3 format tag
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint32(44100))
	binary.Write(&buf, binary.LittleEndian, uint32(44100*4))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(4))
	buf.Write([]byte{0, 0, 0, 0})

	_, err := newWAVSource(&byteSeeker{data: buf.Bytes()}, nil)
	if err == nil {
		t.Fatal("expected an error for a compressed format tag")
	}
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected an *apperr.Error, got %T: %v", err, err)
	}
	if appErr.Kind != apperr.KindUnsupportedFormat {
		t.Fatalf("expected KindUnsupportedFormat, got %v", appErr.Kind)
	}
}

func TestWAVSourceRejectsNonRIFFHeader(t *testing.T) {
	_, err := newWAVSource(&byteSeeker{data: []byte("not a wav file at all!!")}, nil)
	if err == nil {
		t.Fatal("expected an error for a non-RIFF file")
	}
}

var _ io.ReadSeeker = (*byteSeeker)(nil)
