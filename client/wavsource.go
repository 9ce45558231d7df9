package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/audio"
)

// WAVSource is an audio.Source reading uncompressed PCM frames out of a
// RIFF/WAVE container. It demuxes the container only; it never decodes a
// compressed codec, in keeping with spec.md §1's treatment of audio
// source decoding as an external collaborator. cmd/airplay2-sender's demo
// CLI and Client.PlayURL/PlayTracks both build on this for local files or
// webserver-hosted WAV files.
type WAVSource struct {
	r        io.ReadSeeker
	closer   io.Closer
	format   audio.Format
	dataOff  int64
	dataSize int64
}

// OpenWAVSource opens a local path or an http(s) URL and parses its RIFF
// header. HTTP sources are fully buffered in memory (WAV has no streaming
// seek story over a plain GET without range support, and this core
// targets short clips and demos, not long-form podcasts).
func OpenWAVSource(location string) (*WAVSource, error) {
	if u, err := url.Parse(location); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return openWAVFromURL(location)
	}
	return openWAVFromFile(location)
}

func openWAVFromFile(path string) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInvalidParameter, "opening WAV file", false, err)
	}
	src, err := newWAVSource(f, f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

func openWAVFromURL(location string) (*WAVSource, error) {
	resp, err := http.Get(location)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "fetching WAV URL", true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.New(apperr.KindNetworkError, fmt.Sprintf("fetching WAV URL: status %d", resp.StatusCode), true)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "reading WAV URL body", true, err)
	}
	return newWAVSource(&byteSeeker{data: data}, nil)
}

// byteSeeker adapts an in-memory buffer to io.ReadSeeker for URL-sourced
// WAV data.
type byteSeeker struct {
	data []byte
	pos  int64
}

func (b *byteSeeker) Read(p []byte) (int, error) {
	if b.pos >= int64(len(b.data)) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += int64(n)
	return n, nil
}

func (b *byteSeeker) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = int64(len(b.data))
	}
	b.pos = base + offset
	return b.pos, nil
}

// newWAVSource parses r's RIFF header, locating "fmt " and "data" chunks.
// Only uncompressed PCM (format tag 1) and IEEE float (tag 3) are
// accepted; anything else means the source needs a real decoder upstream
// of this core.
func newWAVSource(r io.ReadSeeker, closer io.Closer) (*WAVSource, error) {
	var riffHeader [12]byte
	if _, err := io.ReadFull(r, riffHeader[:]); err != nil {
		return nil, apperr.Wrap(apperr.KindCodecError, "reading RIFF header", false, err)
	}
	if string(riffHeader[0:4]) != "RIFF" || string(riffHeader[8:12]) != "WAVE" {
		return nil, apperr.New(apperr.KindCodecError, "not a RIFF/WAVE file", false)
	}

	var format audio.Format
	haveFormat := false
	var dataOff, dataSize int64

	for {
		var chunkHeader [8]byte
		if _, err := io.ReadFull(r, chunkHeader[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, apperr.Wrap(apperr.KindCodecError, "reading WAV chunk header", false, err)
		}
		id := string(chunkHeader[0:4])
		size := int64(binary.LittleEndian.Uint32(chunkHeader[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, apperr.Wrap(apperr.KindCodecError, "reading WAV fmt chunk", false, err)
			}
			f, err := parseFmtChunk(body)
			if err != nil {
				return nil, err
			}
			format = f
			haveFormat = true
		case "data":
			pos, err := r.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindCodecError, "seeking WAV data chunk", false, err)
			}
			dataOff = pos
			dataSize = size
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				// Some encoders omit trailing chunks and understate the
				// RIFF size; treat "seek past EOF" as "data runs to EOF".
				break
			}
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				break
			}
		}
		if size%2 == 1 {
			r.Seek(1, io.SeekCurrent)
		}
	}

	if !haveFormat || dataSize == 0 {
		return nil, apperr.New(apperr.KindCodecError, "WAV file missing fmt or data chunk", false)
	}
	if _, err := r.Seek(dataOff, io.SeekStart); err != nil {
		return nil, apperr.Wrap(apperr.KindCodecError, "seeking to WAV data", false, err)
	}

	return &WAVSource{r: r, closer: closer, format: format, dataOff: dataOff, dataSize: dataSize}, nil
}

// parseFmtChunk decodes the 16+ byte canonical PCM format chunk.
func parseFmtChunk(body []byte) (audio.Format, error) {
	if len(body) < 16 {
		return audio.Format{}, apperr.New(apperr.KindCodecError, "WAV fmt chunk too short", false)
	}
	tag := binary.LittleEndian.Uint16(body[0:2])
	channels := int(binary.LittleEndian.Uint16(body[2:4]))
	sampleRate := binary.LittleEndian.Uint32(body[4:8])
	bitsPerSample := binary.LittleEndian.Uint16(body[14:16])

	if tag != 1 && tag != 3 {
		return audio.Format{}, apperr.New(apperr.KindUnsupportedFormat, fmt.Sprintf("WAV format tag %d is not uncompressed PCM/float", tag), false)
	}

	var sf audio.SampleFormat
	switch {
	case tag == 3 && bitsPerSample == 32:
		sf = audio.SampleFormatF32
	case bitsPerSample == 16:
		sf = audio.SampleFormatI16
	case bitsPerSample == 24:
		sf = audio.SampleFormatI24
	case bitsPerSample == 32:
		sf = audio.SampleFormatI32
	default:
		return audio.Format{}, apperr.New(apperr.KindUnsupportedFormat, fmt.Sprintf("unsupported WAV bit depth %d", bitsPerSample), false)
	}

	return audio.Format{SampleFormat: sf, SampleRate: sampleRate, Channels: channels}, nil
}

// Format implements audio.Source.
func (w *WAVSource) Format() audio.Format { return w.format }

// Read implements audio.Source, returning 0, nil at the end of the data
// chunk (spec.md §6 "Zero means end of stream").
func (w *WAVSource) Read(buf []byte) (int, error) {
	pos, err := w.r.Seek(0, io.SeekCurrent)
	if err != nil {
		return 0, err
	}
	remaining := w.dataOff + w.dataSize - pos
	if remaining <= 0 {
		return 0, nil
	}
	if int64(len(buf)) > remaining {
		buf = buf[:remaining]
	}
	n, err := w.r.Read(buf)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Seek implements audio.Source, repositioning to frameOffset frames from
// the start of the data chunk.
func (w *WAVSource) Seek(frameOffset int64) error {
	byteOffset := frameOffset * int64(w.format.BytesPerFrame())
	_, err := w.r.Seek(w.dataOff+byteOffset, io.SeekStart)
	return err
}

// IsSeekable implements audio.Source; WAV data is always seekable once
// fully parsed.
func (w *WAVSource) IsSeekable() bool { return true }

// Close releases the underlying file handle, if any (URL-backed sources
// are read fully into memory and have none).
func (w *WAVSource) Close() error {
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}
