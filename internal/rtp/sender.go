// Package rtp packetizes decoded audio into RTP packets and paces their
// transmission at the session's fixed 352-frames-per-packet cadence
// (spec.md §4.5), optionally encrypting the payload in place with
// ChaCha20-Poly1305 once a shared secret has been established.
package rtp

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"golang.org/x/crypto/chacha20poly1305"
)

// FramesPerPacket is the fixed packetization unit (spec.md §4.5): 352
// frames at 44.1kHz, an 8ms pacing interval.
const FramesPerPacket = 352

// CommandType identifies one of the sender's accepted control commands.
type CommandType int

const (
	CmdPause CommandType = iota
	CmdResume
	CmdStop
	CmdSeek
)

// Command is sent on the sender's command channel; commands are served
// between pacing ticks and never advance or reset the ticker (spec.md
// §4.5 "suspending does not advance the ticker").
type Command struct {
	Type          CommandType
	SeekTimestamp uint32 // meaningful only for CmdSeek
}

// Stats tracks counters callers can sample for diagnostics.
type Stats struct {
	PacketsSent uint64
	Underruns   uint64
}

// Sender packetizes audio read from Source into RTP and writes it to a
// connected UDP socket on a fixed pacing ticker.
type Sender struct {
	conn   *net.UDPConn
	remote *net.UDPAddr

	payloadType     uint8
	ssrc            uint32
	sampleRate      uint32
	framesPerPacket uint32
	bytesPerFrame   int

	source io.Reader

	aead  cipher.AEAD
	seq   uint16
	ts    uint32
	paused bool

	cmd  chan Command
	done chan struct{}

	packetsSent atomic.Uint64
	underruns   atomic.Uint64
}

// NewSender builds a Sender with a random SSRC and initial sequence
// number, per spec.md §4.5's per-session state.
func NewSender(conn *net.UDPConn, remote *net.UDPAddr, payloadType uint8, sampleRate uint32, bytesPerFrame int, source io.Reader) (*Sender, error) {
	var randBytes [6]byte
	if _, err := rand.Read(randBytes[:]); err != nil {
		return nil, err
	}
	return &Sender{
		conn:            conn,
		remote:          remote,
		payloadType:     payloadType,
		ssrc:            binary.BigEndian.Uint32(randBytes[:4]),
		sampleRate:      sampleRate,
		framesPerPacket: FramesPerPacket,
		bytesPerFrame:   bytesPerFrame,
		source:          source,
		seq:             binary.BigEndian.Uint16(randBytes[4:6]),
		cmd:             make(chan Command, 4),
		done:            make(chan struct{}),
	}, nil
}

// SetEncryptionKey enables payload encryption with a 32-byte
// ChaCha20-Poly1305 key, derived by the caller from the session's shared
// secret.
func (s *Sender) SetEncryptionKey(key []byte) error {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	s.aead = aead
	return nil
}

// Commands returns the channel used to send Pause/Resume/Stop/Seek.
func (s *Sender) Commands() chan<- Command { return s.cmd }

// Done returns a channel closed once Run has returned.
func (s *Sender) Done() <-chan struct{} { return s.done }

// Stats returns a point-in-time snapshot of the sender's counters.
func (s *Sender) Stats() Stats {
	return Stats{PacketsSent: s.packetsSent.Load(), Underruns: s.underruns.Load()}
}

// PacketsSent satisfies internal/metrics.RTPStatsProvider.
func (s *Sender) PacketsSent() uint64 { return s.packetsSent.Load() }

// Underruns satisfies internal/metrics.RTPStatsProvider.
func (s *Sender) Underruns() uint64 { return s.underruns.Load() }

// Run paces packet transmission until ctx is canceled or a CmdStop is
// received. It is meant to run as the "audio sender task" in its own
// goroutine for the lifetime of a streaming session.
func (s *Sender) Run(ctx context.Context) {
	defer close(s.done)

	period := time.Duration(float64(s.framesPerPacket) / float64(s.sampleRate) * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	buf := make([]byte, int(s.framesPerPacket)*s.bytesPerFrame)

	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-s.cmd:
			switch cmd.Type {
			case CmdPause:
				s.paused = true
			case CmdResume:
				s.paused = false
			case CmdStop:
				return
			case CmdSeek:
				s.ts = cmd.SeekTimestamp
			}
		case <-ticker.C:
			if s.paused {
				continue
			}
			s.sendOneTick(buf)
		}
	}
}

func (s *Sender) sendOneTick(buf []byte) {
	n, _ := s.source.Read(buf)
	if n < len(buf) {
		// Opportunistic read came up short: pad the remainder with
		// silence and record an underrun rather than skip the tick
		// entirely (spec.md §4.5: "transmits silence and records an
		// underrun"). The ring buffer's Read never blocks, so a short
		// read means it was genuinely near-empty at this tick.
		for i := n; i < len(buf); i++ {
			buf[i] = 0
		}
		if n < len(buf) {
			s.underruns.Add(1)
		}
	}

	payload := buf
	if s.aead != nil {
		nonce := payloadNonce(s.ts)
		payload = s.aead.Seal(nil, nonce, buf, nil)
	}

	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    s.payloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.ts,
			SSRC:           s.ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		slog.Error("rtp: marshal failed", "error", err)
		return
	}

	if _, err := s.conn.WriteToUDP(data, s.remote); err != nil {
		// A full send buffer just costs this one tick; the receiver's
		// jitter buffer absorbs a single dropped packet (spec.md §4.5).
		slog.Debug("rtp: write skipped", "error", err)
	} else {
		s.packetsSent.Add(1)
	}

	s.seq++
	s.ts += s.framesPerPacket
}

// payloadNonce builds the 12-byte ChaCha20-Poly1305 nonce from the RTP
// timestamp: 8 zero bytes followed by the big-endian 32-bit timestamp.
// The timestamp advances by FramesPerPacket every tick and does not
// repeat for roughly 27 hours at 44.1kHz, so it alone is a safe nonce
// counter without an additional per-packet value.
func payloadNonce(ts uint32) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.BigEndian.PutUint32(nonce[8:], ts)
	return nonce
}
