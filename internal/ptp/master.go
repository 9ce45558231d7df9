package ptp

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/airtap-go/airplay2/internal/apperr"
)

const (
	syncInterval     = 1 * time.Second
	announceInterval = 2 * time.Second
	readBufferSize   = 1500
)

// Snapshot is an atomically-published clock reading: seconds since the
// PTP epoch, a 64-bit fractional second (nanoseconds rescaled to
// 2^64/10^9 units per spec.md §4.6), and the master's clock identifier
// as a 64-bit timeline ID.
type Snapshot struct {
	Seconds    uint64
	Frac       uint64
	TimelineID uint64
}

// nsToFrac rescales whole nanoseconds into the 2^64/10^9 fractional-second
// unit spec.md's sample_network_time() requires.
func nsToFrac(ns uint32) uint64 {
	const scale = ^uint64(0) / 1_000_000_000 // floor((2^64-1)/1e9) == floor(2^64/1e9)
	return uint64(ns) * scale
}

func clockIDToTimelineID(id ClockIdentity) uint64 {
	var v uint64
	for _, b := range id {
		v = v<<8 | uint64(b)
	}
	return v
}

// MasterClock runs the two-step ordinary-master role: Sync/Follow_Up on a
// fixed interval, Delay_Resp on demand, and an atomically-published
// network time snapshot callers sample without blocking the master loop.
type MasterClock struct {
	domain  uint8
	clockID ClockIdentity

	connEvent *net.UDPConn
	connGen   *net.UDPConn

	mu     sync.Mutex
	slaves map[string]slave

	syncSeq     uint16
	announceSeq uint16

	snapshot atomic.Pointer[Snapshot]

	closeOnce sync.Once
	done      chan struct{}
}

type slave struct {
	event   *net.UDPAddr
	general *net.UDPAddr
}

// NewMasterClock generates a random clock identity for this session; PTP
// does not require it to be derived from a real MAC address.
func NewMasterClock(domain uint8) (*MasterClock, error) {
	var id ClockIdentity
	if _, err := rand.Read(id[:]); err != nil {
		return nil, fmt.Errorf("ptp: generating clock identity: %w", err)
	}
	return &MasterClock{
		domain:  domain,
		clockID: id,
		slaves:  make(map[string]slave),
		done:    make(chan struct{}),
	}, nil
}

// Start binds the privileged event (319) and general (320) UDP ports and
// launches the master loop. A bind failure is reported to the caller
// (typically logged and treated as "proceed without PTP", per spec.md
// §4.6) rather than retried.
func (m *MasterClock) Start(ctx context.Context) error {
	connEvent, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: EventPort})
	if err != nil {
		return apperr.Wrap(apperr.KindNetworkError, "binding PTP event port 319", false, err)
	}
	connGen, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: GeneralPort})
	if err != nil {
		connEvent.Close()
		return apperr.Wrap(apperr.KindNetworkError, "binding PTP general port 320", false, err)
	}

	m.connEvent = connEvent
	m.connGen = connGen

	go m.masterLoop(ctx)
	go m.delayRequestLoop(ctx)

	slog.Info("ptp master started", "domain", m.domain)
	return nil
}

// AddSlave pre-populates the slave set with a device's event/general
// addresses, used during SETUP so Sync is sent immediately instead of
// waiting for a first Delay_Req (spec.md §4.6 "required; waiting for
// Delay_Req first deadlocks the handshake").
func (m *MasterClock) AddSlave(event, general *net.UDPAddr) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slaves[event.String()] = slave{event: event, general: general}
}

// Stop closes both sockets and stops the master loop. Safe to call more
// than once.
func (m *MasterClock) Stop() {
	m.closeOnce.Do(func() {
		close(m.done)
		if m.connEvent != nil {
			m.connEvent.Close()
		}
		if m.connGen != nil {
			m.connGen.Close()
		}
	})
}

// Sample returns the last published clock snapshot. ok is false when the
// master has not yet completed a Sync cycle (or was never started), in
// which case spec.md §4.6 calls for "not available" rather than a stale
// or zero reading.
func (m *MasterClock) Sample() (Snapshot, bool) {
	s := m.snapshot.Load()
	if s == nil {
		return Snapshot{}, false
	}
	return *s, true
}

// PTPValid satisfies internal/metrics.PTPStatusProvider: it reports
// whether Sample would currently return ok=true.
func (m *MasterClock) PTPValid() bool {
	_, ok := m.Sample()
	return ok
}

func (m *MasterClock) sourcePortIdentity() PortIdentity {
	return PortIdentity{Clock: m.clockID, Number: 1}
}

func (m *MasterClock) masterLoop(ctx context.Context) {
	syncTicker := time.NewTicker(syncInterval)
	defer syncTicker.Stop()
	announceTicker := time.NewTicker(announceInterval)
	defer announceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-announceTicker.C:
			m.broadcastAnnounce()
		case <-syncTicker.C:
			m.broadcastSync()
		}
	}
}

func (m *MasterClock) currentSlaves() []slave {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]slave, 0, len(m.slaves))
	for _, s := range m.slaves {
		out = append(out, s)
	}
	return out
}

func (m *MasterClock) broadcastSync() {
	slaves := m.currentSlaves()
	if len(slaves) == 0 {
		return
	}

	m.syncSeq++
	seq := m.syncSeq
	source := m.sourcePortIdentity()

	sync := syncMessage(m.domain, source, seq)
	sendTime := time.Now()

	for _, s := range slaves {
		if _, err := m.connEvent.WriteToUDP(sync, s.event); err != nil {
			slog.Warn("ptp: Sync send failed", "addr", s.event, "error", err)
		}
	}

	origin := Timestamp{Seconds: uint64(sendTime.Unix()), Nanoseconds: uint32(sendTime.Nanosecond())}
	followUp := followUpMessage(m.domain, source, seq, origin)
	for _, s := range slaves {
		if _, err := m.connGen.WriteToUDP(followUp, s.general); err != nil {
			slog.Warn("ptp: Follow_Up send failed", "addr", s.general, "error", err)
		}
	}

	m.publishSnapshot(sendTime)
}

func (m *MasterClock) broadcastAnnounce() {
	slaves := m.currentSlaves()
	if len(slaves) == 0 {
		return
	}
	m.announceSeq++
	msg := announceMessage(m.domain, m.sourcePortIdentity(), m.announceSeq, m.clockID)
	for _, s := range slaves {
		if _, err := m.connGen.WriteToUDP(msg, s.general); err != nil {
			slog.Warn("ptp: Announce send failed", "addr", s.general, "error", err)
		}
	}
}

func (m *MasterClock) publishSnapshot(at time.Time) {
	m.snapshot.Store(&Snapshot{
		Seconds:    uint64(at.Unix()),
		Frac:       nsToFrac(uint32(at.Nanosecond())),
		TimelineID: clockIDToTimelineID(m.clockID),
	})
}

// delayRequestLoop answers Delay_Req on the event port with Delay_Resp on
// the general port, and adds the requestor to the slave set on first
// contact (accepted per spec.md §4.6, though SETUP normally pre-populates
// the set already).
func (m *MasterClock) delayRequestLoop(ctx context.Context) {
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		default:
		}

		m.connEvent.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := m.connEvent.ReadFromUDP(buf)
		recvTime := time.Now()
		if err != nil {
			continue
		}
		if n < headerSize {
			continue
		}

		var hdr Header
		if err := hdr.UnmarshalBinary(buf[:headerSize]); err != nil {
			continue
		}
		if hdr.MessageType != MsgDelayReq {
			continue
		}

		generalAddr := &net.UDPAddr{IP: addr.IP, Port: GeneralPort}
		m.mu.Lock()
		if _, ok := m.slaves[addr.String()]; !ok {
			m.slaves[addr.String()] = slave{event: addr, general: generalAddr}
		}
		m.mu.Unlock()

		recv := Timestamp{Seconds: uint64(recvTime.Unix()), Nanoseconds: uint32(recvTime.Nanosecond())}
		resp := delayRespMessage(m.domain, m.sourcePortIdentity(), hdr.SequenceID, recv, hdr.SourcePortIdentity)
		if _, err := m.connGen.WriteToUDP(resp, generalAddr); err != nil {
			slog.Warn("ptp: Delay_Resp send failed", "addr", generalAddr, "error", err)
		}
	}
}
