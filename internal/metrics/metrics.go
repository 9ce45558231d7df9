// Package metrics exposes the sender's runtime counters as a Prometheus
// collector: RTP packets sent and underruns from C5, PTP sync status from
// C6, and ring-buffer occupancy from C7, gathered at scrape time rather
// than pushed, the same lazy-Collect shape as flowpbx-flowpbx's
// internal/metrics.Collector.
package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/airtap-go/airplay2/internal/session"
)

// RTPStatsProvider exposes a running audio sender's packet counters
// (internal/rtp.Sender.Stats()).
type RTPStatsProvider interface {
	PacketsSent() uint64
	Underruns() uint64
}

// PTPStatusProvider exposes whether the PTP master clock has produced a
// valid sample yet (internal/ptp.MasterClock.Sample()).
type PTPStatusProvider interface {
	PTPValid() bool
}

// RingBufferProvider exposes the audio pipeline's ring-buffer occupancy
// (internal/audio.RingBuffer).
type RingBufferProvider interface {
	Available() int
	Free() int
}

// SessionStateProvider exposes the connection state machine's current
// position (internal/session.Session.State()).
type SessionStateProvider interface {
	State() session.State
}

// Collector is a prometheus.Collector gathering one connection's metrics
// at scrape time. Any provider may be nil if that subsystem isn't active
// (e.g. RTPStats before a stream has started, or PTPStatus on the NTP
// path).
type Collector struct {
	sessionState SessionStateProvider
	rtpStats     RTPStatsProvider
	ptpStatus    PTPStatusProvider
	ringBuffer   RingBufferProvider
	startTime    time.Time

	sessionStateDesc   *prometheus.Desc
	packetsSentDesc    *prometheus.Desc
	underrunsDesc      *prometheus.Desc
	ptpValidDesc       *prometheus.Desc
	ringAvailableDesc  *prometheus.Desc
	ringFreeDesc       *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil.
func NewCollector(
	sessionState SessionStateProvider,
	rtpStats RTPStatsProvider,
	ptpStatus PTPStatusProvider,
	ringBuffer RingBufferProvider,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessionState: sessionState,
		rtpStats:     rtpStats,
		ptpStatus:    ptpStatus,
		ringBuffer:   ringBuffer,
		startTime:    startTime,

		sessionStateDesc: prometheus.NewDesc(
			"airplay2_session_state",
			"Connection state machine position (spec.md 4.1); one gauge per known state, value 1 for the active one",
			[]string{"state"}, nil,
		),
		packetsSentDesc: prometheus.NewDesc(
			"airplay2_rtp_packets_sent_total",
			"Total RTP audio packets transmitted by the active sender",
			nil, nil,
		),
		underrunsDesc: prometheus.NewDesc(
			"airplay2_rtp_underruns_total",
			"Total pacing ticks where the ring buffer was empty and silence was sent instead",
			nil, nil,
		),
		ptpValidDesc: prometheus.NewDesc(
			"airplay2_ptp_clock_valid",
			"Whether the PTP master clock has produced a valid sample (1) or not (0)",
			nil, nil,
		),
		ringAvailableDesc: prometheus.NewDesc(
			"airplay2_ring_buffer_available_bytes",
			"Bytes currently staged in the audio pipeline's ring buffer",
			nil, nil,
		),
		ringFreeDesc: prometheus.NewDesc(
			"airplay2_ring_buffer_free_bytes",
			"Bytes of free space remaining in the audio pipeline's ring buffer",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"airplay2_uptime_seconds",
			"Seconds since this collector was created",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.sessionStateDesc
	ch <- c.packetsSentDesc
	ch <- c.underrunsDesc
	ch <- c.ptpValidDesc
	ch <- c.ringAvailableDesc
	ch <- c.ringFreeDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector, querying all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.sessionState != nil {
		current := c.sessionState.State()
		for _, st := range []session.State{
			session.StateDisconnected, session.StateConnecting, session.StateAuthenticating,
			session.StateSettingUp, session.StateConnected, session.StateReconnecting, session.StateFailed,
		} {
			val := 0.0
			if st == current {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.sessionStateDesc, prometheus.GaugeValue, val, st.String())
		}
	}

	if c.rtpStats != nil {
		ch <- prometheus.MustNewConstMetric(c.packetsSentDesc, prometheus.CounterValue, float64(c.rtpStats.PacketsSent()))
		ch <- prometheus.MustNewConstMetric(c.underrunsDesc, prometheus.CounterValue, float64(c.rtpStats.Underruns()))
	}

	if c.ptpStatus != nil {
		val := 0.0
		if c.ptpStatus.PTPValid() {
			val = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.ptpValidDesc, prometheus.GaugeValue, val)
	}

	if c.ringBuffer != nil {
		ch <- prometheus.MustNewConstMetric(c.ringAvailableDesc, prometheus.GaugeValue, float64(c.ringBuffer.Available()))
		ch <- prometheus.MustNewConstMetric(c.ringFreeDesc, prometheus.GaugeValue, float64(c.ringBuffer.Free()))
	}

	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue, time.Since(c.startTime).Seconds())
}

// LogRegistrationFailure is a small helper mirroring flowpbx-flowpbx's
// habit of logging (not panicking) when a collector fails to register,
// since a diagnostics server that can't export metrics shouldn't bring
// down the audio path.
func LogRegistrationFailure(err error) {
	if err != nil {
		slog.Error("metrics: failed to register collector", "error", err)
	}
}
