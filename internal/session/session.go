package session

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/config"
	"github.com/airtap-go/airplay2/internal/device"
	"github.com/airtap-go/airplay2/internal/pairing"
	"github.com/airtap-go/airplay2/internal/plist"
	"github.com/airtap-go/airplay2/internal/ptp"
	"github.com/airtap-go/airplay2/internal/rtp"
	"github.com/airtap-go/airplay2/internal/rtsp"
)

// rtspPath is the URI every post-SETUP request targets. AirPlay devices
// don't care about the path beyond its presence.
const rtspPath = "/airplay2"

// PairingStore is the subset of internal/pairstore.Store a Session
// depends on: load on connect, save/remove after pairing completes or is
// explicitly forgotten.
type PairingStore interface {
	pairing.Store
	Save(ctx context.Context, deviceID string, identity pairing.PairingIdentity) error
	Remove(ctx context.Context, deviceID string) error
}

// rateAnchorDelays are the staggered SetRateAnchorTime retry offsets after
// audio flow begins (spec.md §4.7 "roughly one second... with
// exponentially-staggered retries").
var rateAnchorDelays = []time.Duration{
	1 * time.Second, 2 * time.Second, 3 * time.Second, 5 * time.Second, 8 * time.Second,
}

// Session drives one device's connection lifecycle: the RTSP state
// machine of spec.md §4.1, from Connect through the PTP/NTP SETUP
// sub-sequence to a steady Connected state, and back down on Disconnect
// or a fatal network error.
type Session struct {
	cfg    *config.Config
	store  PairingStore
	logger *slog.Logger
	events *EventBus

	ourIdentifier string

	mu     sync.Mutex
	state  State
	device device.Device

	conn        *Connection
	usePTP      bool
	sessionKeys pairing.SessionKeys
	streamType  int64

	clientSessionID string
	activeRemote    string
	dacpID          string

	audioConn, controlConn, timingConn *net.UDPConn
	audioRemote, controlRemote         *net.UDPAddr
	ptpClock                           *ptp.MasterClock

	cancel    context.CancelFunc
	tasksDone sync.WaitGroup

	rateAnchorOnce sync.Once
}

// NewSession constructs a Session bound to one device over its lifetime.
// A fresh Session must be created for each subsequent Connect once a
// prior connection has been torn down.
func NewSession(cfg *config.Config, store PairingStore, logger *slog.Logger) *Session {
	return &Session{
		cfg:           cfg,
		store:         store,
		logger:        logger.With("subsystem", "session"),
		events:        NewEventBus(),
		ourIdentifier: uuid.NewString(),
	}
}

// State returns the session's current position in the state machine.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the device the session last connected (or attempted to
// connect) to.
func (s *Session) Device() device.Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// UsesPTP reports whether this connection negotiated the PTP timing path.
func (s *Session) UsesPTP() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usePTP
}

// PTPClock returns the running master clock, or nil on the NTP path or
// before Connect has completed.
func (s *Session) PTPClock() *ptp.MasterClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ptpClock
}

// Subscribe returns a channel of connection lifecycle events (spec.md §6
// "event subscription").
func (s *Session) Subscribe() (<-chan Event, func()) {
	return s.events.Subscribe()
}

// RTSPURI returns the session's RTSP URI, the target for control-plane
// requests issued through Execute (SET_PARAMETER, GET_PARAMETER, and the
// DACP-style POST commands all address this same session URI).
func (s *Session) RTSPURI() string {
	return s.rtspURI()
}

// Connect runs the full connection sequence against dev: dial, OPTIONS,
// an auth-setup MFi prelude when the receiver seems to want one, pairing,
// the PTP/NTP SETUP sub-sequence, RECORD on the PTP path, and a transition to
// StateConnected with the keep-alive task running (spec.md §4.1).
func (s *Session) Connect(ctx context.Context, dev device.Device) error {
	s.mu.Lock()
	if s.state != StateDisconnected && s.state != StateFailed {
		st := s.state
		s.mu.Unlock()
		return apperr.New(apperr.KindInvalidState, fmt.Sprintf("cannot connect from state %s", st), false)
	}
	s.mu.Unlock()

	connectCtx, cancelConnect := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancelConnect()

	s.setState(StateConnecting)
	s.mu.Lock()
	s.device = dev
	s.mu.Unlock()

	addr := net.JoinHostPort(dev.PrimaryAddress(), strconv.Itoa(devicePort(dev)))
	conn, err := DialConnection(connectCtx, addr)
	if err != nil {
		return s.fail(err)
	}
	s.conn = conn

	s.clientSessionID = uuid.NewString()
	s.activeRemote = randomDigits()
	s.dacpID = strings.ToUpper(uuid.NewString()[:16])
	conn.SetIdentifiers(s.activeRemote, "airtap", s.clientSessionID, s.dacpID)

	if _, err := s.unauthRequest(connectCtx, "OPTIONS", "*", nil, ""); err != nil {
		return s.fail(err)
	}

	if manufacturer := s.probeManufacturer(connectCtx); manufacturer != "" && requiresAuthSetup(manufacturer) {
		if body, err := pairing.BuildAuthSetupRequest(); err == nil {
			if _, err := s.unauthRequest(connectCtx, "POST", "/auth-setup", body, "application/octet-stream"); err != nil {
				s.logger.Warn("auth-setup prelude rejected, continuing", "error", err)
			}
		}
	}

	s.setState(StateAuthenticating)
	result, err := pairing.Authenticate(connectCtx, s.ourIdentifier, dev.ID, s.cfg.PIN, s.store, conn.Transport)
	if err != nil {
		return s.fail(apperr.Wrap(apperr.KindAuthenticationFail, "pairing failed", false, err))
	}
	s.sessionKeys = result.SessionKeys
	if result.Identity != nil && s.store != nil {
		if err := s.store.Save(connectCtx, dev.ID, *result.Identity); err != nil {
			s.logger.Warn("failed to persist pairing identity", "error", err)
		}
	}
	if dev.IsAirPlay2() {
		if err := conn.InstallSecureChannel(s.sessionKeys); err != nil {
			return s.fail(err)
		}
	}

	s.setState(StateSettingUp)
	if err := s.runSetupSequence(connectCtx, dev); err != nil {
		return s.fail(err)
	}

	s.setState(StateConnected)
	s.emit(Event{Kind: EventConnected, State: StateConnected, Device: dev})

	taskCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.tasksDone.Add(1)
	go s.keepAliveLoop(taskCtx)

	return nil
}

// probeManufacturer issues GET /info and reads the "manufacturer" plist
// field, if present. Any failure here is non-fatal: the auth-setup
// prelude it gates is itself optional.
func (s *Session) probeManufacturer(ctx context.Context) string {
	resp, err := s.unauthRequest(ctx, "GET", "/info", nil, "")
	if err != nil || len(resp.Body) == 0 {
		return ""
	}
	v, err := plist.Decode(resp.Body)
	if err != nil {
		return ""
	}
	d, ok := v.AsDict()
	if !ok {
		return ""
	}
	m, _ := d["manufacturer"].AsString()
	return m
}

// requiresAuthSetup decides whether to run the MFi auth-setup prelude
// before pairing. Known open-source reference receivers don't implement
// it and reject the request outright, so skip it for them.
func requiresAuthSetup(manufacturer string) bool {
	lower := strings.ToLower(manufacturer)
	if lower == "" {
		return false
	}
	for _, known := range []string{"shairport", "uxplay", "forked-daapd", "airplay2-receiver"} {
		if strings.Contains(lower, known) {
			return false
		}
	}
	return true
}

// runSetupSequence runs the PTP or NTP timing sub-sequence, binds the
// three UDP sockets, exchanges the two-phase SETUP plist, and, on the
// PTP path, starts the master clock and issues RECORD (spec.md §4.1
// steps 4a-4i).
func (s *Session) runSetupSequence(ctx context.Context, dev device.Device) error {
	usePTP := computeUsePTP(s.cfg.Timing, dev)
	s.mu.Lock()
	s.usePTP = usePTP
	s.mu.Unlock()

	if !usePTP {
		if err := s.runNTPAnnounce(ctx); err != nil {
			return err
		}
	}

	eventPort, timingPort, err := s.setupPhaseOne(ctx, usePTP)
	if err != nil {
		return err
	}
	_ = eventPort // the event channel itself isn't used by this sender

	audioConn, controlConn, timingConn, err := bindUDPTriple()
	if err != nil {
		return err
	}
	s.audioConn, s.controlConn, s.timingConn = audioConn, controlConn, timingConn
	if timingPort != 0 {
		s.logger.Debug("receiver timing port", "port", timingPort)
	}

	streamType := int64(100)
	if usePTP && dev.SupportsBufferedAudio() {
		streamType = 96
	}
	s.streamType = streamType

	dataPort, controlPort, err := s.setupPhaseTwo(ctx, dev, streamType)
	if err != nil {
		return err
	}
	remoteIP := net.ParseIP(dev.PrimaryAddress())
	s.audioRemote = &net.UDPAddr{IP: remoteIP, Port: dataPort}
	s.controlRemote = &net.UDPAddr{IP: remoteIP, Port: controlPort}

	if usePTP {
		if err := s.setupPeers(ctx, dev); err != nil {
			s.logger.Warn("SETPEERS failed, continuing without explicit peer list", "error", err)
		}
		s.startPTP(ctx, dev)
		if err := s.Record(ctx); err != nil {
			s.logger.Warn("RECORD failed (non-fatal for buffered audio path)", "error", err)
		}
	}

	return nil
}

func (s *Session) runNTPAnnounce(ctx context.Context) error {
	setupBody, err := plist.Encode(plist.Dict(map[string]plist.Value{
		"timingProtocol":  plist.String("NTP"),
		"groupUUID":       plist.String(uuid.NewString()),
		"isAudioReceiver": plist.Bool(false),
	}))
	if err != nil {
		return err
	}
	if _, err := s.setupRequest(ctx, setupBody); err != nil {
		return err
	}

	sd := rtsp.BuildAnnounceSDP(rtsp.AnnounceParams{
		ClientAddress: s.localAddress(),
		SessionID:     s.clientSessionID,
		PayloadType:   100,
		CodecName:     "L16",
		ClockRate:     44100,
		Channels:      2,
	})
	req := s.conn.NewRequest("ANNOUNCE", s.rtspURI())
	req.SetBody("application/sdp", sd.Marshal())
	_, err = s.conn.Do(ctx, req)
	return err
}

func (s *Session) setupPhaseOne(ctx context.Context, usePTP bool) (eventPort, timingPort int, err error) {
	var ekey [32]byte
	var eiv [16]byte
	rand.Read(ekey[:])
	rand.Read(eiv[:])

	body := map[string]plist.Value{
		"timingProtocol": plist.String(timingProtocolString(usePTP)),
		"ekey":           plist.Data(ekey[:]),
		"eiv":            plist.Data(eiv[:]),
		"et":             plist.Int(4),
	}
	if usePTP {
		body["timingPeerInfo"] = plist.Dict(map[string]plist.Value{
			"Addresses": plist.Array(plist.String(s.localAddress())),
			"ID":        plist.String(s.clientSessionID),
		})
	}
	encoded, err := plist.Encode(plist.Dict(body))
	if err != nil {
		return 0, 0, err
	}
	resp, err := s.setupRequest(ctx, encoded)
	if err != nil {
		return 0, 0, err
	}
	if len(resp.Body) == 0 {
		return 0, 0, nil
	}
	v, err := plist.Decode(resp.Body)
	if err != nil {
		return 0, 0, apperr.Wrap(apperr.KindCodecError, "decoding SETUP phase 1 response", false, err)
	}
	d, _ := v.AsDict()
	return dictInt(d, "eventPort"), dictInt(d, "timingPort"), nil
}

func (s *Session) setupPhaseTwo(ctx context.Context, dev device.Device, streamType int64) (dataPort, controlPort int, err error) {
	stream := map[string]plist.Value{
		"type":        plist.Int(streamType),
		"ct":          plist.Int(1),
		"spf":         plist.Int(int64(rtp.FramesPerPacket)),
		"audioType":   plist.String("default"),
		"controlPort": plist.Int(int64(localPort(s.controlConn))),
		"timingPort":  plist.Int(int64(localPort(s.timingConn))),
	}
	if len(s.sessionKeys.SharedSecret) > 0 {
		stream["shk"] = plist.Data(s.sessionKeys.SharedSecret)
	}
	encoded, err := plist.Encode(plist.Dict(map[string]plist.Value{
		"streams": plist.Array(plist.Dict(stream)),
	}))
	if err != nil {
		return 0, 0, err
	}

	req := s.conn.NewRequest("SETUP", s.rtspURI())
	req.SetBody("application/x-apple-binary-plist", encoded)
	req.SetHeader("Transport", fmt.Sprintf(
		"RTP/AVP/UDP;unicast;mode=record;control_port=%d;timing_port=%d",
		localPort(s.controlConn), localPort(s.timingConn)))

	resp, err := s.conn.Do(ctx, req)
	if err != nil {
		return 0, 0, err
	}
	return parseDataControlPorts(resp)
}

func (s *Session) setupPeers(ctx context.Context, dev device.Device) error {
	body, err := plist.Encode(plist.Array(
		plist.String(s.localAddress()),
		plist.String(dev.PrimaryAddress()),
	))
	if err != nil {
		return err
	}
	req := s.conn.NewRequest("SETPEERS", s.rtspURI())
	req.SetBody("application/x-apple-binary-plist", body)
	_, err = s.conn.Do(ctx, req)
	return err
}

func (s *Session) startPTP(ctx context.Context, dev device.Device) {
	clock, err := ptp.NewMasterClock(0)
	if err != nil {
		s.logger.Warn("failed to create PTP master clock", "error", err)
		return
	}
	if err := clock.Start(ctx); err != nil {
		s.logger.Warn("failed to start PTP master clock, proceeding unsynced", "error", err)
		return
	}
	remoteIP := net.ParseIP(dev.PrimaryAddress())
	clock.AddSlave(
		&net.UDPAddr{IP: remoteIP, Port: ptp.EventPort},
		&net.UDPAddr{IP: remoteIP, Port: ptp.GeneralPort},
	)
	s.mu.Lock()
	s.ptpClock = clock
	s.mu.Unlock()
}

// Record issues RECORD on the established RTSP connection. The PTP path
// calls this itself during setup; the NTP path keeps it deferred until a
// caller actually starts streaming (spec.md §4.1 step 4i).
func (s *Session) Record(ctx context.Context) error {
	req := s.conn.NewRequest("RECORD", s.rtspURI())
	_, err := s.conn.Do(ctx, req)
	return err
}

// NewAudioSender constructs an rtp.Sender bound to this session's
// negotiated audio socket and remote port, reading from source (normally
// an audio.Pipeline's ring buffer). Encryption is enabled whenever the
// secure channel was installed, using the raw pairing shared secret as
// the audio session key (spec.md §4.2 "raw K retained as audio session
// key").
func (s *Session) NewAudioSender(source io.Reader) (*rtp.Sender, error) {
	s.mu.Lock()
	audioConn, remote, streamType, dev := s.audioConn, s.audioRemote, s.streamType, s.device
	sharedSecret := s.sessionKeys.SharedSecret
	s.mu.Unlock()

	if audioConn == nil || remote == nil {
		return nil, apperr.New(apperr.KindInvalidState, "audio socket not established; Connect must complete first", false)
	}

	sender, err := rtp.NewSender(audioConn, remote, uint8(streamType), 44100, 4, source)
	if err != nil {
		return nil, err
	}
	if dev.IsAirPlay2() && len(sharedSecret) > 0 {
		if err := sender.SetEncryptionKey(sharedSecret); err != nil {
			return nil, err
		}
	}
	return sender, nil
}

// NotifyAudioFlowBegan starts the staggered SetRateAnchorTime retries
// (spec.md §4.7). It is safe to call more than once; only the first call
// per Session schedules the retries.
func (s *Session) NotifyAudioFlowBegan(ctx context.Context) {
	s.rateAnchorOnce.Do(func() {
		s.tasksDone.Add(1)
		go s.setRateAnchorLoop(ctx)
	})
}

func (s *Session) setRateAnchorLoop(ctx context.Context) {
	defer s.tasksDone.Done()
	for _, delay := range rateAnchorDelays {
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if err := s.sendSetRateAnchorTime(ctx); err != nil {
			s.logger.Warn("SetRateAnchorTime attempt failed", "error", err)
		}
	}
}

func (s *Session) sendSetRateAnchorTime(ctx context.Context) error {
	body := map[string]plist.Value{
		"rate":    plist.Uint(1),
		"rtpTime": plist.Uint(0),
	}
	if clock := s.PTPClock(); clock != nil {
		if sample, ok := clock.Sample(); ok {
			body["networkTimeSecs"] = plist.Uint(sample.Seconds)
			body["networkTimeFrac"] = plist.Uint(sample.Frac)
			body["networkTimeTimelineID"] = plist.Uint(sample.TimelineID)
		}
	}
	encoded, err := plist.Encode(plist.Dict(body))
	if err != nil {
		return err
	}
	req := s.conn.NewRequest("SETRATEANCHORTIME", s.rtspURI())
	req.SetBody("application/x-apple-binary-plist", encoded)
	_, err = s.conn.Do(ctx, req)
	return err
}

// Execute issues an arbitrary RTSP request against the connected session
// (control-layer commands: SET_PARAMETER, GET_PARAMETER, and the like).
func (s *Session) Execute(ctx context.Context, method, uri, contentType string, body []byte) (*rtsp.Response, error) {
	if s.State() != StateConnected {
		return nil, apperr.New(apperr.KindInvalidState, "session is not connected", false)
	}
	req := s.conn.NewRequest(method, uri)
	if body != nil {
		req.SetBody(contentType, body)
	}
	return s.conn.Do(ctx, req)
}

// Disconnect tears the session down cleanly: best-effort TEARDOWN, PTP
// stop, background task cancellation, and socket close, finishing in
// StateDisconnected (spec.md §4.1).
func (s *Session) Disconnect(ctx context.Context) error {
	if s.State() == StateDisconnected {
		return nil
	}

	if s.conn != nil {
		teardownCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		req := s.conn.NewRequest("TEARDOWN", s.rtspURI())
		s.conn.Do(teardownCtx, req)
		cancel()
	}

	s.teardownResources()

	s.setState(StateDisconnected)
	s.emit(Event{Kind: EventDisconnected, State: StateDisconnected, Reason: ReasonUserRequested})
	return nil
}

// handleFatalError is invoked by background tasks (keep-alive) on an
// unrecoverable network failure: it skips the TEARDOWN round trip, since
// the connection is presumed already dead, and disconnects immediately
// (spec.md §8 S6 "keep-alive failure triggers disconnect within <=2s").
func (s *Session) handleFatalError(reason DisconnectReason, err error) {
	if s.State() == StateDisconnected {
		return
	}
	s.emit(Event{Kind: EventError, Message: err.Error(), Recoverable: false})
	s.teardownResources()
	s.setState(StateDisconnected)
	s.emit(Event{Kind: EventDisconnected, State: StateDisconnected, Reason: reason})
}

func (s *Session) teardownResources() {
	if clock := s.PTPClock(); clock != nil {
		clock.Stop()
	}
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.tasksDone.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("background tasks did not stop within the grace period")
	}

	s.closeSockets()
	if s.conn != nil {
		s.conn.Close()
	}
}

// fail transitions to StateFailed, releases any partially-established
// resources, and emits the matching events, returning err unchanged so
// callers can propagate it directly.
func (s *Session) fail(err error) error {
	s.closeSockets()
	if clock := s.PTPClock(); clock != nil {
		clock.Stop()
	}
	if s.conn != nil {
		s.conn.Close()
	}
	s.setState(StateFailed)
	s.emit(Event{Kind: EventError, Message: err.Error(), Recoverable: apperr.Recoverable(err)})
	s.emit(Event{Kind: EventDisconnected, State: StateFailed, Reason: ReasonFailed})
	return err
}

func (s *Session) closeSockets() {
	if s.audioConn != nil {
		s.audioConn.Close()
		s.audioConn = nil
	}
	if s.controlConn != nil {
		s.controlConn.Close()
		s.controlConn = nil
	}
	if s.timingConn != nil {
		s.timingConn.Close()
		s.timingConn = nil
	}
}

// keepAliveLoop probes GET /info at the configured interval; a failed
// probe is treated as a fatal network error (spec.md §4.1 "keep-alive").
func (s *Session) keepAliveLoop(ctx context.Context) {
	defer s.tasksDone.Done()
	ticker := time.NewTicker(s.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reqCtx, cancel := context.WithTimeout(ctx, s.cfg.KeepAliveInterval)
			req := s.conn.NewRequest("GET", "/info")
			_, err := s.conn.Do(reqCtx, req)
			cancel()
			if err != nil {
				s.logger.Warn("keep-alive probe failed, disconnecting", "error", err)
				s.handleFatalError(ReasonNetworkError, err)
				return
			}
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.events.Publish(Event{Kind: EventStateChanged, State: st})
}

func (s *Session) emit(e Event) {
	s.events.Publish(e)
}

func (s *Session) unauthRequest(ctx context.Context, method, uri string, body []byte, contentType string) (*rtsp.Response, error) {
	req := s.conn.NewRequest(method, uri)
	if body != nil {
		req.SetBody(contentType, body)
	}
	return s.conn.Do(ctx, req)
}

func (s *Session) setupRequest(ctx context.Context, body []byte) (*rtsp.Response, error) {
	req := s.conn.NewRequest("SETUP", s.rtspURI())
	req.SetBody("application/x-apple-binary-plist", body)
	return s.conn.Do(ctx, req)
}

func (s *Session) rtspURI() string {
	return "rtsp://" + s.localAddress() + rtspPath
}

func (s *Session) localAddress() string {
	if s.conn == nil {
		return ""
	}
	addr := s.conn.netConn.LocalAddr()
	if tcpAddr, ok := addr.(*net.TCPAddr); ok {
		return tcpAddr.IP.String()
	}
	host, _, _ := net.SplitHostPort(addr.String())
	return host
}

// computeUsePTP resolves the configured timing policy against the
// device's advertised capabilities (spec.md §4.1 step 4b).
func computeUsePTP(mode config.TimingMode, dev device.Device) bool {
	switch mode {
	case config.TimingPTP:
		return true
	case config.TimingNTP:
		return false
	default:
		return dev.IsAirPlay2() || dev.SupportsPTP()
	}
}

func timingProtocolString(usePTP bool) string {
	if usePTP {
		return "PTP"
	}
	return "NTP"
}

func devicePort(dev device.Device) int {
	if dev.Port != 0 {
		return dev.Port
	}
	return 7000
}

func bindUDPTriple() (audio, control, timing *net.UDPConn, err error) {
	audio, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, nil, nil, apperr.Wrap(apperr.KindConnectionFailed, "binding audio UDP socket", true, err)
	}
	control, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		audio.Close()
		return nil, nil, nil, apperr.Wrap(apperr.KindConnectionFailed, "binding control UDP socket", true, err)
	}
	timing, err = net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		audio.Close()
		control.Close()
		return nil, nil, nil, apperr.Wrap(apperr.KindConnectionFailed, "binding timing UDP socket", true, err)
	}
	return audio, control, timing, nil
}

func localPort(conn *net.UDPConn) int {
	return conn.LocalAddr().(*net.UDPAddr).Port
}

func dictInt(d map[string]plist.Value, key string) int {
	v, ok := d[key]
	if !ok {
		return 0
	}
	i, ok := v.AsInt64()
	if !ok {
		return 0
	}
	return int(i)
}

// parseDataControlPorts extracts the receiver's negotiated data/control
// ports from a SETUP phase 2 response, trying the top-level plist, then
// its streams[0] entry, then falling back to the legacy Transport header
// (spec.md §4.1 step 4f).
func parseDataControlPorts(resp *rtsp.Response) (dataPort, controlPort int, err error) {
	if len(resp.Body) > 0 {
		if v, derr := plist.Decode(resp.Body); derr == nil {
			if d, ok := v.AsDict(); ok {
				dataPort = dictInt(d, "dataPort")
				controlPort = dictInt(d, "controlPort")
				if dataPort == 0 || controlPort == 0 {
					if streams, ok := d["streams"].AsArray(); ok && len(streams) > 0 {
						if sd, ok := streams[0].AsDict(); ok {
							if dataPort == 0 {
								dataPort = dictInt(sd, "dataPort")
							}
							if controlPort == 0 {
								controlPort = dictInt(sd, "controlPort")
							}
						}
					}
				}
			}
		}
	}
	if dataPort == 0 {
		if header, ok := resp.Header("Transport"); ok {
			dataPort, controlPort = parseTransportHeaderPorts(header)
		}
	}
	if dataPort == 0 {
		return 0, 0, apperr.New(apperr.KindRtspError, "SETUP response carried no data port", false)
	}
	return dataPort, controlPort, nil
}

func parseTransportHeaderPorts(header string) (dataPort, controlPort int) {
	for _, field := range strings.Split(header, ";") {
		field = strings.TrimSpace(field)
		switch {
		case strings.HasPrefix(field, "server_port="):
			dataPort = firstPort(strings.TrimPrefix(field, "server_port="))
		case strings.HasPrefix(field, "control_port="):
			controlPort = firstPort(strings.TrimPrefix(field, "control_port="))
		}
	}
	return dataPort, controlPort
}

func firstPort(s string) int {
	s = strings.SplitN(s, "-", 2)[0]
	n, _ := strconv.Atoi(s)
	return n
}

func randomDigits() string {
	var b [4]byte
	rand.Read(b[:])
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	return strconv.FormatUint(uint64(n%900000000+100000000), 10)
}
