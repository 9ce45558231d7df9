// Package client assembles the core's subsystems into the single
// top-level type an application imports: discovery, connect, transport
// control, volume, queue, and audio streaming (spec.md §6 "Upstream to
// the application"). Grounded on original_source/src/client/mod.rs's
// AirPlayClient, which wraps the same ConnectionManager/PlaybackController/
// VolumeController/PlaybackQueue quartet behind one facade.
package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/audio"
	"github.com/airtap-go/airplay2/internal/config"
	"github.com/airtap-go/airplay2/internal/control"
	"github.com/airtap-go/airplay2/internal/device"
	"github.com/airtap-go/airplay2/internal/discovery"
	"github.com/airtap-go/airplay2/internal/rtp"
	"github.com/airtap-go/airplay2/internal/session"
)

// TrackMetadata is the now-playing metadata pushed via SetMetadata
// (spec.md §6). It is an alias of control.TrackInfo, the type the
// orchestration layer already DMAP-encodes.
type TrackMetadata = control.TrackInfo

// Track is one (url, title, artist) triple, the minimal shape
// play_tracks accepts (spec.md §6).
type Track struct {
	URL    string
	Title  string
	Artist string
}

// Client is the builder-style type applications construct once and use
// for the lifetime of at most one connected device at a time. A fresh
// Connect call is required after Disconnect or a Failed transition.
type Client struct {
	cfg        *config.Config
	store      session.PairingStore
	discoverer discovery.Discoverer
	logger     *slog.Logger

	mu       sync.Mutex
	sess     *session.Session
	playback *control.PlaybackController
	volume   *control.VolumeController
	queue    *control.PlaybackQueue
	sender   *rtp.Sender
	pipeline *audio.Pipeline
	cancel   context.CancelFunc
}

// New constructs a Client from configuration, an optional persistent
// pairing store (nil disables persistence: no identity is loaded for
// pair-verify or saved after pair-setup), and a discoverer (nil defaults to mDNS via
// discovery.NewDNSSDDiscoverer).
func New(cfg *config.Config, store session.PairingStore, discoverer discovery.Discoverer, logger *slog.Logger) *Client {
	if discoverer == nil {
		discoverer = discovery.NewDNSSDDiscoverer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:        cfg,
		store:      store,
		discoverer: discoverer,
		logger:     logger.With("subsystem", "client"),
		queue:      control.NewPlaybackQueue(),
	}
}

// Scan browses the local network for AirPlay-capable devices for up to
// timeout (spec.md §6 "scan(timeout) -> [Device]").
func (c *Client) Scan(ctx context.Context, timeout time.Duration) ([]device.Device, error) {
	return c.discoverer.Scan(ctx, timeout)
}

// Connect runs the full connection sequence against dev (spec.md §4.1):
// TCP dial, OPTIONS/auth-setup prelude, pairing, the PTP/NTP SETUP
// sub-sequence, and a transition to Connected with keep-alive running.
func (c *Client) Connect(ctx context.Context, dev device.Device) error {
	c.mu.Lock()
	sess := session.NewSession(c.cfg, c.store, c.logger)
	c.sess = sess
	c.playback = control.NewPlaybackController(sess, c.queue)
	c.volume = control.NewVolumeController(sess)
	c.mu.Unlock()

	if err := sess.Connect(ctx, dev); err != nil {
		return err
	}

	taskCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	go c.watchDisconnect(taskCtx, sess)

	return nil
}

// watchDisconnect mirrors original_source/src/client/mod.rs's
// start_monitor task: it exists so a future caller-visible aggregate
// state (beyond the session's own event bus) can be kept in sync without
// every call site re-subscribing. Today it only logs.
func (c *Client) watchDisconnect(ctx context.Context, sess *session.Session) {
	ch, cancel := sess.Subscribe()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Kind == session.EventDisconnected {
				c.logger.Debug("session disconnected", "reason", ev.Reason)
				return
			}
		}
	}
}

// ForgetDevice removes a persisted pairing identity, so a subsequent
// connect to that device id performs full pair-setup again.
func (c *Client) ForgetDevice(ctx context.Context, deviceID string) error {
	if c.store == nil {
		return nil
	}
	return c.store.Remove(ctx, deviceID)
}

// State returns the connection's current lifecycle state, or
// session.StateDisconnected if Connect has never been called.
func (c *Client) State() session.State {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return session.StateDisconnected
	}
	return sess.State()
}

// IsConnected reports whether the underlying session is in
// session.StateConnected.
func (c *Client) IsConnected() bool {
	return c.State() == session.StateConnected
}

// ConnectedDevice returns the device the client is currently connected
// (or last attempted to connect) to.
func (c *Client) ConnectedDevice() device.Device {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return device.Device{}
	}
	return sess.Device()
}

// Subscribe returns a channel of connection lifecycle events (spec.md §6
// "event subscription").
func (c *Client) Subscribe() (<-chan session.Event, func()) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		ch := make(chan session.Event)
		close(ch)
		return ch, func() {}
	}
	return sess.Subscribe()
}

func (c *Client) ensureConnected() (*session.Session, *control.PlaybackController, *control.VolumeController, error) {
	c.mu.Lock()
	sess, pb, vol := c.sess, c.playback, c.volume
	c.mu.Unlock()
	if sess == nil || sess.State() != session.StateConnected {
		return nil, nil, nil, apperr.New(apperr.KindDisconnected, "client is not connected", false)
	}
	return sess, pb, vol, nil
}

// Disconnect tears the session down cleanly: TEARDOWN, PTP stop, socket
// close, and a transition to Disconnected (spec.md §4.1 "Disconnect").
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sess == nil {
		return nil
	}
	c.stopStreaming()
	return sess.Disconnect(ctx)
}

// === Playback ===

// Play starts or resumes playback.
func (c *Client) Play(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Play(ctx)
}

// Pause suspends playback without resetting position.
func (c *Client) Pause(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Pause(ctx)
}

// Resume is an alias for Play, matching spec.md §6's naming.
func (c *Client) Resume(ctx context.Context) error { return c.Play(ctx) }

// TogglePlayback plays if paused, pauses if playing.
func (c *Client) TogglePlayback(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Toggle(ctx)
}

// Stop halts the media stream, resetting position to zero.
func (c *Client) Stop(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	c.stopStreaming()
	return pb.Stop(ctx)
}

// Next advances the queue and tells the device to skip ahead.
func (c *Client) Next(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Next(ctx)
}

// Previous rewinds the queue and tells the device to skip back.
func (c *Client) Previous(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Previous(ctx)
}

// Seek scrubs to an absolute position in the current track.
func (c *Client) Seek(ctx context.Context, position time.Duration) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Seek(ctx, position)
}

// FastForward skips ahead by the standard step.
func (c *Client) FastForward(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.FastForward(ctx)
}

// Rewind skips back by the standard step.
func (c *Client) Rewind(ctx context.Context) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.Rewind(ctx)
}

// SetRepeat changes the queue's repeat-at-end behavior.
func (c *Client) SetRepeat(ctx context.Context, mode control.RepeatMode) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.SetRepeat(ctx, mode)
}

// SetShuffle enables or disables queue shuffling.
func (c *Client) SetShuffle(ctx context.Context, enabled bool) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	mode := control.ShuffleOff
	if enabled {
		mode = control.ShuffleOn
	}
	return pb.SetShuffle(ctx, mode)
}

// SetMetadata pushes now-playing metadata to the device.
func (c *Client) SetMetadata(ctx context.Context, track TrackMetadata) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.SetMetadata(ctx, track)
}

// SetProgress pushes an explicit scrub position, expressed as RTP
// timestamps (spec.md §6 "set_progress(rtp_base, current, end)").
func (c *Client) SetProgress(ctx context.Context, rtpBase, current, end uint32) error {
	_, pb, _, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return pb.SetProgress(ctx, control.NewDmapProgress(rtpBase, current, end))
}

// === Volume ===

// Volume returns the last known volume (0..1).
func (c *Client) Volume() float64 {
	c.mu.Lock()
	vol := c.volume
	c.mu.Unlock()
	if vol == nil {
		return control.DefaultVolume
	}
	return vol.Get()
}

// SetVolume pushes an absolute volume (0..1) to the device.
func (c *Client) SetVolume(ctx context.Context, level float64) error {
	_, _, vol, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return vol.Set(ctx, level)
}

// Mute silences the device, remembering the current volume.
func (c *Client) Mute(ctx context.Context) error {
	_, _, vol, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return vol.Mute(ctx)
}

// Unmute restores the volume remembered at the last Mute call.
func (c *Client) Unmute(ctx context.Context) error {
	_, _, vol, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return vol.Unmute(ctx)
}

// ToggleMute flips between Mute and Unmute.
func (c *Client) ToggleMute(ctx context.Context) error {
	_, _, vol, err := c.ensureConnected()
	if err != nil {
		return err
	}
	return vol.ToggleMute(ctx)
}

// === Queue ===

// AddToQueue appends a track and returns its queue item ID.
func (c *Client) AddToQueue(track TrackMetadata) string {
	return c.queue.Add(track)
}

// PlayNext inserts a track immediately after the current one.
func (c *Client) PlayNext(track TrackMetadata) string {
	return c.queue.AddNext(track)
}

// RemoveFromQueue removes the item with the given ID, if present.
func (c *Client) RemoveFromQueue(id string) bool {
	items := c.queue.Items()
	for i, item := range items {
		if item.ID == id {
			return c.queue.Remove(i)
		}
	}
	return false
}

// ClearQueue empties the queue entirely.
func (c *Client) ClearQueue() {
	c.queue.Clear()
}

// QueueItems returns a snapshot of the queue's current contents.
func (c *Client) QueueItems() []control.QueueItem {
	return c.queue.Items()
}

// === Streaming ===

// StreamAudio drives the full C5/C6/C7 pipeline against source: builds
// the ring-buffered pipeline, starts the RTP sender, and schedules the
// staggered SetRateAnchorTime retries once flow begins (spec.md §4.7).
// It blocks until ctx is canceled, the source reaches end of stream, or
// Stop/Disconnect is called; callers typically run it in a goroutine.
func (c *Client) StreamAudio(ctx context.Context, source audio.Source) error {
	sess, _, _, err := c.ensureConnected()
	if err != nil {
		return err
	}

	pipeline := audio.NewPipeline(source, audio.CDQuality, c.logger)
	if err := pipeline.Prefill(ctx); err != nil {
		return err
	}

	sender, err := sess.NewAudioSender(io.Reader(pipeline.Ring()))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.pipeline = pipeline
	c.sender = sender
	c.mu.Unlock()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		pipeline.Run(streamCtx)
		// The source is exhausted: let the sender drain what is still
		// buffered, then end the stream.
		for pipeline.Ring().Available() > 0 && streamCtx.Err() == nil {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()
	go func() {
		defer wg.Done()
		sender.Run(streamCtx)
		cancel() // a CmdStop ends the stream, unblocking the producer too
	}()

	sess.NotifyAudioFlowBegan(streamCtx)

	wg.Wait()
	return nil
}

// PlayTracks enqueues a batch of tracks and begins streaming the first
// one (spec.md §6 "play_tracks([(url,title,artist)])"). Each URL must
// name a local WAV file or an http(s) URL serving one: decoding
// compressed formats is the audio-source collaborator's job, out of
// scope for this core (spec.md §1).
func (c *Client) PlayTracks(ctx context.Context, tracks []Track) error {
	if len(tracks) == 0 {
		return apperr.New(apperr.KindInvalidParameter, "no tracks given", false)
	}
	for _, t := range tracks {
		c.queue.Add(TrackMetadata{URL: t.URL, Title: t.Title, Artist: t.Artist})
	}
	return c.PlayURL(ctx, tracks[0].URL)
}

// PlayURL opens url as a WAV source and streams it, blocking until the
// stream ends or ctx is canceled. See PlayTracks for the WAV-only
// constraint.
func (c *Client) PlayURL(ctx context.Context, url string) error {
	if _, _, _, err := c.ensureConnected(); err != nil {
		return err
	}
	src, err := OpenWAVSource(url)
	if err != nil {
		return err
	}
	if err := c.SetMetadata(ctx, TrackMetadata{URL: url}); err != nil {
		c.logger.Warn("failed to push metadata before streaming", "error", err)
	}
	if err := c.Play(ctx); err != nil {
		return err
	}
	return c.StreamAudio(ctx, src)
}

// stopStreaming signals the RTP sender to stop and drops the pipeline
// references so a subsequent StreamAudio starts clean.
func (c *Client) stopStreaming() {
	c.mu.Lock()
	sender := c.sender
	c.sender = nil
	c.pipeline = nil
	c.mu.Unlock()

	if sender != nil {
		select {
		case sender.Commands() <- rtp.Command{Type: rtp.CmdStop}:
		default:
		}
	}
}
