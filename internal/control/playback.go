package control

import (
	"context"
	"sync"
	"time"

	"github.com/airtap-go/airplay2/internal/plist"
	"github.com/airtap-go/airplay2/internal/session"
)

// RepeatMode selects how the queue behaves once it runs out of tracks.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatOne
	RepeatAll
)

// ShuffleMode mirrors PlaybackQueue's shuffle state at the control-plane
// level so callers can read and set it symmetrically with repeat.
type ShuffleMode int

const (
	ShuffleOff ShuffleMode = iota
	ShuffleOn
)

// PlaybackState is the orchestration layer's view of where playback
// stands, independent of the lower-level session state machine.
type PlaybackState struct {
	IsPlaying    bool
	PositionSecs float64
	CurrentTrack *TrackInfo
	Repeat       RepeatMode
	Shuffle      ShuffleMode
}

// PlaybackProgress reports a position/duration/rate triple, the shape
// most UIs want for a scrub bar.
type PlaybackProgress struct {
	Position time.Duration
	Duration time.Duration
	Rate     float64
}

// Progress returns position/duration in 0..1, or 0 if duration is zero.
func (p PlaybackProgress) Progress() float64 {
	if p.Duration == 0 {
		return 0
	}
	return p.Position.Seconds() / p.Duration.Seconds()
}

// Remaining returns Duration-Position, floored at zero.
func (p PlaybackProgress) Remaining() time.Duration {
	if p.Position >= p.Duration {
		return 0
	}
	return p.Duration - p.Position
}

const fastSeekStep = 10 * time.Second

// PlaybackController orchestrates play/pause/seek/next/previous/repeat/
// shuffle/metadata against a connected Session, grounded on the original
// project's control/playback.rs PlaybackController.
type PlaybackController struct {
	sess  *session.Session
	queue *PlaybackQueue

	mu    sync.RWMutex
	state PlaybackState
}

// NewPlaybackController constructs a controller for sess, orchestrating
// the given queue's current track.
func NewPlaybackController(sess *session.Session, queue *PlaybackQueue) *PlaybackController {
	return &PlaybackController{sess: sess, queue: queue, state: PlaybackState{Repeat: RepeatOff, Shuffle: ShuffleOff}}
}

// State returns a snapshot of the controller's current playback state.
func (c *PlaybackController) State() PlaybackState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Play starts (or resumes) playback. It is idempotent: calling it while
// already playing does nothing.
func (c *PlaybackController) Play(ctx context.Context) error {
	c.mu.Lock()
	if c.state.IsPlaying {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.sendRateAnchor(ctx, 1); err != nil {
		return err
	}
	c.sess.NotifyAudioFlowBegan(ctx)

	c.mu.Lock()
	c.state.IsPlaying = true
	c.mu.Unlock()
	return nil
}

// Pause stops playback without resetting position. Idempotent.
func (c *PlaybackController) Pause(ctx context.Context) error {
	c.mu.Lock()
	if !c.state.IsPlaying {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.sendRateAnchor(ctx, 0); err != nil {
		return err
	}

	c.mu.Lock()
	c.state.IsPlaying = false
	c.mu.Unlock()
	return nil
}

// Toggle plays if paused, pauses if playing.
func (c *PlaybackController) Toggle(ctx context.Context) error {
	if c.State().IsPlaying {
		return c.Pause(ctx)
	}
	return c.Play(ctx)
}

// Stop tears down the media stream and resets position, keeping the
// queue and current track selection intact.
func (c *PlaybackController) Stop(ctx context.Context) error {
	if _, err := c.sess.Execute(ctx, "TEARDOWN", c.sess.RTSPURI(), "", nil); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.IsPlaying = false
	c.state.PositionSecs = 0
	c.mu.Unlock()
	return nil
}

// Next advances the queue and issues the DACP "nextitem" command.
func (c *PlaybackController) Next(ctx context.Context) error {
	if _, ok := c.queue.Next(); !ok {
		return nil
	}
	return c.sendCommand(ctx, "nextitem")
}

// Previous rewinds the queue and issues the DACP "previtem" command.
func (c *PlaybackController) Previous(ctx context.Context) error {
	if _, ok := c.queue.Previous(); !ok {
		return nil
	}
	return c.sendCommand(ctx, "previtem")
}

// Seek scrubs to an absolute position in the current track.
func (c *PlaybackController) Seek(ctx context.Context, position time.Duration) error {
	if err := c.sendScrub(ctx, position.Seconds()); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.PositionSecs = position.Seconds()
	c.mu.Unlock()
	return nil
}

// SeekRelative scrubs forward or backward by offset from the last known
// position. The read-then-send gap is deliberate: holding the state lock
// across the network round trip would serialize every control operation
// behind it.
func (c *PlaybackController) SeekRelative(ctx context.Context, offset time.Duration, forward bool) error {
	c.mu.RLock()
	current := c.state.PositionSecs
	c.mu.RUnlock()

	delta := offset.Seconds()
	if !forward {
		delta = -delta
	}
	next := current + delta
	if next < 0 {
		next = 0
	}
	return c.Seek(ctx, time.Duration(next*float64(time.Second)))
}

// FastForward skips ahead by the standard 10-second scrub step.
func (c *PlaybackController) FastForward(ctx context.Context) error {
	return c.SeekRelative(ctx, fastSeekStep, true)
}

// Rewind skips back by the standard 10-second scrub step.
func (c *PlaybackController) Rewind(ctx context.Context) error {
	return c.SeekRelative(ctx, fastSeekStep, false)
}

// SetRepeat changes the repeat mode, both locally and on the device.
func (c *PlaybackController) SetRepeat(ctx context.Context, mode RepeatMode) error {
	command := map[RepeatMode]string{RepeatOff: "repeatoff", RepeatOne: "repeatone", RepeatAll: "repeatall"}[mode]
	if err := c.sendCommand(ctx, command); err != nil {
		return err
	}
	c.mu.Lock()
	c.state.Repeat = mode
	c.mu.Unlock()
	return nil
}

// RepeatMode returns the last-set repeat mode.
func (c *PlaybackController) RepeatMode() RepeatMode {
	return c.State().Repeat
}

// SetShuffle changes the shuffle mode, both on the queue and the device.
func (c *PlaybackController) SetShuffle(ctx context.Context, mode ShuffleMode) error {
	command := "shuffleoff"
	if mode == ShuffleOn {
		command = "shuffleon"
	}
	if err := c.sendCommand(ctx, command); err != nil {
		return err
	}
	if mode == ShuffleOn {
		c.queue.Shuffle()
	} else {
		c.queue.Unshuffle()
	}
	c.mu.Lock()
	c.state.Shuffle = mode
	c.mu.Unlock()
	return nil
}

// ShuffleMode returns the last-set shuffle mode.
func (c *PlaybackController) ShuffleMode() ShuffleMode {
	return c.State().Shuffle
}

// SetMetadata pushes now-playing metadata to the device and adopts it as
// the controller's current track.
func (c *PlaybackController) SetMetadata(ctx context.Context, track TrackInfo) error {
	_, err := c.sess.Execute(ctx, "SET_PARAMETER", c.sess.RTSPURI(), "application/x-dmap-tagged", track.EncodeDMAP())
	if err != nil {
		return err
	}
	c.mu.Lock()
	t := track
	c.state.CurrentTrack = &t
	c.mu.Unlock()
	return nil
}

// SetProgress pushes an explicit scrub position to the device.
func (c *PlaybackController) SetProgress(ctx context.Context, progress DmapProgress) error {
	_, err := c.sess.Execute(ctx, "SET_PARAMETER", c.sess.RTSPURI(), "text/parameters", progress.Encode())
	return err
}

func (c *PlaybackController) sendCommand(ctx context.Context, command string) error {
	_, err := c.sess.Execute(ctx, "POST", "/ctrl-int/1/"+command, "", nil)
	return err
}

func (c *PlaybackController) sendScrub(ctx context.Context, positionSecs float64) error {
	const sampleRate = 44100.0
	samples := uint32(positionSecs * sampleRate)
	progress := NewDmapProgress(0, samples, samples)
	return c.SetProgress(ctx, progress)
}

// sendRateAnchor issues SetRateAnchorTime with the given rate (1 to play,
// 0 to pause), embedding the PTP clock's current network time when the
// session negotiated the PTP timing path.
func (c *PlaybackController) sendRateAnchor(ctx context.Context, rate int64) error {
	body := map[string]plist.Value{
		"rate":    plist.Int(rate),
		"rtpTime": plist.Uint(0),
	}
	if c.sess.UsesPTP() {
		if clock := c.sess.PTPClock(); clock != nil {
			if sample, ok := clock.Sample(); ok {
				body["networkTimeSecs"] = plist.Uint(sample.Seconds)
				body["networkTimeFrac"] = plist.Uint(sample.Frac)
				body["networkTimeTimelineID"] = plist.Uint(sample.TimelineID)
			}
		}
	}
	encoded, err := plist.Encode(plist.Dict(body))
	if err != nil {
		return err
	}
	_, err = c.sess.Execute(ctx, "SETRATEANCHORTIME", c.sess.RTSPURI(), "application/x-apple-binary-plist", encoded)
	return err
}
