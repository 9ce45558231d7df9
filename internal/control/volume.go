// Package control implements the player-facing orchestration layered on
// top of a connected session: volume, the playback queue, and transport
// control (play/pause/seek/next/previous/repeat/shuffle/metadata). It is
// grounded on the original project's control/{volume,queue,playback}.rs,
// restored here as a supplement the distilled spec's "high-level
// player/queue/UI" line dropped but never explicitly excluded.
package control

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/session"
)

// Volume bounds. MinVolume is silence, MaxVolume is unattenuated; the
// device starts at DefaultVolume until SyncFromDevice overwrites it.
const (
	MinVolume     = 0.0
	MaxVolume     = 1.0
	DefaultVolume = 0.75

	silentThreshold = 0.001
	maxThreshold    = 0.999
	silentDB        = -144.0
)

// ClampVolume restricts v to [MinVolume, MaxVolume].
func ClampVolume(v float64) float64 {
	if v < MinVolume {
		return MinVolume
	}
	if v > MaxVolume {
		return MaxVolume
	}
	return v
}

// VolumeToDB converts a linear 0..1 volume to the logarithmic decibel
// scale AirPlay receivers speak on the wire, matching the device's own
// silent floor of -144dB rather than letting log(0) diverge to -Inf.
func VolumeToDB(v float64) float64 {
	if v <= silentThreshold {
		return silentDB
	}
	return 20 * math.Log10(v)
}

// DBToVolume is the inverse of VolumeToDB.
func DBToVolume(db float64) float64 {
	if db <= silentDB {
		return MinVolume
	}
	return ClampVolume(math.Pow(10, db/20))
}

// IsSilent reports whether v is at or below the silent threshold.
func IsSilent(v float64) bool { return v <= silentThreshold }

// IsMaxVolume reports whether v is at or above the max threshold.
func IsMaxVolume(v float64) bool { return v >= maxThreshold }

const volumeStepPercent = 0.05

// VolumeController wraps a connected Session with AirPlay's text-parameter
// volume protocol: SET_PARAMETER/GET_PARAMETER bodies of the form
// "volume: -10.500000\r\n" against the session's RTSP URI.
type VolumeController struct {
	sess *session.Session

	mu            sync.RWMutex
	volume        float64
	muted         bool
	preMuteVolume float64
}

// NewVolumeController constructs a controller defaulted to DefaultVolume.
func NewVolumeController(sess *session.Session) *VolumeController {
	return &VolumeController{sess: sess, volume: DefaultVolume, preMuteVolume: DefaultVolume}
}

// Get returns the last known volume (0..1), without a round trip to the
// device.
func (c *VolumeController) Get() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.volume
}

// IsMuted reports whether the controller currently considers the device
// muted.
func (c *VolumeController) IsMuted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.muted
}

// Set pushes a new absolute volume (0..1) to the device, clamping to
// range and clearing any mute in effect.
func (c *VolumeController) Set(ctx context.Context, v float64) error {
	v = ClampVolume(v)
	c.mu.Lock()
	c.volume = v
	c.muted = false
	c.mu.Unlock()
	return c.sendVolume(ctx, v)
}

// SetPercent is Set expressed as a 0..100 percentage.
func (c *VolumeController) SetPercent(ctx context.Context, percent float64) error {
	return c.Set(ctx, percent/100)
}

// Increase raises the volume by delta (0..1 units).
func (c *VolumeController) Increase(ctx context.Context, delta float64) error {
	return c.Set(ctx, c.Get()+delta)
}

// Decrease lowers the volume by delta (0..1 units).
func (c *VolumeController) Decrease(ctx context.Context, delta float64) error {
	return c.Set(ctx, c.Get()-delta)
}

// StepUp raises the volume by the standard 5% increment.
func (c *VolumeController) StepUp(ctx context.Context) error {
	return c.Increase(ctx, volumeStepPercent)
}

// StepDown lowers the volume by the standard 5% increment.
func (c *VolumeController) StepDown(ctx context.Context) error {
	return c.Decrease(ctx, volumeStepPercent)
}

// Mute silences the device, remembering the current volume so Unmute can
// restore it.
func (c *VolumeController) Mute(ctx context.Context) error {
	c.mu.Lock()
	if c.muted {
		c.mu.Unlock()
		return nil
	}
	c.preMuteVolume = c.volume
	c.muted = true
	c.mu.Unlock()
	return c.sendVolume(ctx, MinVolume)
}

// Unmute restores the volume remembered at the last Mute call.
func (c *VolumeController) Unmute(ctx context.Context) error {
	c.mu.Lock()
	if !c.muted {
		c.mu.Unlock()
		return nil
	}
	restore := c.preMuteVolume
	c.muted = false
	c.volume = restore
	c.mu.Unlock()
	return c.sendVolume(ctx, restore)
}

// ToggleMute flips between Mute and Unmute.
func (c *VolumeController) ToggleMute(ctx context.Context) error {
	if c.IsMuted() {
		return c.Unmute(ctx)
	}
	return c.Mute(ctx)
}

// SyncFromDevice issues a GET_PARAMETER for "volume" and adopts whatever
// the device reports as the controller's current value.
func (c *VolumeController) SyncFromDevice(ctx context.Context) (float64, error) {
	resp, err := c.sess.Execute(ctx, "GET_PARAMETER", c.sess.RTSPURI(), "text/parameters", []byte("volume\r\n"))
	if err != nil {
		return 0, err
	}
	db, err := parseVolumeResponse(resp.Body)
	if err != nil {
		return 0, err
	}
	v := DBToVolume(db)
	c.mu.Lock()
	c.volume = v
	c.muted = IsSilent(v)
	c.mu.Unlock()
	return v, nil
}

func (c *VolumeController) sendVolume(ctx context.Context, v float64) error {
	body := fmt.Sprintf("volume: %.6f\r\n", VolumeToDB(v))
	_, err := c.sess.Execute(ctx, "SET_PARAMETER", c.sess.RTSPURI(), "text/parameters", []byte(body))
	return err
}

// parseVolumeResponse reads a "volume: -10.5\r\n"-shaped body, as returned
// by GET_PARAMETER for the "volume" key.
func parseVolumeResponse(body []byte) (float64, error) {
	for _, line := range strings.Split(string(body), "\r\n") {
		line = strings.TrimSpace(line)
		name, value, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != "volume" {
			continue
		}
		db, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return 0, apperr.Wrap(apperr.KindUnexpectedResponse, "parsing volume response", false, err)
		}
		return db, nil
	}
	return 0, apperr.New(apperr.KindUnexpectedResponse, "response did not contain a volume line", false)
}

// DeviceVolume is one member of a GroupVolumeController: a device's own
// controller plus its relative volume (0..1) within the group.
type DeviceVolume struct {
	Controller *VolumeController
	Relative   float64
}

// GroupVolumeController fans a single master volume out across a set of
// devices, each scaled by its own relative volume (AirPlay's multi-room
// volume model).
type GroupVolumeController struct {
	mu      sync.Mutex
	devices map[string]*DeviceVolume
	master  float64
}

// NewGroupVolumeController constructs an empty group at full master
// volume.
func NewGroupVolumeController() *GroupVolumeController {
	return &GroupVolumeController{devices: make(map[string]*DeviceVolume), master: MaxVolume}
}

// AddDevice registers a device's controller into the group at the given
// relative volume (0..1).
func (g *GroupVolumeController) AddDevice(id string, ctrl *VolumeController, relative float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.devices[id] = &DeviceVolume{Controller: ctrl, Relative: ClampVolume(relative)}
}

// RemoveDevice drops a device from the group.
func (g *GroupVolumeController) RemoveDevice(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.devices, id)
}

// SetMasterVolume updates the master volume and pushes the resulting
// effective volume to every device in the group.
func (g *GroupVolumeController) SetMasterVolume(ctx context.Context, v float64) error {
	g.mu.Lock()
	g.master = ClampVolume(v)
	snapshot := g.snapshotLocked()
	g.mu.Unlock()
	return applyVolumes(ctx, snapshot, g.master)
}

// SetDeviceVolume updates one device's relative volume and re-applies the
// effective volume for that device only.
func (g *GroupVolumeController) SetDeviceVolume(ctx context.Context, id string, relative float64) error {
	g.mu.Lock()
	dv, ok := g.devices[id]
	if !ok {
		g.mu.Unlock()
		return apperr.New(apperr.KindInvalidParameter, "unknown device in group: "+id, false)
	}
	dv.Relative = ClampVolume(relative)
	master := g.master
	g.mu.Unlock()
	return dv.Controller.Set(ctx, master*dv.Relative)
}

// MuteAll mutes every device in the group.
func (g *GroupVolumeController) MuteAll(ctx context.Context) error {
	g.mu.Lock()
	snapshot := g.snapshotLocked()
	g.mu.Unlock()
	for _, dv := range snapshot {
		if err := dv.Controller.Mute(ctx); err != nil {
			return err
		}
	}
	return nil
}

// UnmuteAll unmutes every device in the group.
func (g *GroupVolumeController) UnmuteAll(ctx context.Context) error {
	g.mu.Lock()
	snapshot := g.snapshotLocked()
	g.mu.Unlock()
	for _, dv := range snapshot {
		if err := dv.Controller.Unmute(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *GroupVolumeController) snapshotLocked() []*DeviceVolume {
	out := make([]*DeviceVolume, 0, len(g.devices))
	for _, dv := range g.devices {
		out = append(out, dv)
	}
	return out
}

func applyVolumes(ctx context.Context, devices []*DeviceVolume, master float64) error {
	for _, dv := range devices {
		if err := dv.Controller.Set(ctx, master*dv.Relative); err != nil {
			return err
		}
	}
	return nil
}
