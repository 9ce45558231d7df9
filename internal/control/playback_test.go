package control

import (
	"testing"
	"time"
)

func TestPlaybackProgress(t *testing.T) {
	p := PlaybackProgress{Position: 30 * time.Second, Duration: 120 * time.Second, Rate: 1.0}

	if got := p.Progress(); got != 0.25 {
		t.Errorf("Progress() = %v, want 0.25", got)
	}
	if got := p.Remaining(); got != 90*time.Second {
		t.Errorf("Remaining() = %v, want 90s", got)
	}
}

func TestPlaybackProgressZeroDuration(t *testing.T) {
	p := PlaybackProgress{Position: 5 * time.Second}
	if got := p.Progress(); got != 0 {
		t.Errorf("Progress() with zero duration = %v, want 0", got)
	}
	if got := p.Remaining(); got != 0 {
		t.Errorf("Remaining() with position past duration = %v, want 0", got)
	}
}

func TestNewPlaybackControllerDefaults(t *testing.T) {
	c := NewPlaybackController(nil, NewPlaybackQueue())
	state := c.State()
	if state.IsPlaying {
		t.Error("expected a fresh controller to not be playing")
	}
	if state.Repeat != RepeatOff || state.Shuffle != ShuffleOff {
		t.Errorf("expected default repeat/shuffle to be off, got %v/%v", state.Repeat, state.Shuffle)
	}
}
