package ptp

import (
	"testing"
	"time"
)

func TestSampleUnavailableBeforeFirstSync(t *testing.T) {
	m, err := NewMasterClock(0)
	if err != nil {
		t.Fatalf("NewMasterClock: %v", err)
	}
	if _, ok := m.Sample(); ok {
		t.Error("Sample() should report unavailable before any Sync has run")
	}
}

func TestPublishSnapshotFillsTimelineIDFromClockIdentity(t *testing.T) {
	m, err := NewMasterClock(0)
	if err != nil {
		t.Fatalf("NewMasterClock: %v", err)
	}
	m.publishSnapshot(time.Now())

	snap, ok := m.Sample()
	if !ok {
		t.Fatal("Sample() reported unavailable after publishSnapshot")
	}
	if snap.TimelineID != clockIDToTimelineID(m.clockID) {
		t.Errorf("TimelineID = %d, want %d", snap.TimelineID, clockIDToTimelineID(m.clockID))
	}
}

func TestNsToFracIsMonotonicWithinASecond(t *testing.T) {
	if nsToFrac(0) != 0 {
		t.Errorf("nsToFrac(0) = %d, want 0", nsToFrac(0))
	}
	if nsToFrac(500_000_000) >= nsToFrac(999_999_999) {
		t.Error("nsToFrac should increase monotonically with nanoseconds")
	}
}
