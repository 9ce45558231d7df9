package control

import (
	"math"
	"testing"
)

func TestVolumeClamping(t *testing.T) {
	if got := ClampVolume(1.5); got != MaxVolume {
		t.Errorf("ClampVolume(1.5) = %v, want %v", got, MaxVolume)
	}
	if got := ClampVolume(-0.5); got != MinVolume {
		t.Errorf("ClampVolume(-0.5) = %v, want %v", got, MinVolume)
	}
}

func TestVolumeToDB(t *testing.T) {
	if got := VolumeToDB(MaxVolume); math.Abs(got-0.0) > 1e-9 {
		t.Errorf("VolumeToDB(max) = %v, want 0", got)
	}
	if got := VolumeToDB(MinVolume); got != silentDB {
		t.Errorf("VolumeToDB(min) = %v, want %v", got, silentDB)
	}
}

func TestVolumeDBRoundTrip(t *testing.T) {
	v := 0.5
	db := VolumeToDB(v)
	recovered := DBToVolume(db)
	if math.Abs(v-recovered) > 0.001 {
		t.Errorf("round trip: got %v, want ~%v", recovered, v)
	}
}

func TestIsSilent(t *testing.T) {
	if !IsSilent(MinVolume) {
		t.Error("MinVolume should be silent")
	}
	if !IsSilent(0.0005) {
		t.Error("0.0005 should be silent")
	}
	if IsSilent(0.01) {
		t.Error("0.01 should not be silent")
	}
}

func TestIsMaxVolume(t *testing.T) {
	if !IsMaxVolume(MaxVolume) {
		t.Error("MaxVolume should report as max")
	}
	if IsMaxVolume(0.9) {
		t.Error("0.9 should not report as max")
	}
}

func TestParseVolumeResponse(t *testing.T) {
	db, err := parseVolumeResponse([]byte("volume: -10.500000\r\n"))
	if err != nil {
		t.Fatalf("parseVolumeResponse: %v", err)
	}
	if math.Abs(db-(-10.5)) > 1e-6 {
		t.Errorf("db = %v, want -10.5", db)
	}
}

func TestParseVolumeResponseMissingLine(t *testing.T) {
	if _, err := parseVolumeResponse([]byte("something: else\r\n")); err == nil {
		t.Fatal("expected an error when no volume line is present")
	}
}

func TestGroupVolumeControllerTracksRelativeVolume(t *testing.T) {
	g := NewGroupVolumeController()
	ctrl := NewVolumeController(nil)
	g.AddDevice("a", ctrl, 0.5)

	g.mu.Lock()
	dv := g.devices["a"]
	g.mu.Unlock()
	if dv.Relative != 0.5 {
		t.Errorf("relative = %v, want 0.5", dv.Relative)
	}

	g.RemoveDevice("a")
	if _, ok := g.devices["a"]; ok {
		t.Error("expected device to be removed")
	}
}
