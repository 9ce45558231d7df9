package discovery

import (
	"testing"

	"github.com/brutella/dnssd"
)

func TestFormatAddr(t *testing.T) {
	cases := []struct {
		addr string
		port int
		want string
	}{
		{"192.168.1.50", 7000, "192.168.1.50:7000"},
		{"fe80::1", 7000, "[fe80::1]:7000"},
	}
	for _, tc := range cases {
		if got := FormatAddr(tc.addr, tc.port); got != tc.want {
			t.Errorf("FormatAddr(%q, %d) = %q, want %q", tc.addr, tc.port, got, tc.want)
		}
	}
}

func TestDeviceIDPrefersTXTValue(t *testing.T) {
	e := dnssd.BrowseEntry{
		Name:   "Living Room",
		Type:   "_airplay._tcp",
		Domain: "local",
		Text:   map[string]string{"deviceid": "AA:BB:CC:DD:EE:FF"},
	}
	if got := deviceID(e); got != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("deviceID() = %q, want the TXT deviceid value", got)
	}
}

func TestDeviceIDFallsBackToName(t *testing.T) {
	e := dnssd.BrowseEntry{
		Name:   "Living Room._airplay._tcp.local.",
		Type:   "_airplay._tcp",
		Domain: "local",
	}
	if got := deviceID(e); got == "" {
		t.Fatal("expected a non-empty fallback device ID")
	}
}

func TestTextRecordStringsRoundTrip(t *testing.T) {
	txt := map[string]string{"features": "0x1C340", "deviceid": "AA:BB:CC"}
	recs := textRecordStrings(txt)
	if len(recs) != len(txt) {
		t.Fatalf("textRecordStrings() = %v, want %d entries", recs, len(txt))
	}
	for k, v := range txt {
		if !containsRecord(recs, k+"="+v) {
			t.Errorf("textRecordStrings() missing %q", k+"="+v)
		}
	}
}

func containsRecord(recs []string, want string) bool {
	for _, r := range recs {
		if r == want {
			return true
		}
	}
	return false
}
