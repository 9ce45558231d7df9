package session

import (
	"testing"

	"github.com/airtap-go/airplay2/internal/config"
	"github.com/airtap-go/airplay2/internal/device"
	"github.com/airtap-go/airplay2/internal/plist"
	"github.com/airtap-go/airplay2/internal/rtsp"
)

func TestComputeUsePTP(t *testing.T) {
	airplay2Dev := device.Device{Capabilities: device.CapAirPlay2}
	legacyDev := device.Device{Capabilities: device.CapAudio}
	ptpOnlyDev := device.Device{Capabilities: device.CapPTP}

	cases := []struct {
		name string
		mode config.TimingMode
		dev  device.Device
		want bool
	}{
		{"forced ptp", config.TimingPTP, legacyDev, true},
		{"forced ntp", config.TimingNTP, airplay2Dev, false},
		{"auto airplay2", config.TimingAuto, airplay2Dev, true},
		{"auto ptp capability", config.TimingAuto, ptpOnlyDev, true},
		{"auto legacy", config.TimingAuto, legacyDev, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := computeUsePTP(tc.mode, tc.dev); got != tc.want {
				t.Errorf("computeUsePTP(%v, %+v) = %v, want %v", tc.mode, tc.dev, got, tc.want)
			}
		})
	}
}

func TestRequiresAuthSetup(t *testing.T) {
	cases := []struct {
		manufacturer string
		want         bool
	}{
		{"", false},
		{"Apple Inc.", true},
		{"shairport-sync", false},
		{"UxPlay", false},
	}
	for _, tc := range cases {
		if got := requiresAuthSetup(tc.manufacturer); got != tc.want {
			t.Errorf("requiresAuthSetup(%q) = %v, want %v", tc.manufacturer, got, tc.want)
		}
	}
}

func TestParseDataControlPortsFromPlist(t *testing.T) {
	body, err := plist.Encode(plist.Dict(map[string]plist.Value{
		"dataPort":    plist.Int(6000),
		"controlPort": plist.Int(6001),
	}))
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	resp := &rtsp.Response{Body: body}

	dataPort, controlPort, err := parseDataControlPorts(resp)
	if err != nil {
		t.Fatalf("parseDataControlPorts: %v", err)
	}
	if dataPort != 6000 || controlPort != 6001 {
		t.Errorf("got (%d, %d), want (6000, 6001)", dataPort, controlPort)
	}
}

func TestParseDataControlPortsFromStreamsArray(t *testing.T) {
	body, err := plist.Encode(plist.Dict(map[string]plist.Value{
		"streams": plist.Array(plist.Dict(map[string]plist.Value{
			"dataPort":    plist.Int(7010),
			"controlPort": plist.Int(7011),
		})),
	}))
	if err != nil {
		t.Fatalf("encoding fixture: %v", err)
	}
	resp := &rtsp.Response{Body: body}

	dataPort, controlPort, err := parseDataControlPorts(resp)
	if err != nil {
		t.Fatalf("parseDataControlPorts: %v", err)
	}
	if dataPort != 7010 || controlPort != 7011 {
		t.Errorf("got (%d, %d), want (7010, 7011)", dataPort, controlPort)
	}
}

func TestParseDataControlPortsFromTransportHeader(t *testing.T) {
	resp := &rtsp.Response{
		Headers: []rtsp.HeaderField{
			{Name: "Transport", Value: "RTP/AVP/UDP;unicast;server_port=5000-5001;control_port=5002"},
		},
	}

	dataPort, controlPort, err := parseDataControlPorts(resp)
	if err != nil {
		t.Fatalf("parseDataControlPorts: %v", err)
	}
	if dataPort != 5000 || controlPort != 5002 {
		t.Errorf("got (%d, %d), want (5000, 5002)", dataPort, controlPort)
	}
}

func TestParseDataControlPortsMissingIsError(t *testing.T) {
	resp := &rtsp.Response{}
	if _, _, err := parseDataControlPorts(resp); err == nil {
		t.Fatal("expected an error when no port information is present")
	}
}

func TestDevicePortDefaultsTo7000(t *testing.T) {
	if got := devicePort(device.Device{}); got != 7000 {
		t.Errorf("devicePort(zero value) = %d, want 7000", got)
	}
	if got := devicePort(device.Device{Port: 7100}); got != 7100 {
		t.Errorf("devicePort(Port: 7100) = %d, want 7100", got)
	}
}

func TestRandomDigitsIsNineDigitsAndVaries(t *testing.T) {
	a := randomDigits()
	b := randomDigits()
	if len(a) != 9 || len(b) != 9 {
		t.Errorf("randomDigits() lengths = %d, %d, want 9", len(a), len(b))
	}
	if a == b {
		t.Error("expected two calls to randomDigits() to differ (this can rarely flake)")
	}
}
