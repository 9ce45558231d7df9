package rtsp

import "testing"

const sampleAnnounceSDP = "v=0\r\n" +
	"o=iTunes 3333 0 IN IP4 192.168.1.50\r\n" +
	"s=iTunes\r\n" +
	"c=IN IP4 192.168.1.50\r\n" +
	"t=0 0\r\n" +
	"m=audio 0 RTP/AVP 96\r\n" +
	"a=rtpmap:96 AppleLossless\r\n" +
	"a=fmtp:96 352 0 16 40 10 14 2 255 0 0 44100\r\n"

func TestParseSDPAudioMedia(t *testing.T) {
	sd, err := ParseSDP([]byte(sampleAnnounceSDP))
	if err != nil {
		t.Fatalf("ParseSDP: %v", err)
	}
	if sd.Origin.Address != "192.168.1.50" {
		t.Errorf("Origin.Address = %q", sd.Origin.Address)
	}
	audio := sd.AudioMedia()
	if audio == nil {
		t.Fatal("expected an audio media section")
	}
	codec := audio.CodecByPayloadType(96)
	if codec == nil {
		t.Fatal("expected codec for payload type 96")
	}
	if codec.Name != "AppleLossless" {
		t.Errorf("codec.Name = %q", codec.Name)
	}
	if codec.Fmtp != "352 0 16 40 10 14 2 255 0 0 44100" {
		t.Errorf("codec.Fmtp = %q", codec.Fmtp)
	}
}

func TestBuildAnnounceSDPRoundTrips(t *testing.T) {
	built := BuildAnnounceSDP(AnnounceParams{
		ClientAddress: "10.0.0.5",
		SessionID:     "42",
		PayloadType:   96,
		CodecName:     "AppleLossless",
		ClockRate:     44100,
		Fmtp:          "352 0 16 40 10 14 2 255 0 0 44100",
	})

	marshaled := built.Marshal()
	parsed, err := ParseSDP(marshaled)
	if err != nil {
		t.Fatalf("ParseSDP(Marshal()): %v", err)
	}
	audio := parsed.AudioMedia()
	if audio == nil {
		t.Fatal("expected audio media in round-tripped SDP")
	}
	codec := audio.CodecByPayloadType(96)
	if codec == nil || codec.ClockRate != 44100 {
		t.Fatalf("codec = %+v", codec)
	}
	if parsed.Origin.Address != "10.0.0.5" {
		t.Errorf("Origin.Address = %q, want 10.0.0.5", parsed.Origin.Address)
	}
}

func TestBuildAnnounceSDPIncludesEncryptionAttributes(t *testing.T) {
	sd := BuildAnnounceSDP(AnnounceParams{
		ClientAddress: "10.0.0.5",
		SessionID:     "1",
		PayloadType:   96,
		CodecName:     "AppleLossless",
		ClockRate:     44100,
		RSAAESKey:     []byte{0x01, 0x02},
		RSAAESIV:      []byte{0x03, 0x04},
	})
	out := string(sd.Marshal())
	if !containsAll(out, "a=rsaaeskey:", "a=rsaaesiv:") {
		t.Errorf("expected encryption attributes in:\n%s", out)
	}
}

func containsAll(haystack string, needles ...string) bool {
	for _, n := range needles {
		found := false
		for i := 0; i+len(n) <= len(haystack); i++ {
			if haystack[i:i+len(n)] == n {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
