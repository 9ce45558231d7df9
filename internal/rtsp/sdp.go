package rtsp

import (
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"
)

func base64RawURL(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// SDP field type prefixes per RFC 4566.
const (
	sdpVersion    = "v="
	sdpOrigin     = "o="
	sdpSession    = "s="
	sdpConnection = "c="
	sdpTime       = "t="
	sdpMedia      = "m="
	sdpAttribute  = "a="
)

// Connection holds SDP connection data from a c= line.
type Connection struct {
	NetType  string // "IN"
	AddrType string // "IP4" or "IP6"
	Address  string
}

func (c Connection) String() string {
	return c.NetType + " " + c.AddrType + " " + c.Address
}

// Origin holds SDP origin data from an o= line.
type Origin struct {
	Username       string
	SessionID      string
	SessionVersion string
	NetType        string
	AddrType       string
	Address        string
}

func (o Origin) String() string {
	return o.Username + " " + o.SessionID + " " + o.SessionVersion + " " +
		o.NetType + " " + o.AddrType + " " + o.Address
}

// Codec represents a codec parsed from an a=rtpmap attribute.
type Codec struct {
	PayloadType int
	Name        string // "L16", "AppleLossless", "AAC-eld", ...
	ClockRate   int
	Channels    int
	Fmtp        string
}

func (c Codec) String() string {
	s := strconv.Itoa(c.PayloadType) + " " + c.Name + "/" + strconv.Itoa(c.ClockRate)
	if c.Channels > 0 {
		s += "/" + strconv.Itoa(c.Channels)
	}
	return s
}

// MediaDescription holds a parsed SDP m= section with its attributes.
type MediaDescription struct {
	Type       string // "audio"
	Port       int
	NumPorts   int
	Proto      string // "RTP/AVP"
	Formats    []int
	Connection *Connection
	Codecs     []Codec
	Attributes []string
	Direction  string
}

func (m *MediaDescription) CodecByPayloadType(pt int) *Codec {
	for i := range m.Codecs {
		if m.Codecs[i].PayloadType == pt {
			return &m.Codecs[i]
		}
	}
	return nil
}

// SessionDescription holds a fully parsed (or, for ANNOUNCE, about-to-be-
// marshaled) SDP session.
type SessionDescription struct {
	Version     int
	Origin      Origin
	SessionName string
	Connection  *Connection
	Time        string
	Media       []MediaDescription
	Attributes  []string
}

// AudioMedia returns the first audio media description, or nil.
func (s *SessionDescription) AudioMedia() *MediaDescription {
	for i := range s.Media {
		if s.Media[i].Type == "audio" {
			return &s.Media[i]
		}
	}
	return nil
}

// ParseSDP parses an SDP body into a SessionDescription.
func ParseSDP(data []byte) (*SessionDescription, error) {
	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimRight(text, "\n")
	lines := strings.Split(text, "\n")
	if len(lines) == 0 || (len(lines) == 1 && lines[0] == "") {
		return nil, fmt.Errorf("empty sdp body")
	}

	sd := &SessionDescription{}
	var currentMedia *MediaDescription

	for _, line := range lines {
		if len(line) < 2 || line[1] != '=' {
			continue
		}

		switch {
		case strings.HasPrefix(line, sdpVersion):
			v, err := strconv.Atoi(line[2:])
			if err != nil {
				return nil, fmt.Errorf("invalid sdp version: %w", err)
			}
			sd.Version = v

		case strings.HasPrefix(line, sdpOrigin):
			origin, err := parseOrigin(line[2:])
			if err != nil {
				return nil, fmt.Errorf("invalid sdp origin: %w", err)
			}
			sd.Origin = origin

		case strings.HasPrefix(line, sdpSession):
			sd.SessionName = line[2:]

		case strings.HasPrefix(line, sdpConnection):
			conn, err := parseConnection(line[2:])
			if err != nil {
				return nil, fmt.Errorf("invalid sdp connection: %w", err)
			}
			if currentMedia != nil {
				currentMedia.Connection = &conn
			} else {
				sd.Connection = &conn
			}

		case strings.HasPrefix(line, sdpTime):
			sd.Time = line[2:]

		case strings.HasPrefix(line, sdpMedia):
			md, err := parseMediaLine(line[2:])
			if err != nil {
				return nil, fmt.Errorf("invalid sdp media line: %w", err)
			}
			sd.Media = append(sd.Media, md)
			currentMedia = &sd.Media[len(sd.Media)-1]

		case strings.HasPrefix(line, sdpAttribute):
			attr := line[2:]
			if currentMedia != nil {
				currentMedia.Attributes = append(currentMedia.Attributes, attr)
				parseMediaAttribute(currentMedia, attr)
			} else {
				sd.Attributes = append(sd.Attributes, attr)
			}
		}
	}

	return sd, nil
}

// Marshal serializes a SessionDescription back to SDP wire format.
func (s *SessionDescription) Marshal() []byte {
	var b strings.Builder

	b.WriteString("v=" + strconv.Itoa(s.Version) + "\r\n")
	b.WriteString("o=" + s.Origin.String() + "\r\n")
	b.WriteString("s=" + s.SessionName + "\r\n")
	if s.Connection != nil {
		b.WriteString("c=" + s.Connection.String() + "\r\n")
	}
	b.WriteString("t=" + s.Time + "\r\n")

	for _, attr := range s.Attributes {
		b.WriteString("a=" + attr + "\r\n")
	}

	for _, m := range s.Media {
		fmts := make([]string, len(m.Formats))
		for i, f := range m.Formats {
			fmts[i] = strconv.Itoa(f)
		}
		portStr := strconv.Itoa(m.Port)
		if m.NumPorts > 0 {
			portStr += "/" + strconv.Itoa(m.NumPorts)
		}
		b.WriteString("m=" + m.Type + " " + portStr + " " + m.Proto + " " + strings.Join(fmts, " ") + "\r\n")
		if m.Connection != nil {
			b.WriteString("c=" + m.Connection.String() + "\r\n")
		}
		for _, attr := range m.Attributes {
			b.WriteString("a=" + attr + "\r\n")
		}
	}

	return []byte(b.String())
}

// AnnounceParams describes the single audio stream carried by the ANNOUNCE
// SDP body on the legacy NTP timing path (spec.md §4.1 step 3c, §4.4).
type AnnounceParams struct {
	ClientAddress string // our IP, used as both o= and c= address
	SessionID     string
	PayloadType   int // 96 for ALAC/AAC, 100 raw PCM, matching SETUP phase 2
	CodecName     string
	ClockRate     int
	Channels      int
	Fmtp          string // codec-specific format parameters, e.g. ALAC's 12-field fmtp
	RSAAESKey     []byte // encrypted AES key, base64'd into a=rsaaeskey
	RSAAESIV      []byte // AES IV, base64'd into a=rsaaesiv
}

// BuildAnnounceSDP constructs the SDP body for the ANNOUNCE request on the
// NTP timing path. The PTP path skips ANNOUNCE entirely (spec.md §4.1).
func BuildAnnounceSDP(p AnnounceParams) *SessionDescription {
	sd := &SessionDescription{
		Version: 0,
		Origin: Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: "0",
			NetType:        "IN",
			AddrType:       "IP4",
			Address:        p.ClientAddress,
		},
		SessionName: "AirTap",
		Connection: &Connection{
			NetType:  "IN",
			AddrType: "IP4",
			Address:  p.ClientAddress,
		},
		Time: "0 0",
	}

	media := MediaDescription{
		Type:      "audio",
		Port:      0,
		Proto:     "RTP/AVP",
		Formats:   []int{p.PayloadType},
		Direction: "sendonly",
	}
	codec := Codec{
		PayloadType: p.PayloadType,
		Name:        p.CodecName,
		ClockRate:   p.ClockRate,
		Channels:    p.Channels,
		Fmtp:        p.Fmtp,
	}
	media.Codecs = []Codec{codec}
	media.Attributes = append(media.Attributes, "rtpmap:"+codec.String())
	if p.Fmtp != "" {
		media.Attributes = append(media.Attributes, fmt.Sprintf("fmtp:%d %s", p.PayloadType, p.Fmtp))
	}
	if len(p.RSAAESKey) > 0 {
		media.Attributes = append(media.Attributes, "rsaaeskey:"+base64RawURL(p.RSAAESKey))
	}
	if len(p.RSAAESIV) > 0 {
		media.Attributes = append(media.Attributes, "rsaaesiv:"+base64RawURL(p.RSAAESIV))
	}

	sd.Media = []MediaDescription{media}
	return sd
}

func parseConnection(value string) (Connection, error) {
	parts := strings.Fields(value)
	if len(parts) < 3 {
		return Connection{}, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}
	addr := parts[2]
	if idx := strings.Index(addr, "/"); idx >= 0 {
		addr = addr[:idx]
	}
	if net.ParseIP(addr) == nil {
		return Connection{}, fmt.Errorf("invalid ip address %q", addr)
	}
	return Connection{NetType: parts[0], AddrType: parts[1], Address: addr}, nil
}

func parseOrigin(value string) (Origin, error) {
	parts := strings.Fields(value)
	if len(parts) < 6 {
		return Origin{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	return Origin{
		Username:       parts[0],
		SessionID:      parts[1],
		SessionVersion: parts[2],
		NetType:        parts[3],
		AddrType:       parts[4],
		Address:        parts[5],
	}, nil
}

func parseMediaLine(value string) (MediaDescription, error) {
	parts := strings.Fields(value)
	if len(parts) < 4 {
		return MediaDescription{}, fmt.Errorf("expected at least 4 fields, got %d", len(parts))
	}

	md := MediaDescription{Type: parts[0], Proto: parts[2], Direction: "sendrecv"}

	portStr := parts[1]
	if idx := strings.Index(portStr, "/"); idx >= 0 {
		numPorts, err := strconv.Atoi(portStr[idx+1:])
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid port count: %w", err)
		}
		md.NumPorts = numPorts
		portStr = portStr[:idx]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return MediaDescription{}, fmt.Errorf("invalid port: %w", err)
	}
	md.Port = port

	for _, fmtStr := range parts[3:] {
		pt, err := strconv.Atoi(fmtStr)
		if err != nil {
			return MediaDescription{}, fmt.Errorf("invalid payload type %q: %w", fmtStr, err)
		}
		md.Formats = append(md.Formats, pt)
	}

	return md, nil
}

func parseMediaAttribute(md *MediaDescription, attr string) {
	switch {
	case strings.HasPrefix(attr, "rtpmap:"):
		codec, err := parseRtpmap(attr[7:])
		if err == nil {
			for i := range md.Codecs {
				if md.Codecs[i].PayloadType == codec.PayloadType {
					codec.Fmtp = md.Codecs[i].Fmtp
					md.Codecs[i] = codec
					return
				}
			}
			md.Codecs = append(md.Codecs, codec)
		}

	case strings.HasPrefix(attr, "fmtp:"):
		pt, params, ok := parseFmtp(attr[5:])
		if ok {
			for i := range md.Codecs {
				if md.Codecs[i].PayloadType == pt {
					md.Codecs[i].Fmtp = params
					return
				}
			}
			md.Codecs = append(md.Codecs, Codec{PayloadType: pt, Fmtp: params})
		}

	case attr == "sendrecv" || attr == "sendonly" || attr == "recvonly" || attr == "inactive":
		md.Direction = attr
	}
}

func parseRtpmap(value string) (Codec, error) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) != 2 {
		return Codec{}, fmt.Errorf("expected '<pt> <encoding>', got %q", value)
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return Codec{}, fmt.Errorf("invalid payload type: %w", err)
	}
	// The clock rate is optional: AirPlay senders write "96 AppleLossless".
	encParts := strings.Split(parts[1], "/")
	codec := Codec{PayloadType: pt, Name: encParts[0]}
	if len(encParts) >= 2 {
		clockRate, err := strconv.Atoi(encParts[1])
		if err != nil {
			return Codec{}, fmt.Errorf("invalid clock rate: %w", err)
		}
		codec.ClockRate = clockRate
	}
	if len(encParts) >= 3 {
		if ch, err := strconv.Atoi(encParts[2]); err == nil {
			codec.Channels = ch
		}
	}
	return codec, nil
}

func parseFmtp(value string) (int, string, bool) {
	parts := strings.SplitN(value, " ", 2)
	if len(parts) < 2 {
		return 0, "", false
	}
	pt, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return pt, parts[1], true
}
