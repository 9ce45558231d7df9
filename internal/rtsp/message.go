// Package rtsp implements the RTSP/HTTP-1.1-shaped request builder and
// streaming response decoder an AirPlay session speaks over its TCP
// connection (spec.md §4.4), plus the SDP body used on the ANNOUNCE path.
package rtsp

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/airtap-go/airplay2/internal/apperr"
)

// maxHeaderBlock caps the header section of a buffered response so a
// hostile or broken peer cannot grow the decoder's buffer without bound.
const maxHeaderBlock = 4096

// Request is an outgoing RTSP (or RTSP-extension) request.
type Request struct {
	Method string
	URI    string
	// Headers preserves insertion order for emission while Header/SetHeader
	// perform case-insensitive lookup, matching real RTSP/HTTP servers.
	Headers []HeaderField
	Body    []byte
}

// HeaderField is a single ordered header line.
type HeaderField struct {
	Name  string
	Value string
}

// NewRequest builds a request for method against uri. CSeq must be supplied
// by the caller (the session owns the monotonic counter).
func NewRequest(method, uri string, cseq int) *Request {
	r := &Request{Method: method, URI: uri}
	r.SetHeader("CSeq", strconv.Itoa(cseq))
	return r
}

// SetHeader sets a header, replacing any existing header with the same
// name (case-insensitively), or appending if not already present.
func (r *Request) SetHeader(name, value string) {
	for i, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			r.Headers[i].Value = value
			return
		}
	}
	r.Headers = append(r.Headers, HeaderField{Name: name, Value: value})
}

// Header returns the value of the named header (case-insensitive lookup),
// and whether it was present.
func (r *Request) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// SetBody attaches a request body and sets Content-Length/Content-Type.
func (r *Request) SetBody(contentType string, body []byte) {
	r.Body = body
	r.SetHeader("Content-Type", contentType)
	r.SetHeader("Content-Length", strconv.Itoa(len(body)))
}

// Marshal serializes the request to wire format.
func (r *Request) Marshal() []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", r.Method, r.URI)
	for _, h := range r.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", h.Name, h.Value)
	}
	b.WriteString("\r\n")

	out := make([]byte, 0, b.Len()+len(r.Body))
	out = append(out, b.String()...)
	out = append(out, r.Body...)
	return out
}

// SessionHeaders returns the standard Apple-client header set a session
// attaches to every request beyond CSeq (spec.md §4.4).
func SessionHeaders(activeRemote, clientName, sessionID, dacpID string) []HeaderField {
	return []HeaderField{
		{Name: "User-Agent", Value: "AirPlay/540.31"},
		{Name: "Active-Remote", Value: activeRemote},
		{Name: "X-Apple-Client-Name", Value: clientName},
		{Name: "X-Apple-Session-ID", Value: sessionID},
		{Name: "DACP-ID", Value: dacpID},
	}
}

// ApplySessionHeaders attaches h to r without overwriting headers the
// caller already set explicitly.
func ApplySessionHeaders(r *Request, h []HeaderField) {
	for _, field := range h {
		if _, ok := r.Header(field.Name); !ok {
			r.SetHeader(field.Name, field.Value)
		}
	}
}

// HKPMode selects the X-Apple-HKP header value for pair-setup/pair-verify
// requests: 3 for persistent pairing, 4 for transient.
type HKPMode int

const (
	HKPPersistent HKPMode = 3
	HKPTransient  HKPMode = 4
)

// SetHKP attaches the X-Apple-HKP header for a pairing-path request.
func (r *Request) SetHKP(mode HKPMode) {
	r.SetHeader("X-Apple-HKP", strconv.Itoa(int(mode)))
}

// Response is a fully decoded RTSP response.
type Response struct {
	StatusCode int
	Reason     string
	Headers    []HeaderField
	Body       []byte
}

// Header returns the value of the named header (case-insensitive lookup).
func (resp *Response) Header(name string) (string, bool) {
	for _, h := range resp.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

// CSeq parses and returns the response's CSeq header.
func (resp *Response) CSeq() (int, bool) {
	v, ok := resp.Header("CSeq")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Decoder buffers arbitrary byte chunks and emits complete Response values
// once the Content-Length declared in the header block has arrived. It is
// not safe for concurrent use; callers serialize Feed calls on one reader
// goroutine.
type Decoder struct {
	buf []byte
}

// NewDecoder returns a streaming RTSP response decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Feed appends chunk to the decoder's buffer. Call Next after each Feed to
// check whether a complete response is now available.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next attempts to decode one complete response from the buffered bytes.
// It returns apperr.ErrNotReady if the header block or body are not yet
// fully buffered; the caller should Feed more data and retry. On success
// the consumed bytes are removed from the internal buffer so a subsequent
// call can decode a second pipelined response.
func (d *Decoder) Next() (*Response, error) {
	headerEnd := findHeaderEnd(d.buf)
	if headerEnd < 0 {
		if len(d.buf) > maxHeaderBlock {
			return nil, apperr.ErrHeadersTooLong
		}
		return nil, apperr.ErrNotReady
	}

	resp, contentLength, err := parseStatusAndHeaders(d.buf[:headerEnd])
	if err != nil {
		return nil, err
	}

	bodyStart := headerEnd
	bodyEnd := bodyStart + contentLength
	if len(d.buf) < bodyEnd {
		return nil, apperr.ErrNotReady
	}

	resp.Body = append([]byte(nil), d.buf[bodyStart:bodyEnd]...)
	d.buf = append([]byte(nil), d.buf[bodyEnd:]...)
	return resp, nil
}

// findHeaderEnd returns the index just past the header-terminating blank
// line ("\r\n\r\n" or "\n\n"), or -1 if not yet present.
func findHeaderEnd(buf []byte) int {
	if i := strings.Index(string(buf), "\r\n\r\n"); i >= 0 {
		return i + 4
	}
	if i := strings.Index(string(buf), "\n\n"); i >= 0 {
		return i + 2
	}
	return -1
}

func parseStatusAndHeaders(block []byte) (*Response, int, error) {
	scanner := bufio.NewScanner(strings.NewReader(string(block)))
	scanner.Buffer(make([]byte, maxHeaderBlock), maxHeaderBlock)

	if !scanner.Scan() {
		return nil, 0, fmt.Errorf("%w: missing status line", apperr.ErrInvalidObjectMarker)
	}
	statusLine := strings.TrimRight(scanner.Text(), "\r")
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return nil, 0, fmt.Errorf("malformed status line: %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, 0, fmt.Errorf("malformed status code %q: %w", parts[1], err)
	}
	reason := ""
	if len(parts) == 3 {
		reason = parts[2]
	}

	resp := &Response{StatusCode: code, Reason: reason}
	contentLength := 0

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		resp.Headers = append(resp.Headers, HeaderField{Name: name, Value: value})
		if strings.EqualFold(name, "Content-Length") {
			if n, err := strconv.Atoi(value); err == nil {
				contentLength = n
			}
		}
	}

	return resp, contentLength, nil
}
