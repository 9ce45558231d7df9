package rtsp

import (
	"errors"
	"strings"
	"testing"

	"github.com/airtap-go/airplay2/internal/apperr"
)

func TestRequestMarshalIncludesMandatoryHeaders(t *testing.T) {
	req := NewRequest("OPTIONS", "*", 1)
	ApplySessionHeaders(req, SessionHeaders("1234", "airtap", "sess-1", "dacp-1"))

	out := string(req.Marshal())
	for _, want := range []string{
		"OPTIONS * RTSP/1.0\r\n",
		"CSeq: 1\r\n",
		"Active-Remote: 1234\r\n",
		"X-Apple-Session-ID: sess-1\r\n",
		"DACP-ID: dacp-1\r\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSetHeaderReplacesCaseInsensitively(t *testing.T) {
	req := NewRequest("GET_PARAMETER", "rtsp://host/1", 2)
	req.SetHeader("content-type", "text/parameters")
	req.SetHeader("Content-Type", "application/x-apple-binary-plist")

	v, ok := req.Header("CONTENT-TYPE")
	if !ok || v != "application/x-apple-binary-plist" {
		t.Fatalf("Header = %q, %v", v, ok)
	}
	if len(req.Headers) != 2 { // CSeq + Content-Type, not duplicated
		t.Fatalf("len(Headers) = %d, want 2", len(req.Headers))
	}
}

func TestSetBodySetsContentHeaders(t *testing.T) {
	req := NewRequest("ANNOUNCE", "rtsp://host/1", 3)
	req.SetBody("application/sdp", []byte("v=0\r\n"))

	if v, _ := req.Header("Content-Length"); v != "5" {
		t.Errorf("Content-Length = %q, want 5", v)
	}
	if v, _ := req.Header("Content-Type"); v != "application/sdp" {
		t.Errorf("Content-Type = %q", v)
	}
}

func TestDecoderWaitsForFullContentLength(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\nContent-Length: 5\r\n\r\nhel"))

	if _, err := d.Next(); !errors.Is(err, apperr.ErrNotReady) {
		t.Fatalf("err = %v, want ErrNotReady", err)
	}

	d.Feed([]byte("lo"))
	resp, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if string(resp.Body) != "hello" {
		t.Errorf("Body = %q, want hello", resp.Body)
	}
	cseq, ok := resp.CSeq()
	if !ok || cseq != 1 {
		t.Errorf("CSeq() = %d, %v", cseq, ok)
	}
}

func TestDecoderHandlesZeroLengthBody(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("RTSP/1.0 453 Not Enough Bandwidth\r\nCSeq: 7\r\n\r\n"))

	resp, err := d.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if resp.StatusCode != 453 || resp.Reason != "Not Enough Bandwidth" {
		t.Errorf("resp = %+v", resp)
	}
	if len(resp.Body) != 0 {
		t.Errorf("Body = %q, want empty", resp.Body)
	}
}

func TestDecoderPipelinesMultipleResponses(t *testing.T) {
	d := NewDecoder()
	d.Feed([]byte("RTSP/1.0 200 OK\r\nCSeq: 1\r\n\r\nRTSP/1.0 200 OK\r\nCSeq: 2\r\n\r\n"))

	first, err := d.Next()
	if err != nil {
		t.Fatalf("Next (first): %v", err)
	}
	if c, _ := first.CSeq(); c != 1 {
		t.Errorf("first CSeq = %d", c)
	}

	second, err := d.Next()
	if err != nil {
		t.Fatalf("Next (second): %v", err)
	}
	if c, _ := second.CSeq(); c != 2 {
		t.Errorf("second CSeq = %d", c)
	}
}

func TestDecoderRejectsOversizedHeaderBlock(t *testing.T) {
	d := NewDecoder()
	huge := make([]byte, maxHeaderBlock+100)
	for i := range huge {
		huge[i] = 'x'
	}
	d.Feed([]byte("RTSP/1.0 200 OK\r\n"))
	d.Feed(huge)

	if _, err := d.Next(); !errors.Is(err, apperr.ErrHeadersTooLong) {
		t.Fatalf("err = %v, want ErrHeadersTooLong", err)
	}
}
