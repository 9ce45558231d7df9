package session

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/airtap-go/airplay2/internal/apperr"
	"github.com/airtap-go/airplay2/internal/pairing"
	"github.com/airtap-go/airplay2/internal/rtsp"
)

// connReadBufferSize is the chunk size read off the TCP socket per loop
// iteration while waiting for a complete RTSP response.
const connReadBufferSize = 4096

// Connection owns one TCP stream to a device and the RTSP request/response
// cycle running over it (spec.md §3 Connection). Requests are strictly
// serialized: the stream is held across one full write+read cycle, which
// is what makes CSeq matching unambiguous (spec.md §5 "Ordering
// guarantees").
type Connection struct {
	netConn net.Conn
	cseq    int

	secure  *pairing.SecureChannel
	pending []byte // decrypted-but-not-yet-decoded remainder from DecryptBlock
	decoder *rtsp.Decoder

	activeRemote string
	clientName   string
	sessionID    string
	dacpID       string
}

// DialConnection opens a TCP connection to addr (host:port).
func DialConnection(ctx context.Context, addr string) (*Connection, error) {
	var d net.Dialer
	netConn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConnectionFailed, "dialing "+addr, true, err)
	}
	return &Connection{
		netConn: netConn,
		decoder: rtsp.NewDecoder(),
	}, nil
}

// SetIdentifiers sets the Apple client headers attached to every request
// beyond CSeq (spec.md §4.4).
func (c *Connection) SetIdentifiers(activeRemote, clientName, sessionID, dacpID string) {
	c.activeRemote = activeRemote
	c.clientName = clientName
	c.sessionID = sessionID
	c.dacpID = dacpID
}

// InstallSecureChannel wraps all subsequent traffic on this connection in
// the framed AEAD cipher (spec.md §4.2 "once installed it wraps the TCP
// stream in both directions"). Any bytes already buffered from a read that
// happened before installation are left alone: the handshake's last
// response is always read and parsed before this is called.
func (c *Connection) InstallSecureChannel(keys pairing.SessionKeys) error {
	sc, err := pairing.NewSecureChannel(keys)
	if err != nil {
		return err
	}
	c.secure = sc
	return nil
}

// NewRequest builds a request with the next monotonic CSeq and the
// session's standard Apple headers attached (spec.md §8 Testable Property
// 4: CSeq values strictly increase from 1).
func (c *Connection) NewRequest(method, uri string) *rtsp.Request {
	c.cseq++
	req := rtsp.NewRequest(method, uri, c.cseq)
	rtsp.ApplySessionHeaders(req, rtsp.SessionHeaders(c.activeRemote, c.clientName, c.sessionID, c.dacpID))
	return req
}

// Do serializes req onto the stream and blocks for its matching response.
// The caller owns serialization across goroutines; Session.Do calls this
// only from the connect/keep-alive/control path, never concurrently.
func (c *Connection) Do(ctx context.Context, req *rtsp.Request) (*rtsp.Response, error) {
	if deadline, ok := ctx.Deadline(); ok {
		c.netConn.SetDeadline(deadline)
	} else {
		c.netConn.SetDeadline(time.Time{})
	}
	defer c.netConn.SetDeadline(time.Time{})

	if err := c.write(req.Marshal()); err != nil {
		return nil, apperr.Wrap(apperr.KindNetworkError, "writing request", true, err)
	}

	resp, err := c.readResponse()
	if err != nil {
		return nil, err
	}

	if cseq, ok := resp.CSeq(); ok && cseq != c.cseq {
		return nil, apperr.New(apperr.KindUnexpectedResponse, fmt.Sprintf("CSeq mismatch: sent %d, got %d", c.cseq, cseq), false)
	}
	return resp, nil
}

// write sends data, encrypting first if a secure channel is installed.
func (c *Connection) write(data []byte) error {
	if c.secure != nil {
		data = c.secure.Encrypt(data)
	}
	_, err := c.netConn.Write(data)
	return err
}

// readResponse reads from the socket until one complete RTSP response is
// decoded, running bytes through the secure channel first when installed.
func (c *Connection) readResponse() (*rtsp.Response, error) {
	buf := make([]byte, connReadBufferSize)
	for {
		if resp, err := c.decoder.Next(); err == nil {
			return resp, nil
		} else if err != apperr.ErrNotReady {
			return nil, apperr.Wrap(apperr.KindRtspError, "decoding response", false, err)
		}

		n, err := c.netConn.Read(buf)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindNetworkError, "reading response", true, err)
		}
		if err := c.feed(buf[:n]); err != nil {
			return nil, err
		}
	}
}

// feed pushes newly-read raw bytes into the decoder, decrypting first if a
// secure channel is active.
func (c *Connection) feed(raw []byte) error {
	if c.secure == nil {
		c.decoder.Feed(raw)
		return nil
	}

	c.pending = append(c.pending, raw...)
	for {
		plaintext, remainder, err := c.secure.DecryptBlock(c.pending)
		if err == apperr.ErrNotReady {
			c.pending = remainder
			return nil
		}
		if err != nil {
			return apperr.Wrap(apperr.KindAuthenticationFail, "secure channel frame rejected", false, err)
		}
		c.decoder.Feed(plaintext)
		c.pending = remainder
	}
}

// Transport adapts this connection into a pairing.Transport: a POST of
// body to path, returning the response body.
func (c *Connection) Transport(ctx context.Context, path string, body []byte) ([]byte, error) {
	req := c.NewRequest("POST", path)
	req.SetBody("application/octet-stream", body)
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != 200 {
		return nil, apperr.WithStatus(fmt.Sprintf("pairing request to %s rejected", path), resp.StatusCode)
	}
	return resp.Body, nil
}

// Close releases the underlying TCP connection.
func (c *Connection) Close() error {
	return c.netConn.Close()
}
