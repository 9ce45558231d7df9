// Package apperr defines the typed error taxonomy surfaced to callers of
// the airplay2 client, matching the error kinds a connection's lifecycle
// can produce (discovery, connect, auth, RTSP, RTP, state).
package apperr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a Error.
type Kind string

const (
	KindDeviceNotFound     Kind = "device_not_found"
	KindDiscoveryFailed    Kind = "discovery_failed"
	KindConnectionFailed   Kind = "connection_failed"
	KindConnectionTimeout  Kind = "connection_timeout"
	KindDisconnected       Kind = "disconnected"
	KindNetworkError       Kind = "network_error"
	KindAuthenticationFail Kind = "authentication_failed"
	KindPairingRequired    Kind = "pairing_required"
	KindPairingInvalid     Kind = "pairing_invalid"
	KindRtspError          Kind = "rtsp_error"
	KindUnexpectedResponse Kind = "unexpected_response"
	KindCodecError         Kind = "codec_error"
	KindRtpError           Kind = "rtp_error"
	KindInvalidState       Kind = "invalid_state"
	KindInvalidParameter   Kind = "invalid_parameter"
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindSeekOutOfRange     Kind = "seek_out_of_range"
	KindInternal           Kind = "internal_error"
)

// Error is the typed error returned across the connection lifecycle. It
// carries whether the condition is Recoverable (the caller can retry the
// same operation without a fresh connect()) and, for RTSP failures, the
// HTTP-style status code.
type Error struct {
	Kind        Kind
	Message     string
	Recoverable bool
	StatusCode  int
	Err         error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Kind, e.Message, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, apperr.New(KindX, "", false)) style kind checks
// when the sentinel carries only a Kind (Message/Err are ignored).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an Error of the given kind.
func New(kind Kind, message string, recoverable bool) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: recoverable}
}

// Wrap builds an Error of the given kind around an underlying cause.
func Wrap(kind Kind, message string, recoverable bool, err error) *Error {
	return &Error{Kind: kind, Message: message, Recoverable: recoverable, Err: err}
}

// WithStatus attaches an RTSP status code to a KindRtspError.
func WithStatus(message string, statusCode int) *Error {
	return &Error{Kind: KindRtspError, Message: message, StatusCode: statusCode}
}

// KindOf extracts the Kind from err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Recoverable reports whether err is an *Error marked recoverable. A nil or
// non-apperr error is reported as not recoverable.
func Recoverable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Recoverable
	}
	return false
}

// Sentinel errors for simple invariant violations that do not need Kind
// bookkeeping (pattern: internal/flow/engine.go in the sibling PBX server).
var (
	ErrCircularReference   = errors.New("plist: circular object reference")
	ErrInvalidMagic        = errors.New("plist: invalid magic")
	ErrBufferTooSmall      = errors.New("plist: buffer too small")
	ErrInvalidObjectMarker = errors.New("plist: invalid object marker")
	ErrInvalidOffset       = errors.New("plist: invalid offset")
	ErrInvalidUTF8         = errors.New("plist: invalid utf-8")
	ErrIntegerOverflow     = errors.New("plist: integer overflow")

	ErrNotReady       = errors.New("rtsp: response not fully buffered yet")
	ErrHeadersTooLong = errors.New("rtsp: header block exceeds limit")

	ErrRingBufferClosed = errors.New("audio: ring buffer closed")
)
