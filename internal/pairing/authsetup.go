package pairing

import "crypto/rand"

// authSetupVersion is the single version byte the MFi auth-setup prelude
// POST carries ahead of the 32-byte public component (spec.md §4.2
// Auth-Setup prelude).
const authSetupVersion = 0x01

// BuildAuthSetupRequest returns the octet-stream body for a POST to
// /auth-setup: a version byte followed by a fresh 32-byte public
// component. The response is accepted as long as it is well-formed; this
// core does not validate it cryptographically (spec.md §4.2).
func BuildAuthSetupRequest() ([]byte, error) {
	pub := make([]byte, 32)
	if _, err := rand.Read(pub); err != nil {
		return nil, err
	}
	body := make([]byte, 0, 33)
	body = append(body, authSetupVersion)
	body = append(body, pub...)
	return body, nil
}

// ValidAuthSetupResponse reports whether resp looks like a well-formed
// auth-setup response (non-empty, at least a public-component-sized
// payload). No cryptographic validation is performed.
func ValidAuthSetupResponse(resp []byte) bool {
	return len(resp) >= 32
}
