package pairing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

// PairingIdentity is the persisted record a completed pair-setup produces,
// used on subsequent connections to skip straight to pair-verify
// (spec.md §3 PairingIdentity, §4.2 policy step 2).
type PairingIdentity struct {
	Identifier      string
	SecretKey       ed25519.PrivateKey // 64 bytes
	PublicKey       ed25519.PublicKey  // 32 bytes
	DevicePublicKey ed25519.PublicKey  // peer's Ed25519 public key
}

// VerifySession drives a pair-verify exchange: a fresh Curve25519 ECDH
// keypair authenticated by the identity's long-lived Ed25519 keys.
type VerifySession struct {
	identity PairingIdentity

	ecdhPrivate [32]byte
	ecdhPublic  [32]byte

	sharedSecret []byte
}

// NewVerifySession generates the session's ephemeral Curve25519 keypair.
func NewVerifySession(identity PairingIdentity) (*VerifySession, error) {
	v := &VerifySession{identity: identity}
	if _, err := rand.Read(v.ecdhPrivate[:]); err != nil {
		return nil, fmt.Errorf("generating curve25519 private key: %w", err)
	}
	curve25519.ScalarBaseMult(&v.ecdhPublic, &v.ecdhPrivate)
	return v, nil
}

// PublicKey returns the session's ephemeral Curve25519 public key, sent in
// the pair-verify M1 message.
func (v *VerifySession) PublicKey() []byte {
	return v.ecdhPublic[:]
}

// ComputeSharedSecret performs ECDH against the device's ephemeral public
// key (received in M2) and stores the raw shared secret.
func (v *VerifySession) ComputeSharedSecret(devicePublicKey []byte) error {
	var peer [32]byte
	if len(devicePublicKey) != 32 {
		return fmt.Errorf("pairing: device curve25519 key must be 32 bytes, got %d", len(devicePublicKey))
	}
	copy(peer[:], devicePublicKey)

	shared, err := curve25519.X25519(v.ecdhPrivate[:], peer[:])
	if err != nil {
		return fmt.Errorf("computing curve25519 shared secret: %w", err)
	}
	v.sharedSecret = shared
	return nil
}

// SharedSecret returns the raw ECDH output, fed into DeriveSessionKeys.
func (v *VerifySession) SharedSecret() []byte {
	return v.sharedSecret
}

// SignTranscript signs info = ourPublic | identifier | devicePublic with
// the identity's long-lived Ed25519 key, authenticating the fresh ECDH
// exchange (HAP pair-verify M3).
func (v *VerifySession) SignTranscript(devicePublicKey []byte) []byte {
	info := make([]byte, 0, 32+len(v.identity.Identifier)+32)
	info = append(info, v.ecdhPublic[:]...)
	info = append(info, v.identity.Identifier...)
	info = append(info, devicePublicKey...)
	return ed25519.Sign(v.identity.SecretKey, info)
}

// VerifyDeviceSignature checks the device's M2 signature over
// devicePublic | deviceIdentifier | ourPublic.
func VerifyDeviceSignature(devicePublicKeyEd ed25519.PublicKey, deviceCurvePublicKey []byte, deviceIdentifier string, ourCurvePublicKey []byte, signature []byte) bool {
	info := make([]byte, 0, len(deviceCurvePublicKey)+len(deviceIdentifier)+len(ourCurvePublicKey))
	info = append(info, deviceCurvePublicKey...)
	info = append(info, deviceIdentifier...)
	info = append(info, ourCurvePublicKey...)
	return ed25519.Verify(devicePublicKeyEd, info, signature)
}

// GenerateIdentityKeypair creates a fresh long-lived Ed25519 keypair for a
// new PairingIdentity (used the first time full SRP pair-setup succeeds).
func GenerateIdentityKeypair() (pub ed25519.PublicKey, priv ed25519.PrivateKey, err error) {
	return ed25519.GenerateKey(rand.Reader)
}
