package pairing

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SessionKeys are the derived ChaCha20-Poly1305 keys for the secure
// channel plus the raw shared secret surfaced to the RTP sender
// (spec.md §4.2 Key derivation).
type SessionKeys struct {
	EncryptKey   [32]byte
	DecryptKey   [32]byte
	SharedSecret []byte // raw K, retained as the audio session key
}

// DeriveSessionKeys derives the control-channel encrypt/decrypt keys from
// a 32-(or more)-byte shared secret via HKDF-SHA512 with the fixed info
// strings the handshake specifies.
func DeriveSessionKeys(sharedSecret []byte) (SessionKeys, error) {
	encrypt, err := hkdfExpand(sharedSecret, "Control-Write-Encryption-Key")
	if err != nil {
		return SessionKeys{}, err
	}
	decrypt, err := hkdfExpand(sharedSecret, "Control-Read-Encryption-Key")
	if err != nil {
		return SessionKeys{}, err
	}

	var keys SessionKeys
	copy(keys.EncryptKey[:], encrypt)
	copy(keys.DecryptKey[:], decrypt)
	keys.SharedSecret = append([]byte(nil), sharedSecret...)
	return keys, nil
}

// DeriveSubTLVKey derives the key used to encrypt the M5/M6 sub-TLV
// payloads, salted with the SRP-pairing-specific HKDF salt/info pair.
func DeriveSubTLVKey(sharedSecret []byte, salt, info string) ([]byte, error) {
	r := hkdf.New(sha512.New, sharedSecret, []byte(salt), []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

func hkdfExpand(secret []byte, info string) ([]byte, error) {
	r := hkdf.New(sha512.New, secret, nil, []byte(info))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}
