package pairing

import (
	"crypto/cipher"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/airtap-go/airplay2/internal/apperr"
)

// maxPlaintextChunk bounds a single secure-channel frame's plaintext
// payload; larger writes are split into consecutive frames
// (spec.md §4.2 Framed secure channel).
const maxPlaintextChunk = 1024

// SecureChannel wraps a TCP stream in the HAP framing: each direction
// keeps an independent monotonic counter folded into a 12-byte
// ChaCha20-Poly1305 nonce, never reset for the lifetime of the channel.
type SecureChannel struct {
	encryptAEAD cipher.AEAD
	decryptAEAD cipher.AEAD

	encryptCount uint64
	decryptCount uint64
}

// NewSecureChannel constructs a channel from the session's encrypt/decrypt
// keys (see DeriveSessionKeys).
func NewSecureChannel(keys SessionKeys) (*SecureChannel, error) {
	enc, err := chacha20poly1305.New(keys.EncryptKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing encrypt AEAD: %w", err)
	}
	dec, err := chacha20poly1305.New(keys.DecryptKey[:])
	if err != nil {
		return nil, fmt.Errorf("constructing decrypt AEAD: %w", err)
	}
	return &SecureChannel{encryptAEAD: enc, decryptAEAD: dec}, nil
}

func frameNonce(counter uint64) []byte {
	nonce := make([]byte, 12)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Encrypt splits plaintext into ≤1024-byte chunks and frames each as
// <2-byte LE length><ciphertext><16-byte tag>, with the length bytes as
// the frame's associated data.
func (s *SecureChannel) Encrypt(plaintext []byte) []byte {
	var out []byte
	for len(plaintext) > 0 {
		n := len(plaintext)
		if n > maxPlaintextChunk {
			n = maxPlaintextChunk
		}
		chunk := plaintext[:n]
		plaintext = plaintext[n:]

		var lengthField [2]byte
		binary.LittleEndian.PutUint16(lengthField[:], uint16(n))

		nonce := frameNonce(s.encryptCount)
		s.encryptCount++

		sealed := s.encryptAEAD.Seal(nil, nonce, chunk, lengthField[:])
		out = append(out, lengthField[:]...)
		out = append(out, sealed...)
	}
	return out
}

// DecryptBlock decodes one frame from the front of data, returning the
// decrypted plaintext and the unconsumed remainder. It returns
// apperr.ErrNotReady if a complete frame is not yet present.
func (s *SecureChannel) DecryptBlock(data []byte) (plaintext, remainder []byte, err error) {
	const tagSize = 16
	if len(data) < 2+tagSize {
		return nil, data, apperr.ErrNotReady
	}
	length := int(binary.LittleEndian.Uint16(data[:2]))
	frameLen := 2 + length + tagSize
	if len(data) < frameLen {
		return nil, data, apperr.ErrNotReady
	}

	nonce := frameNonce(s.decryptCount)
	s.decryptCount++

	plaintext, err = s.decryptAEAD.Open(nil, nonce, data[2:frameLen], data[:2])
	if err != nil {
		return nil, data, apperr.Wrap(apperr.KindAuthenticationFail, "secure channel tag verification failed", false, err)
	}
	return plaintext, data[frameLen:], nil
}
