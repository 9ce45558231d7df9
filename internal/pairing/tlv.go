// Package pairing implements the HAP-style pair-setup (SRP-6a) and
// pair-verify (Curve25519 + Ed25519) handshakes and the ChaCha20-Poly1305
// secure channel they establish (spec.md §4.2).
package pairing

// TLV8 type tags used across pair-setup and pair-verify messages.
const (
	TLVMethod    byte = 0x00
	TLVIdentifier byte = 0x01
	TLVSalt      byte = 0x02
	TLVPublicKey byte = 0x03
	TLVProof     byte = 0x04
	TLVEncryptedData byte = 0x05
	TLVState     byte = 0x06
	TLVError     byte = 0x07
	TLVSignature byte = 0x0A
	TLVFlags     byte = 0x13
)

// PairingState values for the TLVState field.
const (
	StateM1 byte = 1
	StateM2 byte = 2
	StateM3 byte = 3
	StateM4 byte = 4
	StateM5 byte = 5
	StateM6 byte = 6
)

// EncodeTLV8 serializes an ordered sequence of type/value pairs. Values
// longer than 255 bytes are split into consecutive chunks of the same
// type per the TLV8 convention HAP uses.
func EncodeTLV8(pairs ...TLVPair) []byte {
	var out []byte
	for _, p := range pairs {
		v := p.Value
		if len(v) == 0 {
			out = append(out, p.Type, 0)
			continue
		}
		for len(v) > 0 {
			n := len(v)
			if n > 255 {
				n = 255
			}
			out = append(out, p.Type, byte(n))
			out = append(out, v[:n]...)
			v = v[n:]
		}
	}
	return out
}

// TLVPair is one logical (type, value) entry before length-splitting.
type TLVPair struct {
	Type  byte
	Value []byte
}

// DecodeTLV8 parses a TLV8 byte stream into a map from type to the
// concatenated value (re-joining any 255-byte chunk sequences of the same
// type emitted back-to-back).
func DecodeTLV8(data []byte) map[byte][]byte {
	out := make(map[byte][]byte)
	i := 0
	var lastType byte
	lastLen := -1
	for i+2 <= len(data) {
		t := data[i]
		l := int(data[i+1])
		i += 2
		if i+l > len(data) {
			break
		}
		v := data[i : i+l]
		i += l

		if lastLen == 255 && t == lastType {
			out[t] = append(out[t], v...)
		} else {
			out[t] = append([]byte(nil), v...)
		}
		lastType = t
		lastLen = l
	}
	return out
}
