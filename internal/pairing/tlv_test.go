package pairing

import (
	"bytes"
	"testing"
)

func TestTLV8RoundTrip(t *testing.T) {
	encoded := EncodeTLV8(
		TLVPair{Type: TLVState, Value: []byte{StateM1}},
		TLVPair{Type: TLVMethod, Value: []byte{0x00}},
		TLVPair{Type: TLVIdentifier, Value: []byte("airtap-sender")},
	)

	decoded := DecodeTLV8(encoded)
	if !bytes.Equal(decoded[TLVState], []byte{StateM1}) {
		t.Errorf("state = %v", decoded[TLVState])
	}
	if !bytes.Equal(decoded[TLVIdentifier], []byte("airtap-sender")) {
		t.Errorf("identifier = %q", decoded[TLVIdentifier])
	}
}

func TestTLV8SplitsLongValues(t *testing.T) {
	long := bytes.Repeat([]byte{0xAB}, 600)
	encoded := EncodeTLV8(TLVPair{Type: TLVEncryptedData, Value: long})

	// 600 bytes splits into 255 + 255 + 90, so three (type, len) headers.
	count := 0
	for i := 0; i+2 <= len(encoded); {
		l := int(encoded[i+1])
		i += 2 + l
		count++
	}
	if count != 3 {
		t.Fatalf("fragment count = %d, want 3", count)
	}

	decoded := DecodeTLV8(encoded)
	if !bytes.Equal(decoded[TLVEncryptedData], long) {
		t.Errorf("rejoined value length = %d, want %d", len(decoded[TLVEncryptedData]), len(long))
	}
}

func TestTLV8EmptyValue(t *testing.T) {
	encoded := EncodeTLV8(TLVPair{Type: TLVMethod, Value: nil})
	if len(encoded) != 2 {
		t.Fatalf("len(encoded) = %d, want 2 (type+zero-length)", len(encoded))
	}
	decoded := DecodeTLV8(encoded)
	if len(decoded[TLVMethod]) != 0 {
		t.Errorf("decoded value = %v, want empty", decoded[TLVMethod])
	}
}
