package plist

import "testing"

func TestEncodeDeduplicatesRepeatedPrimitives(t *testing.T) {
	shared := String("repeated-value")
	original := Array(shared, shared, Int(7), Int(7))

	e := &encoder{cache: make(map[objectKey]int)}
	rootIdx, err := e.encodeValue(original)
	if err != nil {
		t.Fatalf("encodeValue: %v", err)
	}
	_ = rootIdx

	// Two equal strings and two equal ints should collapse to two distinct
	// object slots (one per distinct value), not four.
	if len(e.offsets) != 3 { // array body + 1 string + 1 int
		t.Fatalf("len(offsets) = %d, want 3 (array, string, int deduped)", len(e.offsets))
	}
}

func TestEncodeSortsDictionaryKeys(t *testing.T) {
	v := Dict(map[string]Value{
		"zebra": Int(1),
		"alpha": Int(2),
		"mid":   Int(3),
	})
	encoded, err := Encode(v)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	m, ok := decoded.AsDict()
	if !ok || len(m) != 3 {
		t.Fatalf("decoded dict = %v, %v", m, ok)
	}
	if v, _ := m["alpha"].AsInt64(); v != 2 {
		t.Errorf("alpha = %d, want 2", v)
	}
}

func TestEncodeASCIIVsUTF16Tag(t *testing.T) {
	ascii, err := Encode(String("plain"))
	if err != nil {
		t.Fatalf("Encode ascii: %v", err)
	}
	// marker byte for an ascii string of length 5 lives right after the
	// 8-byte magic header: (0x5 << 4) | 5 = 0x55.
	if ascii[8] != 0x55 {
		t.Errorf("ascii marker = 0x%02x, want 0x55", ascii[8])
	}

	wide, err := Encode(String("café"))
	if err != nil {
		t.Fatalf("Encode utf16: %v", err)
	}
	if wide[8]>>4 != 0x6 {
		t.Errorf("utf16 marker high nibble = 0x%x, want 0x6", wide[8]>>4)
	}
}

func TestEncodeNegativeIntegerUsesEightBytes(t *testing.T) {
	encoded, err := Encode(Int(-1))
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if encoded[8] != 0x13 {
		t.Errorf("marker = 0x%02x, want 0x13 (8-byte signed integer)", encoded[8])
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if i, ok := decoded.AsInt64(); !ok || i != -1 {
		t.Errorf("decoded = %d, %v; want -1, true", i, ok)
	}
}
