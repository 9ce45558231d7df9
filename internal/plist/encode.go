package plist

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"unicode/utf16"
)

// refSize is the width of object references within the encoded document.
// Fixed to 2 bytes, capping a single document at 65535 objects, matching
// the reference encoder this package is grounded on.
const refSize = 2

const maxObjects = 65535

// objectKey caches primitive objects so repeated values (a dictionary key
// used twice, a duplicated string constant) are written once.
type objectKey struct {
	kind Kind
	str  string
	u64  uint64
}

// Encode serializes v as a bplist00 document.
func Encode(v Value) ([]byte, error) {
	e := &encoder{cache: make(map[objectKey]int)}
	rootIndex, err := e.encodeValue(v)
	if err != nil {
		return nil, err
	}
	if len(e.offsets) > maxObjects {
		return nil, fmt.Errorf("plist: too many objects: %d", len(e.offsets))
	}

	out := make([]byte, 0, len(e.objects)+64)
	out = append(out, magic...)

	objectsStart := len(out)
	out = append(out, e.objects...)

	offsetTableOffset := len(out)
	maxAbsOffset := objectsStart + len(e.objects)
	offsetSize := calculateOffsetSize(maxAbsOffset)

	for _, off := range e.offsets {
		writeSizedInt(&out, uint64(objectsStart)+off, offsetSize)
	}

	writeTrailer(&out, offsetSize, refSize, len(e.offsets), rootIndex, offsetTableOffset)
	return out, nil
}

type encoder struct {
	objects []byte
	offsets []uint64
	cache   map[objectKey]int
}

func cacheKeyFor(v Value) (objectKey, bool) {
	switch v.Kind {
	case KindString:
		return objectKey{kind: KindString, str: v.Str}, true
	case KindData:
		return objectKey{kind: KindData, str: string(v.Data)}, true
	case KindInt:
		return objectKey{kind: KindInt, u64: uint64(v.Int)}, true
	case KindUint:
		return objectKey{kind: KindUint, u64: v.Uint}, true
	case KindReal:
		return objectKey{kind: KindReal, u64: math.Float64bits(v.Real)}, true
	case KindDate:
		return objectKey{kind: KindDate, u64: math.Float64bits(v.Date)}, true
	case KindUid:
		return objectKey{kind: KindUid, u64: v.Uid}, true
	default:
		return objectKey{}, false
	}
}

func (e *encoder) encodeValue(v Value) (int, error) {
	if key, ok := cacheKeyFor(v); ok {
		if idx, ok := e.cache[key]; ok {
			return idx, nil
		}
	}

	var body []byte
	isContainer := true

	switch v.Kind {
	case KindArray:
		refs := make([]int, len(v.Array))
		for i, item := range v.Array {
			idx, err := e.encodeValue(item)
			if err != nil {
				return 0, err
			}
			refs[i] = idx
		}
		body = createArrayBody(refs)
	case KindDict:
		keys := make([]string, 0, len(v.Dict))
		for k := range v.Dict {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		keyRefs := make([]int, len(keys))
		valRefs := make([]int, len(keys))
		for i, k := range keys {
			kIdx, err := e.encodeValue(String(k))
			if err != nil {
				return 0, err
			}
			vIdx, err := e.encodeValue(v.Dict[k])
			if err != nil {
				return 0, err
			}
			keyRefs[i] = kIdx
			valRefs[i] = vIdx
		}
		body = createDictBody(keyRefs, valRefs)
	default:
		isContainer = false
	}

	offset := uint64(len(e.objects))
	e.offsets = append(e.offsets, offset)
	index := len(e.offsets) - 1

	if isContainer {
		e.objects = append(e.objects, body...)
	} else {
		e.encodePrimitive(v)
	}

	if key, ok := cacheKeyFor(v); ok {
		e.cache[key] = index
	}
	return index, nil
}

func (e *encoder) encodePrimitive(v Value) {
	switch v.Kind {
	case KindBool:
		if v.Bool {
			e.objects = append(e.objects, 0x09)
		} else {
			e.objects = append(e.objects, 0x08)
		}
	case KindInt:
		e.encodeInteger(v.Int)
	case KindUint:
		e.objects = append(e.objects, 0x13)
		e.objects = appendUint64(e.objects, v.Uint)
	case KindReal:
		e.objects = append(e.objects, 0x23)
		e.objects = appendUint64(e.objects, math.Float64bits(v.Real))
	case KindDate:
		e.objects = append(e.objects, 0x33)
		e.objects = appendUint64(e.objects, math.Float64bits(v.Date))
	case KindString:
		e.encodeString(v.Str)
	case KindData:
		writeHeader(&e.objects, 0x4, len(v.Data))
		e.objects = append(e.objects, v.Data...)
	case KindUid:
		e.encodeUID(v.Uid)
	}
}

func (e *encoder) encodeInteger(value int64) {
	switch {
	case value >= 0 && value <= 127:
		e.objects = append(e.objects, 0x10, byte(value))
	case value >= 0 && value <= 32767:
		e.objects = append(e.objects, 0x11)
		e.objects = appendUint16(e.objects, uint16(value))
	case value >= 0 && value <= 2147483647:
		e.objects = append(e.objects, 0x12)
		e.objects = appendUint32(e.objects, uint32(value))
	default:
		e.objects = append(e.objects, 0x13)
		e.objects = appendUint64(e.objects, uint64(value))
	}
}

func (e *encoder) encodeString(s string) {
	if isASCII(s) {
		writeHeader(&e.objects, 0x5, len(s))
		e.objects = append(e.objects, s...)
		return
	}
	units := utf16.Encode([]rune(s))
	writeHeader(&e.objects, 0x6, len(units))
	for _, u := range units {
		e.objects = appendUint16(e.objects, u)
	}
}

func (e *encoder) encodeUID(value uint64) {
	n := uidByteLen(value)
	marker := byte(0x80 | (n - 1))
	e.objects = append(e.objects, marker)
	switch n {
	case 1:
		e.objects = append(e.objects, byte(value))
	case 2:
		e.objects = appendUint16(e.objects, uint16(value))
	case 4:
		e.objects = appendUint32(e.objects, uint32(value))
	case 8:
		e.objects = appendUint64(e.objects, value)
	}
}

func uidByteLen(value uint64) int {
	switch {
	case value <= 0xFF:
		return 1
	case value <= 0xFFFF:
		return 2
	case value <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

func createArrayBody(refs []int) []byte {
	var body []byte
	writeHeader(&body, 0xA, len(refs))
	for _, r := range refs {
		writeRef(&body, r)
	}
	return body
}

func createDictBody(keyRefs, valRefs []int) []byte {
	var body []byte
	writeHeader(&body, 0xD, len(keyRefs))
	for _, r := range keyRefs {
		writeRef(&body, r)
	}
	for _, r := range valRefs {
		writeRef(&body, r)
	}
	return body
}

func writeHeader(out *[]byte, kind byte, length int) {
	if length < 15 {
		*out = append(*out, (kind<<4)|byte(length))
		return
	}
	*out = append(*out, (kind<<4)|0xF)
	writeLengthEscape(out, uint64(length))
}

func writeLengthEscape(out *[]byte, value uint64) {
	switch {
	case value <= 0xFF:
		*out = append(*out, 0x10, byte(value))
	case value <= 0xFFFF:
		*out = append(*out, 0x11)
		*out = appendUint16(*out, uint16(value))
	case value <= 0xFFFFFFFF:
		*out = append(*out, 0x12)
		*out = appendUint32(*out, uint32(value))
	default:
		*out = append(*out, 0x13)
		*out = appendUint64(*out, value)
	}
}

func writeRef(out *[]byte, index int) {
	*out = appendUint16(*out, uint16(index))
}

func writeSizedInt(out *[]byte, value uint64, size uint8) {
	switch size {
	case 1:
		*out = append(*out, byte(value))
	case 2:
		*out = appendUint16(*out, uint16(value))
	case 4:
		*out = appendUint32(*out, uint32(value))
	case 8:
		*out = appendUint64(*out, value)
	}
}

func calculateOffsetSize(maxOffset int) uint8 {
	switch {
	case maxOffset <= 0xFF:
		return 1
	case maxOffset <= 0xFFFF:
		return 2
	case maxOffset <= 0xFFFFFFFF:
		return 4
	default:
		return 8
	}
}

func writeTrailer(out *[]byte, offsetSize, objectRefSize uint8, numObjects, root, offsetTableOffset int) {
	*out = append(*out, 0, 0, 0, 0, 0) // unused
	*out = append(*out, 0)             // sort version
	*out = append(*out, offsetSize)
	*out = append(*out, objectRefSize)
	*out = appendUint64(*out, uint64(numObjects))
	*out = appendUint64(*out, uint64(root))
	*out = appendUint64(*out, uint64(offsetTableOffset))
}

func appendUint16(b []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
