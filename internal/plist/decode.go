package plist

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf16"

	"github.com/airtap-go/airplay2/internal/apperr"
)

const magic = "bplist00"

// trailer is the fixed 32-byte footer of a bplist00 document.
type trailer struct {
	offsetSize      uint8
	objectRefSize   uint8
	numObjects      uint64
	rootObjectIndex uint64
	offsetTableOff  uint64
}

// Decode parses a bplist00 document and returns its root Value.
func Decode(data []byte) (Value, error) {
	if len(data) < 8 {
		return Value{}, fmt.Errorf("%w: have %d bytes", apperr.ErrBufferTooSmall, len(data))
	}
	if string(data[:8]) != magic {
		return Value{}, fmt.Errorf("%w: %q", apperr.ErrInvalidMagic, data[:8])
	}
	tr, err := parseTrailer(data)
	if err != nil {
		return Value{}, err
	}

	d := &decoder{data: data}
	if err := d.parseOffsetTable(tr); err != nil {
		return Value{}, err
	}

	seen := make(map[uint64]bool)
	return d.decodeObject(tr.rootObjectIndex, seen)
}

func parseTrailer(data []byte) (trailer, error) {
	if len(data) < 32 {
		return trailer{}, fmt.Errorf("%w: document shorter than trailer", apperr.ErrBufferTooSmall)
	}
	t := data[len(data)-32:]
	return trailer{
		offsetSize:      t[6],
		objectRefSize:   t[7],
		numObjects:      binary.BigEndian.Uint64(t[8:16]),
		rootObjectIndex: binary.BigEndian.Uint64(t[16:24]),
		offsetTableOff:  binary.BigEndian.Uint64(t[24:32]),
	}, nil
}

type decoder struct {
	data        []byte
	offsetTable []uint64
	refSize     int
}

func (d *decoder) parseOffsetTable(tr trailer) error {
	d.refSize = int(tr.objectRefSize)
	d.offsetTable = make([]uint64, tr.numObjects)

	pos := tr.offsetTableOff
	for i := range d.offsetTable {
		v, err := d.readSizedInt(pos, int(tr.offsetSize))
		if err != nil {
			return err
		}
		d.offsetTable[i] = v
		pos += uint64(tr.offsetSize)
	}
	return nil
}

func (d *decoder) readSizedInt(pos uint64, size int) (uint64, error) {
	end := pos + uint64(size)
	if end > uint64(len(d.data)) {
		return 0, fmt.Errorf("%w: offset %d size %d exceeds %d bytes", apperr.ErrBufferTooSmall, pos, size, len(d.data))
	}
	b := d.data[pos:end]
	switch size {
	case 1:
		return uint64(b[0]), nil
	case 2:
		return uint64(binary.BigEndian.Uint16(b)), nil
	case 4:
		return uint64(binary.BigEndian.Uint32(b)), nil
	case 8:
		return binary.BigEndian.Uint64(b), nil
	default:
		return 0, fmt.Errorf("%w: unsupported int size %d", apperr.ErrInvalidOffset, size)
	}
}

// decodeObject decodes the object at the given table index, rejecting true
// cycles (an index appearing as its own ancestor during recursion) while
// still allowing the same index to be referenced multiple times overall.
func (d *decoder) decodeObject(index uint64, seen map[uint64]bool) (Value, error) {
	if seen[index] {
		return Value{}, apperr.ErrCircularReference
	}
	if index >= uint64(len(d.offsetTable)) {
		return Value{}, fmt.Errorf("%w: object index %d", apperr.ErrInvalidOffset, index)
	}
	seen[index] = true
	defer delete(seen, index)

	pos := d.offsetTable[index]
	if pos >= uint64(len(d.data)) {
		return Value{}, fmt.Errorf("%w: object offset %d", apperr.ErrInvalidOffset, pos)
	}
	marker := d.data[pos]
	return d.decodeValue(marker, pos+1, seen)
}

func (d *decoder) decodeValue(marker byte, pos uint64, seen map[uint64]bool) (Value, error) {
	nibble := marker & 0x0F
	switch marker >> 4 {
	case 0x0:
		return decodeSingleton(nibble), nil
	case 0x1:
		return d.decodeInteger(pos, nibble)
	case 0x2:
		return d.decodeReal(pos, nibble)
	case 0x3:
		return d.decodeDate(pos)
	case 0x4:
		return d.decodeData(pos, nibble)
	case 0x5:
		return d.decodeASCIIString(pos, nibble)
	case 0x6:
		return d.decodeUTF16String(pos, nibble)
	case 0x8:
		return d.decodeUID(pos, nibble)
	case 0xA:
		return d.decodeArray(pos, nibble, seen)
	case 0xD:
		return d.decodeDictionary(pos, nibble, seen)
	default:
		return Value{}, fmt.Errorf("%w: 0x%02x", apperr.ErrInvalidObjectMarker, marker)
	}
}

func decodeSingleton(nibble byte) Value {
	switch nibble {
	case 0x8:
		return Bool(false)
	case 0x9:
		return Bool(true)
	default:
		return Data(nil)
	}
}

func (d *decoder) decodeInteger(pos uint64, sizeExp byte) (Value, error) {
	n := 1 << sizeExp
	end := pos + uint64(n)
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	b := d.data[pos:end]
	switch n {
	case 1:
		return Int(int64(int8(b[0]))), nil
	case 2:
		return Int(int64(int16(binary.BigEndian.Uint16(b)))), nil
	case 4:
		return Int(int64(int32(binary.BigEndian.Uint32(b)))), nil
	case 8:
		return Int(int64(binary.BigEndian.Uint64(b))), nil
	case 16:
		hi := binary.BigEndian.Uint64(b[:8])
		lo := binary.BigEndian.Uint64(b[8:])
		if hi != 0 {
			return Value{}, apperr.ErrIntegerOverflow
		}
		return Uint(lo), nil
	default:
		return Value{}, fmt.Errorf("%w: integer size %d", apperr.ErrInvalidObjectMarker, n)
	}
}

func (d *decoder) decodeReal(pos uint64, sizeExp byte) (Value, error) {
	n := 1 << sizeExp
	end := pos + uint64(n)
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	b := d.data[pos:end]
	switch n {
	case 4:
		return Real(float64(math.Float32frombits(binary.BigEndian.Uint32(b)))), nil
	case 8:
		return Real(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	default:
		return Value{}, fmt.Errorf("%w: real size %d", apperr.ErrInvalidObjectMarker, n)
	}
}

func (d *decoder) decodeDate(pos uint64) (Value, error) {
	end := pos + 8
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	return Date(math.Float64frombits(binary.BigEndian.Uint64(d.data[pos:end]))), nil
}

// decodeSize resolves a length nibble: values below 0xF are the size
// itself; 0xF means the real size follows as an integer object.
func (d *decoder) decodeSize(pos uint64, nibble byte) (uint64, uint64, error) {
	if nibble != 0xF {
		return uint64(nibble), pos, nil
	}
	if pos >= uint64(len(d.data)) {
		return 0, 0, apperr.ErrBufferTooSmall
	}
	marker := d.data[pos]
	if marker>>4 != 0x1 {
		return 0, 0, fmt.Errorf("%w: size escape must be an integer object", apperr.ErrInvalidObjectMarker)
	}
	sizeExp := marker & 0x0F
	v, err := d.decodeInteger(pos+1, sizeExp)
	if err != nil {
		return 0, 0, err
	}
	n, ok := v.AsInt64()
	if !ok || n < 0 {
		return 0, 0, apperr.ErrIntegerOverflow
	}
	return uint64(n), pos + 1 + uint64(1<<sizeExp), nil
}

func (d *decoder) decodeData(pos uint64, lengthNibble byte) (Value, error) {
	length, dataPos, err := d.decodeSize(pos, lengthNibble)
	if err != nil {
		return Value{}, err
	}
	end := dataPos + length
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	return Data(append([]byte(nil), d.data[dataPos:end]...)), nil
}

func (d *decoder) decodeASCIIString(pos uint64, lengthNibble byte) (Value, error) {
	length, strPos, err := d.decodeSize(pos, lengthNibble)
	if err != nil {
		return Value{}, err
	}
	end := strPos + length
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	b := d.data[strPos:end]
	for _, c := range b {
		if c >= 0x80 {
			return Value{}, apperr.ErrInvalidUTF8
		}
	}
	return String(string(b)), nil
}

func (d *decoder) decodeUTF16String(pos uint64, charCountNibble byte) (Value, error) {
	charCount, strPos, err := d.decodeSize(pos, charCountNibble)
	if err != nil {
		return Value{}, err
	}
	byteLen := charCount * 2
	end := strPos + byteLen
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	b := d.data[strPos:end]
	units := make([]uint16, charCount)
	for i := range units {
		units[i] = binary.BigEndian.Uint16(b[i*2:])
	}
	return String(string(utf16.Decode(units))), nil
}

func (d *decoder) decodeUID(pos uint64, lengthNibble byte) (Value, error) {
	n := int(lengthNibble) + 1
	end := pos + uint64(n)
	if end > uint64(len(d.data)) {
		return Value{}, apperr.ErrBufferTooSmall
	}
	var v uint64
	for _, b := range d.data[pos:end] {
		v = (v << 8) | uint64(b)
	}
	return Uid(v), nil
}

func (d *decoder) decodeArray(pos uint64, countNibble byte, seen map[uint64]bool) (Value, error) {
	count, refsStart, err := d.decodeSize(pos, countNibble)
	if err != nil {
		return Value{}, err
	}
	items := make([]Value, count)
	for i := range items {
		ref, err := d.readSizedInt(refsStart+uint64(i*d.refSize), d.refSize)
		if err != nil {
			return Value{}, err
		}
		v, err := d.decodeObject(ref, seen)
		if err != nil {
			return Value{}, err
		}
		items[i] = v
	}
	return Value{Kind: KindArray, Array: items}, nil
}

func (d *decoder) decodeDictionary(pos uint64, countNibble byte, seen map[uint64]bool) (Value, error) {
	count, refsStart, err := d.decodeSize(pos, countNibble)
	if err != nil {
		return Value{}, err
	}
	valsStart := refsStart + count*uint64(d.refSize)

	m := make(map[string]Value, count)
	for i := uint64(0); i < count; i++ {
		keyRef, err := d.readSizedInt(refsStart+i*uint64(d.refSize), d.refSize)
		if err != nil {
			return Value{}, err
		}
		valRef, err := d.readSizedInt(valsStart+i*uint64(d.refSize), d.refSize)
		if err != nil {
			return Value{}, err
		}
		keyVal, err := d.decodeObject(keyRef, seen)
		if err != nil {
			return Value{}, err
		}
		key, ok := keyVal.AsString()
		if !ok {
			return Value{}, fmt.Errorf("%w: dictionary key must be a string", apperr.ErrInvalidObjectMarker)
		}
		val, err := d.decodeObject(valRef, seen)
		if err != nil {
			return Value{}, err
		}
		m[key] = val
	}
	return Value{Kind: KindDict, Dict: m}, nil
}
