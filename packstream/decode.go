package packstream

import (
	"math"

	"github.com/neobolt/driver/bolterr"
)

const opDecode = "packstream.Decode"

// Decode reads exactly one Value from the front of b using the default
// registry for structure tags, and returns how many bytes it consumed.
// Surplus bytes are left untouched.
func Decode(b []byte) (any, int, error) {
	return DecodeWith(b, defaultRegistry)
}

// DecodeWith is Decode parameterized on an explicit Registry, primarily for
// tests that need isolation from the process-wide default.
func DecodeWith(b []byte, reg *Registry) (any, int, error) {
	if len(b) == 0 {
		return nil, 0, bolterr.Protocolf(opDecode, "empty buffer")
	}
	marker := b[0]

	switch {
	case marker <= tinyIntPosMax: // 0x00-0x7F
		return int64(marker), 1, nil
	case marker >= tinyStructMin && marker <= tinyStructMax:
		return decodeStructure(b, marker, reg)
	case marker >= tinyDictMin && marker <= tinyDictMax:
		return decodeDict(b, int(marker&0x0F), 1, reg)
	case marker >= tinyListMin && marker <= tinyListMax:
		return decodeList(b, int(marker&0x0F), 1, reg)
	case marker >= tinyStringMin && marker <= tinyStringMax:
		return decodeString(b, int(marker&0x0F), 1)
	case marker == markerNull:
		return nil, 1, nil
	case marker == markerFloat:
		return decodeFloat(b)
	case marker == markerFalse:
		return false, 1, nil
	case marker == markerTrue:
		return true, 1, nil
	case marker == markerInt8:
		if err := need(b, 2); err != nil {
			return nil, 0, err
		}
		return int64(int8(b[1])), 2, nil
	case marker == markerInt16:
		if err := need(b, 3); err != nil {
			return nil, 0, err
		}
		return int64(int16(readUint16(b[1:]))), 3, nil
	case marker == markerInt32:
		if err := need(b, 5); err != nil {
			return nil, 0, err
		}
		return int64(int32(readUint32(b[1:]))), 5, nil
	case marker == markerInt64:
		if err := need(b, 9); err != nil {
			return nil, 0, err
		}
		return int64(readUint64(b[1:])), 9, nil
	case marker == markerBytes8:
		if err := need(b, 2); err != nil {
			return nil, 0, err
		}
		return decodeBytes(b, int(b[1]), 2)
	case marker == markerBytes16:
		if err := need(b, 3); err != nil {
			return nil, 0, err
		}
		return decodeBytes(b, int(readUint16(b[1:])), 3)
	case marker == markerBytes32:
		if err := need(b, 5); err != nil {
			return nil, 0, err
		}
		return decodeBytes(b, int(readUint32(b[1:])), 5)
	case marker == markerString8:
		if err := need(b, 2); err != nil {
			return nil, 0, err
		}
		return decodeString(b, int(b[1]), 2)
	case marker == markerString16:
		if err := need(b, 3); err != nil {
			return nil, 0, err
		}
		return decodeString(b, int(readUint16(b[1:])), 3)
	case marker == markerString32:
		if err := need(b, 5); err != nil {
			return nil, 0, err
		}
		return decodeString(b, int(readUint32(b[1:])), 5)
	case marker == markerList8:
		if err := need(b, 2); err != nil {
			return nil, 0, err
		}
		return decodeList(b, int(b[1]), 2, reg)
	case marker == markerList16:
		if err := need(b, 3); err != nil {
			return nil, 0, err
		}
		return decodeList(b, int(readUint16(b[1:])), 3, reg)
	case marker == markerList32:
		if err := need(b, 5); err != nil {
			return nil, 0, err
		}
		return decodeList(b, int(readUint32(b[1:])), 5, reg)
	case marker == markerDict8:
		if err := need(b, 2); err != nil {
			return nil, 0, err
		}
		return decodeDict(b, int(b[1]), 2, reg)
	case marker == markerDict16:
		if err := need(b, 3); err != nil {
			return nil, 0, err
		}
		return decodeDict(b, int(readUint16(b[1:])), 3, reg)
	case marker == markerDict32:
		if err := need(b, 5); err != nil {
			return nil, 0, err
		}
		return decodeDict(b, int(readUint32(b[1:])), 5, reg)
	case marker >= tinyIntNegMin: // 0xF0-0xFF
		return int64(marker) - 256, 1, nil
	default:
		return nil, 0, bolterr.Protocolf(opDecode, "unknown marker 0x%02X", marker)
	}
}

func need(b []byte, n int) error {
	if len(b) < n {
		return bolterr.Protocolf(opDecode, "need %d bytes, have %d", n, len(b))
	}
	return nil
}

func decodeFloat(b []byte) (any, int, error) {
	if err := need(b, 9); err != nil {
		return nil, 0, err
	}
	return math.Float64frombits(readUint64(b[1:])), 9, nil
}

func decodeBytes(b []byte, n, headerLen int) (any, int, error) {
	total := headerLen + n
	if err := need(b, total); err != nil {
		return nil, 0, err
	}
	out := make([]byte, n)
	copy(out, b[headerLen:total])
	return out, total, nil
}

func decodeString(b []byte, n, headerLen int) (any, int, error) {
	total := headerLen + n
	if err := need(b, total); err != nil {
		return nil, 0, err
	}
	return string(b[headerLen:total]), total, nil
}

func decodeList(b []byte, n, headerLen int, reg *Registry) (any, int, error) {
	pos := headerLen
	items := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, consumed, err := DecodeWith(b[pos:], reg)
		if err != nil {
			return nil, 0, bolterr.Protocolf(opDecode, "list item %d: %s", i, err)
		}
		items = append(items, v)
		pos += consumed
	}
	return items, pos, nil
}

func decodeDict(b []byte, n, headerLen int, reg *Registry) (any, int, error) {
	pos := headerLen
	m := make(map[string]any, n)
	for i := 0; i < n; i++ {
		key, consumed, err := DecodeWith(b[pos:], reg)
		if err != nil {
			return nil, 0, bolterr.Protocolf(opDecode, "dict entry %d key: %s", i, err)
		}
		pos += consumed
		keyStr, ok := key.(string)
		if !ok {
			return nil, 0, bolterr.Protocolf(opDecode, "dict entry %d: key is not a string", i)
		}

		val, consumed, err := DecodeWith(b[pos:], reg)
		if err != nil {
			return nil, 0, bolterr.Protocolf(opDecode, "dict entry %q value: %s", keyStr, err)
		}
		pos += consumed
		m[keyStr] = val
	}
	return m, pos, nil
}

func decodeStructure(b []byte, marker byte, reg *Registry) (any, int, error) {
	n := int(marker & 0x0F)
	if err := need(b, 2); err != nil {
		return nil, 0, err
	}
	tag := b[1]
	pos := 2
	fields := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, consumed, err := DecodeWith(b[pos:], reg)
		if err != nil {
			return nil, 0, bolterr.Protocolf(opDecode, "structure 0x%02X field %d: %s", tag, i, err)
		}
		fields = append(fields, v)
		pos += consumed
	}

	v, err := reg.build(tag, fields)
	if err != nil {
		return nil, 0, err
	}
	return v, pos, nil
}

func readUint16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func readUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func readUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}
