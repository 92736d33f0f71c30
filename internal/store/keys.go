package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"time"
)

// Key is a record key. Valid keys are numbers (any Go integer or float
// kind, stored as float64; NaN is rejected), strings, time.Time (millisecond
// resolution), []byte, and slices or arrays of valid keys.
//
// Keys are stored with an order-preserving encoding, so the engine's native
// byte order is the key order: numbers < dates < strings < binary < arrays.
// Strings compare by code point, binary by byte, arrays element by element
// with a shorter prefix first.
type Key = any

const (
	tagEnd    byte = 0x00
	tagNumber byte = 0x10
	tagDate   byte = 0x20
	tagString byte = 0x30
	tagBinary byte = 0x40
	tagArray  byte = 0x50
)

// 0x00 inside a string or binary key is written as 0x00 0xFF; 0x00 0x01
// terminates it, so a prefix always sorts first.
const (
	escNul  byte = 0xFF
	escTerm byte = 0x01
)

const maxKeyDepth = 32

var timeType = reflect.TypeOf(time.Time{})

// EncodeKey returns the order-preserving encoding of k.
func EncodeKey(k Key) ([]byte, error) {
	return appendKey(nil, k, 0)
}

// ValidateKey reports whether k can be used as a key.
func ValidateKey(k Key) error {
	_, err := EncodeKey(k)
	return err
}

// CompareKeys orders two keys the way a cursor visits them.
func CompareKeys(a, b Key) (int, error) {
	ea, err := EncodeKey(a)
	if err != nil {
		return 0, err
	}
	eb, err := EncodeKey(b)
	if err != nil {
		return 0, err
	}
	return bytes.Compare(ea, eb), nil
}

func appendKey(dst []byte, k Key, depth int) ([]byte, error) {
	if depth > maxKeyDepth {
		return nil, fmt.Errorf("%w: arrays nested deeper than %d", ErrInvalidKey, maxKeyDepth)
	}
	rv := reflect.ValueOf(k)
	if !rv.IsValid() {
		return nil, fmt.Errorf("%w: nil", ErrInvalidKey)
	}
	if rv.Type() == timeType {
		t := rv.Interface().(time.Time)
		dst = append(dst, tagDate)
		return appendFloat(dst, float64(t.UnixMilli())), nil
	}

	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		f, err := intToFloat(rv.Int())
		if err != nil {
			return nil, err
		}
		dst = append(dst, tagNumber)
		return appendFloat(dst, f), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		f, err := uintToFloat(rv.Uint())
		if err != nil {
			return nil, err
		}
		dst = append(dst, tagNumber)
		return appendFloat(dst, f), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) {
			return nil, fmt.Errorf("%w: NaN", ErrInvalidKey)
		}
		dst = append(dst, tagNumber)
		return appendFloat(dst, f), nil
	case reflect.String:
		dst = append(dst, tagString)
		return appendEscaped(dst, []byte(rv.String())), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(raw), rv)
			dst = append(dst, tagBinary)
			return appendEscaped(dst, raw), nil
		}
		dst = append(dst, tagArray)
		var err error
		for i := 0; i < rv.Len(); i++ {
			dst, err = appendKey(dst, rv.Index(i).Interface(), depth+1)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, tagEnd), nil
	}
	return nil, fmt.Errorf("%w: unsupported type %T", ErrInvalidKey, k)
}

func appendFloat(dst []byte, f float64) []byte {
	if f == 0 {
		f = 0 // fold -0 into +0
	}
	bits := math.Float64bits(f)
	if bits&(1<<63) == 0 {
		bits |= 1 << 63
	} else {
		bits = ^bits
	}
	return binary.BigEndian.AppendUint64(dst, bits)
}

func appendEscaped(dst, raw []byte) []byte {
	for _, c := range raw {
		if c == 0x00 {
			dst = append(dst, 0x00, escNul)
			continue
		}
		dst = append(dst, c)
	}
	return append(dst, 0x00, escTerm)
}

// DecodeKey reverses EncodeKey. Numbers decode as float64, dates as
// time.Time, strings as string, binary as []byte and arrays as []any.
func DecodeKey(b []byte) (Key, error) {
	k, rest, err := decodeKey(b, 0)
	if err != nil {
		return nil, err
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidKey, len(rest))
	}
	return k, nil
}

func decodeKey(b []byte, depth int) (Key, []byte, error) {
	if depth > maxKeyDepth {
		return nil, nil, fmt.Errorf("%w: arrays nested deeper than %d", ErrInvalidKey, maxKeyDepth)
	}
	if len(b) == 0 {
		return nil, nil, fmt.Errorf("%w: truncated encoding", ErrInvalidKey)
	}
	tag, b := b[0], b[1:]
	switch tag {
	case tagNumber:
		return readFloat(b)
	case tagDate:
		f, rest, err := readFloat(b)
		if err != nil {
			return nil, nil, err
		}
		return time.UnixMilli(int64(f.(float64))), rest, nil
	case tagString:
		raw, rest, err := readEscaped(b)
		if err != nil {
			return nil, nil, err
		}
		return string(raw), rest, nil
	case tagBinary:
		return readEscaped(b)
	case tagArray:
		arr := []any{}
		for {
			if len(b) == 0 {
				return nil, nil, fmt.Errorf("%w: unterminated array", ErrInvalidKey)
			}
			if b[0] == tagEnd {
				return arr, b[1:], nil
			}
			var (
				el  Key
				err error
			)
			el, b, err = decodeKey(b, depth+1)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, el)
		}
	}
	return nil, nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidKey, tag)
}

// Integer keys are stored as float64, so integers that do not survive the
// round trip would collide with a neighbour.
func intToFloat(v int64) (float64, error) {
	f := float64(v)
	if f >= 1<<63 || int64(f) != v {
		return 0, fmt.Errorf("%w: integer %d is not exactly representable as a number", ErrInvalidKey, v)
	}
	return f, nil
}

func uintToFloat(v uint64) (float64, error) {
	f := float64(v)
	if f >= 1<<64 || uint64(f) != v {
		return 0, fmt.Errorf("%w: integer %d is not exactly representable as a number", ErrInvalidKey, v)
	}
	return f, nil
}

func readFloat(b []byte) (Key, []byte, error) {
	if len(b) < 8 {
		return nil, nil, fmt.Errorf("%w: truncated number", ErrInvalidKey)
	}
	bits := binary.BigEndian.Uint64(b[:8])
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits), b[8:], nil
}

func readEscaped(b []byte) ([]byte, []byte, error) {
	out := []byte{}
	for i := 0; i < len(b); i++ {
		if b[i] != 0x00 {
			out = append(out, b[i])
			continue
		}
		if i+1 >= len(b) {
			break
		}
		switch b[i+1] {
		case escNul:
			out = append(out, 0x00)
			i++
		case escTerm:
			return out, b[i+2:], nil
		default:
			return nil, nil, fmt.Errorf("%w: bad escape 0x%02x", ErrInvalidKey, b[i+1])
		}
	}
	return nil, nil, fmt.Errorf("%w: unterminated string", ErrInvalidKey)
}
