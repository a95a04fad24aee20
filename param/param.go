/*Package param holds camera parameter values as a tagged variant.

The SDK reports the storage type of every parameter alongside its raw bytes.
Decode turns the pair into a Value at the boundary so nothing past it
handles untyped memory.
*/
package param

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ID is an opaque parameter identifier issued by the SDK
type ID uint32

// Attr selects which attribute of a parameter is read
type Attr int16

// attributes, in SDK order
const (
	AttrCurrent Attr = iota
	AttrCount
	AttrType
	AttrMin
	AttrMax
	AttrDefault
	AttrIncrement
	AttrAccess
	AttrAvail
)

// Type is the storage type of a parameter
type Type int16

// storage types, numbered as the SDK numbers them
const (
	TypeInt16   Type = 1
	TypeInt32   Type = 2
	TypeFlt64   Type = 4
	TypeUns8    Type = 5
	TypeUns16   Type = 6
	TypeUns32   Type = 7
	TypeUns64   Type = 8
	TypeEnum    Type = 9
	TypeBoolean Type = 11
	TypeInt8    Type = 12
	TypeCharPtr Type = 13
	TypeInt64   Type = 16
	TypeFlt32   Type = 19
)

var (
	// ErrUnavailable is returned when a parameter is not available on a camera
	ErrUnavailable = errors.New("parameter not available on this camera")

	// ErrUnsupportedType is returned for storage types this package does not decode
	ErrUnsupportedType = errors.New("unsupported parameter type")

	typeNames = map[Type]string{
		TypeInt16:   "TYPE_INT16",
		TypeInt32:   "TYPE_INT32",
		TypeFlt64:   "TYPE_FLT64",
		TypeUns8:    "TYPE_UNS8",
		TypeUns16:   "TYPE_UNS16",
		TypeUns32:   "TYPE_UNS32",
		TypeUns64:   "TYPE_UNS64",
		TypeEnum:    "TYPE_ENUM",
		TypeBoolean: "TYPE_BOOLEAN",
		TypeInt8:    "TYPE_INT8",
		TypeCharPtr: "TYPE_CHAR_PTR",
		TypeInt64:   "TYPE_INT64",
		TypeFlt32:   "TYPE_FLT32",
	}
)

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return "TYPE_" + strconv.Itoa(int(t))
}

// Size is the number of bytes a value of this type occupies; 0 for strings
func (t Type) Size() int {
	switch t {
	case TypeInt8, TypeUns8, TypeBoolean:
		return 1
	case TypeInt16, TypeUns16:
		return 2
	case TypeInt32, TypeUns32, TypeEnum, TypeFlt32:
		return 4
	case TypeInt64, TypeUns64, TypeFlt64:
		return 8
	}
	return 0
}

// Value is a parameter value.  Only the field matching Type is meaningful:
// signed integers and enums use Int, unsigned integers use Uint, floats use
// Float, booleans use Bool and strings use Str.
type Value struct {
	Type  Type    `json:"type"`
	Int   int64   `json:"int,omitempty"`
	Uint  uint64  `json:"uint,omitempty"`
	Float float64 `json:"f64,omitempty"`
	Bool  bool    `json:"bool,omitempty"`
	Str   string  `json:"str,omitempty"`
}

// Interface returns the value as a plain Go value
func (v Value) Interface() interface{} {
	switch v.Type {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeEnum:
		return v.Int
	case TypeUns8, TypeUns16, TypeUns32, TypeUns64:
		return v.Uint
	case TypeFlt32, TypeFlt64:
		return v.Float
	case TypeBoolean:
		return v.Bool
	case TypeCharPtr:
		return v.Str
	}
	return nil
}

// Int64 returns the value as an integer.  Floats are truncated and booleans
// are 0 or 1; strings are 0.
func (v Value) Int64() int64 {
	switch v.Type {
	case TypeUns8, TypeUns16, TypeUns32, TypeUns64:
		return int64(v.Uint)
	case TypeFlt32, TypeFlt64:
		return int64(v.Float)
	case TypeBoolean:
		if v.Bool {
			return 1
		}
		return 0
	}
	return v.Int
}

func (v Value) String() string {
	return fmt.Sprint(v.Interface())
}

// Decode interprets raw, in host (little endian) order, as a value of type t
func Decode(t Type, raw []byte) (Value, error) {
	v := Value{Type: t}
	if t == TypeCharPtr {
		if i := bytes.IndexByte(raw, 0); i >= 0 {
			raw = raw[:i]
		}
		v.Str = string(raw)
		return v, nil
	}
	n := t.Size()
	if n == 0 {
		return v, fmt.Errorf("%w %s", ErrUnsupportedType, t)
	}
	if len(raw) < n {
		return v, fmt.Errorf("%s needs %d bytes, got %d", t, n, len(raw))
	}
	le := binary.LittleEndian
	switch t {
	case TypeInt8:
		v.Int = int64(int8(raw[0]))
	case TypeUns8:
		v.Uint = uint64(raw[0])
	case TypeBoolean:
		v.Bool = raw[0] != 0
	case TypeInt16:
		v.Int = int64(int16(le.Uint16(raw)))
	case TypeUns16:
		v.Uint = uint64(le.Uint16(raw))
	case TypeInt32, TypeEnum:
		v.Int = int64(int32(le.Uint32(raw)))
	case TypeUns32:
		v.Uint = uint64(le.Uint32(raw))
	case TypeInt64:
		v.Int = int64(le.Uint64(raw))
	case TypeUns64:
		v.Uint = le.Uint64(raw)
	case TypeFlt32:
		v.Float = float64(math.Float32frombits(le.Uint32(raw)))
	case TypeFlt64:
		v.Float = math.Float64frombits(le.Uint64(raw))
	}
	return v, nil
}

// Encode is the inverse of Decode.  Strings are NUL terminated.
func Encode(v Value) ([]byte, error) {
	if v.Type == TypeCharPtr {
		return append([]byte(v.Str), 0), nil
	}
	n := v.Type.Size()
	if n == 0 {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedType, v.Type)
	}
	b := make([]byte, n)
	le := binary.LittleEndian
	switch v.Type {
	case TypeInt8:
		b[0] = byte(int8(v.Int))
	case TypeUns8:
		b[0] = byte(v.Uint)
	case TypeBoolean:
		if v.Bool {
			b[0] = 1
		}
	case TypeInt16:
		le.PutUint16(b, uint16(int16(v.Int)))
	case TypeUns16:
		le.PutUint16(b, uint16(v.Uint))
	case TypeInt32, TypeEnum:
		le.PutUint32(b, uint32(int32(v.Int)))
	case TypeUns32:
		le.PutUint32(b, uint32(v.Uint))
	case TypeInt64:
		le.PutUint64(b, uint64(v.Int))
	case TypeUns64:
		le.PutUint64(b, v.Uint)
	case TypeFlt32:
		le.PutUint32(b, math.Float32bits(float32(v.Float)))
	case TypeFlt64:
		le.PutUint64(b, math.Float64bits(v.Float))
	}
	return b, nil
}

// FromInterface builds a Value of type t from a loosely typed input, such as
// a number decoded from JSON (float64), a bool, or a string.
func FromInterface(t Type, x interface{}) (Value, error) {
	v := Value{Type: t}
	switch t {
	case TypeCharPtr:
		s, ok := x.(string)
		if !ok {
			return v, fmt.Errorf("%s requires a string, got %T", t, x)
		}
		v.Str = s
		return v, nil
	case TypeBoolean:
		b, ok := x.(bool)
		if !ok {
			return v, fmt.Errorf("%s requires a bool, got %T", t, x)
		}
		v.Bool = b
		return v, nil
	}
	var f float64
	switch n := x.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		var err error
		f, err = strconv.ParseFloat(n, 64)
		if err != nil {
			return v, err
		}
	default:
		return v, fmt.Errorf("%s requires a number, got %T", t, x)
	}
	switch t {
	case TypeInt8, TypeInt16, TypeInt32, TypeInt64, TypeEnum:
		v.Int = int64(f)
	case TypeUns8, TypeUns16, TypeUns32, TypeUns64:
		if f < 0 {
			return v, fmt.Errorf("%s cannot hold negative value %v", t, f)
		}
		v.Uint = uint64(f)
	case TypeFlt32, TypeFlt64:
		v.Float = f
	default:
		return v, fmt.Errorf("%w %s", ErrUnsupportedType, t)
	}
	return v, nil
}

// FormatVersion formats a library version packed as MMMMMMMMrrrrTTTT
// (major, minor, trivial) into M.m.t
func FormatVersion(v uint16) string {
	return fmt.Sprintf("%d.%d.%d", (v&0xff00)>>8, (v&0x00f0)>>4, v&0x000f)
}

// FormatFirmware formats a firmware version packed as MMMMMMMMmmmmmmmm into M.m
func FormatFirmware(v uint16) string {
	return fmt.Sprintf("%d.%d", (v&0xff00)>>8, v&0x00ff)
}
