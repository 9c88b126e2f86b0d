package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// ErrUnsupportedType is returned when a value has no bencode representation.
var ErrUnsupportedType = errors.New("bencode: unsupported type")

// Encode serializes v.
//
// Supported values: string, []byte, signed and unsigned integers, []interface{},
// []string, *Dict and map[string]interface{}. Maps are emitted with sorted keys
// since Go maps carry no order; *Dict keeps its insertion order.
func Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustEncode is like Encode but panics on unsupported types.
// It is meant for statically known message layouts.
func MustEncode(v interface{}) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}

func encodeValue(buf *bytes.Buffer, v interface{}) error {
	switch val := v.(type) {
	case string:
		encodeString(buf, val)
	case []byte:
		encodeString(buf, string(val))
	case int:
		encodeInt(buf, int64(val))
	case int32:
		encodeInt(buf, int64(val))
	case int64:
		encodeInt(buf, val)
	case uint16:
		encodeInt(buf, int64(val))
	case uint32:
		encodeInt(buf, int64(val))
	case []interface{}:
		buf.WriteByte('l')
		for _, item := range val {
			if err := encodeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	case []string:
		buf.WriteByte('l')
		for _, item := range val {
			encodeString(buf, item)
		}
		buf.WriteByte('e')
	case *Dict:
		return encodeDict(buf, val)
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('d')
		for _, k := range keys {
			encodeString(buf, k)
			if err := encodeValue(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('e')
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

func encodeDict(buf *bytes.Buffer, d *Dict) error {
	buf.WriteByte('d')
	var err error
	d.Range(func(key string, value interface{}) bool {
		encodeString(buf, key)
		err = encodeValue(buf, value)
		return err == nil
	})
	if err != nil {
		return err
	}
	buf.WriteByte('e')
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteByte(':')
	buf.WriteString(s)
}

func encodeInt(buf *bytes.Buffer, i int64) {
	buf.WriteByte('i')
	buf.WriteString(strconv.FormatInt(i, 10))
	buf.WriteByte('e')
}
