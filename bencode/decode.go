package bencode

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// maxLengthDigits bounds the decimal length prefix of a byte string.
	maxLengthDigits = 20
	// maxDepth bounds list/dictionary nesting.
	maxDepth = 64
)

var (
	// ErrMalformed is returned for any input that is not valid bencode:
	// truncated data, missing terminators, bad length prefixes.
	ErrMalformed = errors.New("bencode: malformed input")

	// ErrNotDict is returned by DecodeDict when the top-level value is not a dictionary.
	ErrNotDict = errors.New("bencode: value is not a dictionary")
)

// Decoder is a recursive-descent decoder over a position cursor.
type Decoder struct {
	data  []byte
	pos   int
	depth int
}

// NewDecoder creates a decoder positioned at the start of data.
func NewDecoder(data []byte) *Decoder {
	return &Decoder{data: data}
}

// Pos returns the offset of the first byte not yet consumed.
func (d *Decoder) Pos() int {
	return d.pos
}

// Next decodes the value at the cursor and advances past it.
// On failure the returned value is nil and the error wraps ErrMalformed.
func (d *Decoder) Next() (interface{}, error) {
	if d.pos >= len(d.data) {
		return nil, d.errorf("unexpected end of data")
	}

	switch c := d.data[d.pos]; {
	case c == 'd':
		return d.decodeDict()
	case c == 'l':
		return d.decodeList()
	case c == 'i':
		return d.decodeInt()
	case c >= '0' && c <= '9':
		return d.decodeString()
	default:
		return nil, d.errorf("unexpected byte %q", c)
	}
}

// Decode decodes the first value in data. Trailing bytes are ignored.
func Decode(data []byte) (interface{}, error) {
	return NewDecoder(data).Next()
}

// DecodeDict decodes data and requires a dictionary at the top level.
func DecodeDict(data []byte) (*Dict, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	d, ok := v.(*Dict)
	if !ok {
		return nil, ErrNotDict
	}
	return d, nil
}

func (d *Decoder) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s at offset %d", ErrMalformed, fmt.Sprintf(format, args...), d.pos)
}

func (d *Decoder) enter() error {
	d.depth++
	if d.depth > maxDepth {
		return d.errorf("nesting deeper than %d", maxDepth)
	}
	return nil
}

func (d *Decoder) decodeDict() (interface{}, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	d.pos++ // skip 'd'
	dict := NewDict()
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf("dictionary not terminated")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return dict, nil
		}

		if c := d.data[d.pos]; c < '0' || c > '9' {
			return nil, d.errorf("dictionary key is not a string")
		}
		key, err := d.decodeString()
		if err != nil {
			return nil, err
		}
		value, err := d.Next()
		if err != nil {
			return nil, err
		}
		dict.Set(key.(string), value)
	}
}

func (d *Decoder) decodeList() (interface{}, error) {
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer func() { d.depth-- }()

	d.pos++ // skip 'l'
	list := make([]interface{}, 0)
	for {
		if d.pos >= len(d.data) {
			return nil, d.errorf("list not terminated")
		}
		if d.data[d.pos] == 'e' {
			d.pos++
			return list, nil
		}
		value, err := d.Next()
		if err != nil {
			return nil, err
		}
		list = append(list, value)
	}
}

func (d *Decoder) decodeInt() (interface{}, error) {
	start := d.pos + 1
	end := bytes.IndexByte(d.data[start:], 'e')
	if end < 0 {
		return nil, d.errorf("integer not terminated")
	}
	digits := string(d.data[start : start+end])
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return nil, d.errorf("invalid integer %q", digits)
	}
	d.pos = start + end + 1
	return value, nil
}

func (d *Decoder) decodeString() (interface{}, error) {
	colon := bytes.IndexByte(d.data[d.pos:], ':')
	if colon < 0 {
		return nil, d.errorf("string length not terminated")
	}
	if colon == 0 || colon > maxLengthDigits {
		return nil, d.errorf("string length prefix has %d digits", colon)
	}

	prefix := string(d.data[d.pos : d.pos+colon])
	length, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return nil, d.errorf("invalid string length %q", prefix)
	}

	start := d.pos + colon + 1
	if length > uint64(len(d.data)-start) {
		return nil, d.errorf("string of length %d truncated", length)
	}
	end := start + int(length)
	d.pos = end
	return string(d.data[start:end]), nil
}
