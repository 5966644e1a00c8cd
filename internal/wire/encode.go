package wire

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Format selects a stream encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(s)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatMsgpack:
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("unknown wire format %q (expected: json|msgpack)", s)
	}
}

// Encoder writes a stream of values. JSON values are newline delimited;
// msgpack values are concatenated.
type Encoder struct {
	json *json.Encoder
	mp   *msgpack.Encoder
}

func NewEncoder(w io.Writer, f Format) (*Encoder, error) {
	switch f {
	case FormatJSON:
		return &Encoder{json: json.NewEncoder(w)}, nil
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetSortMapKeys(true)
		return &Encoder{mp: enc}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", f)
	}
}

func (e *Encoder) Encode(v any) error {
	if e.mp != nil {
		return e.mp.Encode(v)
	}
	return e.json.Encode(v)
}

// Decoder reads values written by Encoder.
type Decoder struct {
	json *json.Decoder
	mp   *msgpack.Decoder
}

func NewDecoder(r io.Reader, f Format) (*Decoder, error) {
	switch f {
	case FormatJSON:
		return &Decoder{json: json.NewDecoder(r)}, nil
	case FormatMsgpack:
		return &Decoder{mp: msgpack.NewDecoder(r)}, nil
	default:
		return nil, fmt.Errorf("unknown wire format %q", f)
	}
}

func (d *Decoder) Decode(v any) error {
	if d.mp != nil {
		return d.mp.Decode(v)
	}
	return d.json.Decode(v)
}
