// Package canonical produces the deterministic JSON form of a proposal payload
// and the SHA-256 digest used as the ingestion idempotency key.
//
// The byte form follows the ingestion service's JSON.stringify based
// normalizer: object keys are sorted by code point at every depth, no
// whitespace is emitted and array order is kept. Numbers are re-serialized as
// float64 values in ECMAScript Number::toString form, so 70.0 becomes 70 and
// 1e21 becomes 1e+21. Strings get JSON.stringify escaping, which leaves HTML
// and non-ASCII characters literal.
//
// Keys holding quotes or control characters are escaped here while the
// service writes them raw; such keys never appear in course payloads.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Marshal returns the canonical encoding of a raw JSON document.
func Marshal(raw []byte) ([]byte, error) {
	value, err := decode(raw)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := encode(&buf, value); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalValue canonicalizes an already decoded value (maps, slices, scalars).
func MarshalValue(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal value: %w", err)
	}
	return Marshal(raw)
}

// Hash returns the lower-case hex SHA-256 of the canonical encoding.
func Hash(raw []byte) (string, error) {
	canon, err := Marshal(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value any
	if err := dec.Decode(&value); err != nil {
		return nil, fmt.Errorf("canonical: decode payload: %w", err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("canonical: trailing data after payload")
	}
	return value, nil
}

func encode(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		buf.WriteString(strconv.FormatBool(val))
	case json.Number:
		return writeNumber(buf, val)
	case string:
		writeString(buf, val)
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
		buf.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		// Byte order of valid UTF-8 equals code point order.
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return fmt.Errorf("[%q]: %w", k, err)
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("canonical: unsupported type %T", v)
	}
	return nil
}

// writeNumber renders n the way ECMAScript Number::toString does. Values that
// overflow float64 become null, matching JSON.stringify(Infinity).
func writeNumber(buf *bytes.Buffer, n json.Number) error {
	f, err := strconv.ParseFloat(n.String(), 64)
	if err != nil && !math.IsInf(f, 0) {
		return fmt.Errorf("canonical: invalid number %q: %w", n.String(), err)
	}
	if math.IsInf(f, 0) {
		buf.WriteString("null")
		return nil
	}
	if f == 0 {
		buf.WriteByte('0')
		return nil
	}
	if f < 0 {
		buf.WriteByte('-')
		f = -f
	}

	// Shortest round-trip digits as d.ddddde±XX.
	sci := strconv.FormatFloat(f, 'e', -1, 64)
	mantissa, expPart, _ := strings.Cut(sci, "e")
	digits := strings.Replace(mantissa, ".", "", 1)
	exp, err := strconv.Atoi(expPart)
	if err != nil {
		return fmt.Errorf("canonical: format number %q: %w", n.String(), err)
	}
	k := len(digits)
	point := exp + 1 // value = 0.digits * 10^point

	switch {
	case k <= point && point <= 21:
		buf.WriteString(digits)
		buf.WriteString(strings.Repeat("0", point-k))
	case 0 < point && point <= 21:
		buf.WriteString(digits[:point])
		buf.WriteByte('.')
		buf.WriteString(digits[point:])
	case -6 < point && point <= 0:
		buf.WriteString("0.")
		buf.WriteString(strings.Repeat("0", -point))
		buf.WriteString(digits)
	default:
		buf.WriteByte(digits[0])
		if k > 1 {
			buf.WriteByte('.')
			buf.WriteString(digits[1:])
		}
		buf.WriteByte('e')
		if point-1 >= 0 {
			buf.WriteByte('+')
		}
		buf.WriteString(strconv.Itoa(point - 1))
	}
	return nil
}

const hexDigits = "0123456789abcdef"

func writeString(buf *bytes.Buffer, s string) {
	buf.WriteByte('"')
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			switch b {
			case '"':
				buf.WriteString(`\"`)
			case '\\':
				buf.WriteString(`\\`)
			case '\b':
				buf.WriteString(`\b`)
			case '\f':
				buf.WriteString(`\f`)
			case '\n':
				buf.WriteString(`\n`)
			case '\r':
				buf.WriteString(`\r`)
			case '\t':
				buf.WriteString(`\t`)
			default:
				if b < 0x20 {
					buf.WriteString(`\u00`)
					buf.WriteByte(hexDigits[b>>4])
					buf.WriteByte(hexDigits[b&0xF])
				} else {
					buf.WriteByte(b)
				}
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			buf.WriteString("\uFFFD")
			i++
			continue
		}
		buf.WriteString(s[i : i+size])
		i += size
	}
	buf.WriteByte('"')
}
