package accumulation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "20060102"

// ErrCodec wraps every encode/decode failure.
var ErrCodec = errors.New("fixed-width codec error")

// Values holds the typed contents of one record: string for alpha, int64 for
// numeric and amounts (cents), time.Time for dates.
type Values map[string]any

func (v Values) Str(name string) string {
	s, _ := v[name].(string)
	return s
}

func (v Values) Int(name string) int64 {
	switch n := v[name].(type) {
	case int64:
		return n
	case int:
		return int64(n)
	}
	return 0
}

func (v Values) Time(name string) time.Time {
	t, _ := v[name].(time.Time)
	return t
}

func codecErr(f Field, format string, args ...any) error {
	return fmt.Errorf("%w: field %s: %s", ErrCodec, f.Name, fmt.Sprintf(format, args...))
}

func pad(f Field, s string) string {
	fill := strings.Repeat(f.Pad, f.Length-len(s))
	if f.Justify == "right" {
		return fill + s
	}
	return s + fill
}

func digits(f Field, n int64, width int) (string, error) {
	if n < 0 {
		return "", codecErr(f, "negative value %d", n)
	}
	s := strconv.FormatInt(n, 10)
	if len(s) > width {
		return "", codecErr(f, "value %d overflows %d digits", n, width)
	}
	return s, nil
}

func encodeField(f Field, v any) (string, error) {
	if f.Constant != "" {
		return pad(f, f.Constant), nil
	}
	switch f.Kind {
	case KindAlpha:
		s, _ := v.(string)
		s = ascii(s)
		if len(s) > f.Length {
			s = s[:f.Length]
		}
		return pad(f, s), nil

	case KindNumeric, KindAmount:
		n, err := asInt(f, v)
		if err != nil {
			return "", err
		}
		s, err := digits(f, n, f.Length)
		if err != nil {
			return "", err
		}
		return pad(f, s), nil

	case KindSignedAmount:
		n, err := asInt(f, v)
		if err != nil {
			return "", err
		}
		sign := "+"
		if n < 0 {
			sign, n = "-", -n
		}
		s, err := digits(f, n, f.Length-1)
		if err != nil {
			return "", err
		}
		return strings.Repeat("0", f.Length-1-len(s)) + s + sign, nil

	case KindDate:
		t, _ := v.(time.Time)
		if t.IsZero() {
			return strings.Repeat(" ", f.Length), nil
		}
		return t.Format(dateLayout), nil
	}
	return "", codecErr(f, "unknown kind %q", f.Kind)
}

// ascii keeps lines byte-aligned: payer files are plain ASCII.
func ascii(s string) string {
	return strings.Map(func(r rune) rune {
		if r > 126 || r < 32 {
			return '?'
		}
		return r
	}, s)
}

func asInt(f Field, v any) (int64, error) {
	switch n := v.(type) {
	case nil:
		return 0, nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	}
	return 0, codecErr(f, "expected an integer, got %T", v)
}

// Encode renders values as one fixed-width line. Alpha values are truncated to
// fit; numbers that do not fit are an error.
func Encode(r Record, values Values) (string, error) {
	var b strings.Builder
	b.Grow(r.Length())
	for _, f := range r {
		s, err := encodeField(f, values[f.Name])
		if err != nil {
			return "", err
		}
		b.WriteString(s)
	}
	return b.String(), nil
}

func decodeField(f Field, raw string) (any, error) {
	if f.Constant != "" {
		if strings.TrimRight(raw, f.Pad) != f.Constant {
			return nil, codecErr(f, "expected %q, got %q", f.Constant, raw)
		}
		return f.Constant, nil
	}
	switch f.Kind {
	case KindAlpha:
		return strings.TrimSpace(raw), nil

	case KindNumeric, KindAmount:
		s := strings.TrimSpace(raw)
		if s == "" {
			return int64(0), nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n < 0 {
			return nil, codecErr(f, "invalid number %q", raw)
		}
		return n, nil

	case KindSignedAmount:
		body, sign := raw[:len(raw)-1], raw[len(raw)-1:]
		n, err := strconv.ParseInt(strings.TrimSpace(body), 10, 64)
		if err != nil || n < 0 {
			return nil, codecErr(f, "invalid amount %q", raw)
		}
		switch sign {
		case "+":
			return n, nil
		case "-":
			return -n, nil
		}
		return nil, codecErr(f, "invalid sign %q", sign)

	case KindDate:
		s := strings.TrimSpace(raw)
		if s == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, codecErr(f, "invalid date %q", raw)
		}
		return t, nil
	}
	return nil, codecErr(f, "unknown kind %q", f.Kind)
}

// Decode parses one line. The line must be exactly as wide as the record.
func Decode(r Record, line string) (Values, error) {
	line = strings.TrimRight(line, "\r")
	if len(line) != r.Length() {
		return nil, fmt.Errorf("%w: line is %d characters, record is %d", ErrCodec, len(line), r.Length())
	}
	values := make(Values, len(r))
	pos := 0
	for _, f := range r {
		v, err := decodeField(f, line[pos:pos+f.Length])
		if err != nil {
			return nil, err
		}
		values[f.Name] = v
		pos += f.Length
	}
	return values, nil
}
