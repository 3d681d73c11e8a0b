package accumulation

import (
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed layouts/*.yaml
var layoutFiles embed.FS

// ErrUnknownPayer is returned for payers without an accumulation layout.
var ErrUnknownPayer = errors.New("no accumulation layout for payer")

// Field kinds.
const (
	KindAlpha        = "alpha"
	KindNumeric      = "numeric"
	KindAmount       = "amount"
	KindSignedAmount = "signed_amount"
	KindDate         = "date"
)

// Record names inside a layout.
const (
	RecordHeader       = "header"
	RecordDetail       = "detail"
	RecordTrailer      = "trailer"
	RecordResponse     = "response"
	RecordAccumulation = "accumulation"
)

// Field is one fixed-width column.
type Field struct {
	Name     string `yaml:"name"`
	Length   int    `yaml:"length"`
	Kind     string `yaml:"kind"`
	Justify  string `yaml:"justify"`
	Pad      string `yaml:"pad"`
	Constant string `yaml:"constant"`
}

// Record is an ordered list of fields. Its first field holds a constant that
// identifies the record type on a line.
type Record []Field

// Length is the width of an encoded line.
func (r Record) Length() int {
	n := 0
	for _, f := range r {
		n += f.Length
	}
	return n
}

// Tag is the record-type constant that starts every line of this record.
func (r Record) Tag() string {
	if len(r) == 0 {
		return ""
	}
	return r[0].Constant
}

// Layout describes one payer's accumulation file format.
type Layout struct {
	Payer       string            `yaml:"payer"`
	DisplayName string            `yaml:"display_name"`
	SenderID    string            `yaml:"sender_id"`
	ReceiverID  string            `yaml:"receiver_id"`
	Records     map[string]Record `yaml:"records"`
}

// Record returns the named record or an error if the layout lacks it.
func (l *Layout) Record(name string) (Record, error) {
	r, ok := l.Records[name]
	if !ok || len(r) == 0 {
		return nil, fmt.Errorf("layout %s has no %s record", l.Payer, name)
	}
	return r, nil
}

// RecordFor finds the record whose tag starts line.
func (l *Layout) RecordFor(line string) (string, Record, bool) {
	for name, r := range l.Records {
		if tag := r.Tag(); tag != "" && strings.HasPrefix(line, tag) {
			return name, r, true
		}
	}
	return "", nil, false
}

func (f *Field) normalize() error {
	if f.Name == "" {
		return errors.New("field name is required")
	}
	if f.Length <= 0 {
		return fmt.Errorf("field %s: length must be positive", f.Name)
	}
	switch f.Kind {
	case KindAlpha:
		if f.Justify == "" {
			f.Justify = "left"
		}
		if f.Pad == "" {
			f.Pad = " "
		}
	case KindNumeric, KindAmount, KindSignedAmount:
		if f.Justify == "" {
			f.Justify = "right"
		}
		if f.Pad == "" {
			f.Pad = "0"
		}
		if f.Kind == KindSignedAmount && f.Length < 2 {
			return fmt.Errorf("field %s: signed amounts need room for a sign", f.Name)
		}
	case KindDate:
		if f.Length != 8 {
			return fmt.Errorf("field %s: dates are 8 characters", f.Name)
		}
		f.Justify, f.Pad = "left", " "
	default:
		return fmt.Errorf("field %s: unknown kind %q", f.Name, f.Kind)
	}
	if f.Justify != "left" && f.Justify != "right" {
		return fmt.Errorf("field %s: justify must be left or right", f.Name)
	}
	if len(f.Pad) != 1 {
		return fmt.Errorf("field %s: pad must be one character", f.Name)
	}
	if len(f.Constant) > f.Length {
		return fmt.Errorf("field %s: constant longer than field", f.Name)
	}
	return nil
}

// ParseLayout decodes and checks a YAML layout.
func ParseLayout(data []byte) (*Layout, error) {
	var l Layout
	if err := yaml.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	if l.Payer == "" {
		return nil, errors.New("layout payer is required")
	}
	if l.DisplayName == "" {
		l.DisplayName = l.Payer
	}
	for _, name := range []string{RecordHeader, RecordDetail, RecordTrailer} {
		if len(l.Records[name]) == 0 {
			return nil, fmt.Errorf("layout %s: %s record is required", l.Payer, name)
		}
	}
	tags := map[string]string{}
	for name, r := range l.Records {
		for i := range r {
			if err := r[i].normalize(); err != nil {
				return nil, fmt.Errorf("layout %s %s: %w", l.Payer, name, err)
			}
		}
		tag := r.Tag()
		if tag == "" {
			return nil, fmt.Errorf("layout %s %s: first field must be a record type constant", l.Payer, name)
		}
		if other, dup := tags[tag]; dup {
			return nil, fmt.Errorf("layout %s: %s and %s share tag %q", l.Payer, name, other, tag)
		}
		tags[tag] = name
	}
	return &l, nil
}

var (
	layoutsOnce sync.Once
	layouts     map[string]*Layout
	layoutsErr  error
)

func loadLayouts() (map[string]*Layout, error) {
	layoutsOnce.Do(func() {
		entries, err := layoutFiles.ReadDir("layouts")
		if err != nil {
			layoutsErr = err
			return
		}
		layouts = make(map[string]*Layout, len(entries))
		for _, e := range entries {
			data, err := layoutFiles.ReadFile(path.Join("layouts", e.Name()))
			if err != nil {
				layoutsErr = err
				return
			}
			l, err := ParseLayout(data)
			if err != nil {
				layoutsErr = fmt.Errorf("%s: %w", e.Name(), err)
				return
			}
			layouts[l.Payer] = l
		}
	})
	return layouts, layoutsErr
}

// LayoutFor returns the embedded layout for payer.
func LayoutFor(payer string) (*Layout, error) {
	all, err := loadLayouts()
	if err != nil {
		return nil, err
	}
	l, ok := all[payer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPayer, payer)
	}
	return l, nil
}

// Payers lists the payers with an embedded layout.
func Payers() []string {
	all, _ := loadLayouts()
	out := make([]string, 0, len(all))
	for p := range all {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
