package compare

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf16"
)

// Color classifies a span of a report. The presentation layer maps colors to
// concrete values.
type Color int

const (
	Unchanged Color = iota
	New
	Changed
	SizeSuffix
)

var colorNames = map[Color]string{
	Unchanged:  "UNCHANGED",
	New:        "NEW",
	Changed:    "CHANGED",
	SizeSuffix: "SIZE_SUFFIX",
}

func (c Color) String() string {
	if name, ok := colorNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

func (c Color) MarshalText() ([]byte, error) {
	name, ok := colorNames[c]
	if !ok {
		return nil, fmt.Errorf("unknown color %d", int(c))
	}
	return []byte(name), nil
}

func (c *Color) UnmarshalText(text []byte) error {
	for color, name := range colorNames {
		if name == string(text) {
			*c = color
			return nil
		}
	}
	return fmt.Errorf("unknown color %q", text)
}

// Span colors Text[Start:End], with offsets counted in UTF-16 code units.
type Span struct {
	Start int   `json:"start"`
	End   int   `json:"end"`
	Color Color `json:"color"`
}

// Report is a rendered tree with its color annotations.
type Report struct {
	Text  string `json:"text"`
	Spans []Span `json:"spans"`
}

// HasChanges reports whether any node is classified new or changed.
func (r *Report) HasChanges() bool {
	for _, s := range r.Spans {
		if s.Color == New || s.Color == Changed {
			return true
		}
	}
	return false
}

// Marshal encodes the report as JSON.
func (r *Report) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a report produced by Marshal.
func Unmarshal(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}

// builder accumulates text while tracking its length in UTF-16 code units.
type builder struct {
	sb    strings.Builder
	units int
	spans []Span
}

func (b *builder) write(s string) {
	b.sb.WriteString(s)
	for _, r := range s {
		b.units += utf16.RuneLen(r)
	}
}

func (b *builder) span(start int, color Color) {
	b.spans = append(b.spans, Span{Start: start, End: b.units, Color: color})
}

func (b *builder) report() *Report {
	spans := b.spans
	if spans == nil {
		spans = []Span{}
	}
	return &Report{Text: b.sb.String(), Spans: spans}
}
