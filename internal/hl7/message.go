package hl7

import "strings"

// Message is a tokenized HL7v2 message. Segments are split into fields on
// parse; repetitions, components and sub-components are split on access.
//
// Field and component positions are 1-based as in HL7 notation (PID-5.1),
// segment occurrences and repetitions are 0-based.
type Message struct {
	Delimiters Delimiters
	Type       string // MSH-9.1, e.g. ADT
	Trigger    string // MSH-9.2, e.g. A01
	Structure  string // MSH-9.3
	ControlID  string // MSH-10
	Version    string // MSH-12

	segments []Segment
	byName   map[string][]int
}

// Segment returns the given occurrence of a segment type. A missing segment
// yields a zero Segment whose accessors return absent values.
func (m *Message) Segment(name string, occurrence int) Segment {
	idx := m.byName[name]
	if occurrence < 0 || occurrence >= len(idx) {
		return Segment{Name: name, Occurrence: occurrence}
	}
	return m.segments[idx[occurrence]]
}

// Segments returns all occurrences of a segment type in message order.
func (m *Message) Segments(name string) []Segment {
	idx := m.byName[name]
	result := make([]Segment, 0, len(idx))
	for _, i := range idx {
		result = append(result, m.segments[i])
	}
	return result
}

// Count returns the number of occurrences of a segment type.
func (m *Message) Count(name string) int {
	return len(m.byName[name])
}

// Has reports whether at least one segment of the given type is present.
func (m *Message) Has(name string) bool {
	return m.Count(name) > 0
}

// Header returns the MSH segment.
func (m *Message) Header() Segment {
	return m.Segment("MSH", 0)
}

// All returns every segment in message order.
func (m *Message) All() []Segment {
	return m.segments
}

// Segment is one line of a message.
type Segment struct {
	Name       string
	Occurrence int

	fields []string // fields[0] is the segment name
	d      *Delimiters
}

// Present reports whether the segment exists in the message.
func (s Segment) Present() bool {
	return s.d != nil
}

// Len returns the number of the last field present.
func (s Segment) Len() int {
	if len(s.fields) == 0 {
		return 0
	}
	if s.Name == "MSH" {
		return len(s.fields)
	}
	return len(s.fields) - 1
}

// Field returns field n (1-based). For MSH, field 1 is the field separator
// and field 2 the encoding characters, both returned verbatim.
func (s Segment) Field(n int) Field {
	if s.d == nil || n < 1 {
		return Field{}
	}
	if s.Name == "MSH" {
		switch n {
		case 1:
			return Field{value{raw: string(s.d.Field), present: true, literal: true, d: s.d}}
		case 2:
			return Field{value{raw: s.fields[1], present: true, literal: true, d: s.d}}
		}
		n--
	}
	if n >= len(s.fields) {
		return Field{}
	}
	return Field{value{raw: s.fields[n], present: true, d: s.d}}
}

// Raw returns the segment line as received.
func (s Segment) Raw() string {
	if s.d == nil {
		return ""
	}
	return strings.Join(s.fields, string(s.d.Field))
}

// value is shared by all element levels.
type value struct {
	raw     string
	present bool
	literal bool
	d       *Delimiters
}

// Raw returns the element text with delimiters and escapes untouched.
func (v value) Raw() string { return v.raw }

// Present reports whether the element exists, even if empty.
func (v value) Present() bool { return v.present }

// Empty reports whether the element is absent or has no content.
func (v value) Empty() bool { return v.raw == "" }

// IsNull reports whether the element carries the explicit HL7 null "".
func (v value) IsNull() bool { return v.raw == `""` }

func (v value) split(sep byte) []string {
	if !v.present {
		return nil
	}
	if v.literal {
		return []string{v.raw}
	}
	return strings.Split(v.raw, string(sep))
}

func (v value) child(parts []string, i int) value {
	if i < 0 || i >= len(parts) {
		return value{d: v.d}
	}
	return value{raw: parts[i], present: true, literal: v.literal, d: v.d}
}

func (v value) text() string {
	if !v.present || v.literal || v.IsNull() {
		if v.literal {
			return v.raw
		}
		return ""
	}
	return unescape(v.raw, v.d)
}

// Field is a segment field, possibly repeating.
type Field struct{ value }

// Repetitions returns every repetition of the field.
func (f Field) Repetitions() []Repetition {
	parts := f.split(f.sep())
	result := make([]Repetition, len(parts))
	for i := range parts {
		result[i] = Repetition{f.child(parts, i)}
	}
	return result
}

// Repetition returns repetition i (0-based).
func (f Field) Repetition(i int) Repetition {
	return Repetition{f.child(f.split(f.sep()), i)}
}

// Component is shorthand for Repetition(0).Component(n).
func (f Field) Component(n int) Component {
	return f.Repetition(0).Component(n)
}

// Value is the decoded text of the first component of the first repetition.
func (f Field) Value() string {
	return f.Component(1).Value()
}

func (f Field) sep() byte {
	if f.d == nil {
		return 0
	}
	return f.d.Repetition
}

// Repetition is one occurrence of a repeating field.
type Repetition struct{ value }

// Component returns component n (1-based).
func (r Repetition) Component(n int) Component {
	if r.d == nil {
		return Component{}
	}
	return Component{r.child(r.split(r.d.Component), n-1)}
}

// Components returns every component of the repetition.
func (r Repetition) Components() []Component {
	if r.d == nil {
		return nil
	}
	parts := r.split(r.d.Component)
	result := make([]Component, len(parts))
	for i := range parts {
		result[i] = Component{r.child(parts, i)}
	}
	return result
}

// Value is the decoded text of the first component.
func (r Repetition) Value() string {
	return r.Component(1).Value()
}

// Component is a field component, possibly holding sub-components.
type Component struct{ value }

// SubComponent returns sub-component n (1-based).
func (c Component) SubComponent(n int) SubComponent {
	if c.d == nil {
		return SubComponent{}
	}
	return SubComponent{c.child(c.split(c.d.SubComponent), n-1)}
}

// SubComponents returns every sub-component.
func (c Component) SubComponents() []SubComponent {
	if c.d == nil {
		return nil
	}
	parts := c.split(c.d.SubComponent)
	result := make([]SubComponent, len(parts))
	for i := range parts {
		result[i] = SubComponent{c.child(parts, i)}
	}
	return result
}

// Value is the decoded text of the first sub-component.
func (c Component) Value() string {
	return c.SubComponent(1).Value()
}

// SubComponent is the leaf level.
type SubComponent struct{ value }

// Value is the text with escape sequences decoded.
func (s SubComponent) Value() string {
	return s.text()
}
