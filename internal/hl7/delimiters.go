package hl7

// Delimiters is the encoding character set declared in MSH-1 and MSH-2.
type Delimiters struct {
	Field        byte
	Component    byte
	Repetition   byte
	Escape       byte
	SubComponent byte
}

// DefaultDelimiters are the HL7 recommended characters |^~\&.
var DefaultDelimiters = Delimiters{
	Field:        '|',
	Component:    '^',
	Repetition:   '~',
	Escape:       '\\',
	SubComponent: '&',
}

// parseDelimiters reads MSH-1 and MSH-2 from the first segment line.
func parseDelimiters(line string) (Delimiters, error) {
	if len(line) < 4 {
		return Delimiters{}, parseErr(ErrMalformedDelimiters, 1, "no field separator after MSH")
	}

	d := Delimiters{Field: line[3]}
	encoding := line[4:]
	for i := 0; i < len(encoding); i++ {
		if encoding[i] == d.Field {
			encoding = encoding[:i]
			break
		}
	}
	// MSH-2 may carry a fifth (truncation) character since v2.7; it is ignored.
	if len(encoding) < 4 {
		return Delimiters{}, parseErr(ErrMalformedDelimiters, 1, "MSH-2 declares %d encoding characters, need 4", len(encoding))
	}
	d.Component = encoding[0]
	d.Repetition = encoding[1]
	d.Escape = encoding[2]
	d.SubComponent = encoding[3]

	if err := d.validate(); err != nil {
		return Delimiters{}, err
	}
	return d, nil
}

func (d Delimiters) validate() error {
	chars := []byte{d.Field, d.Component, d.Repetition, d.Escape, d.SubComponent}
	seen := make(map[byte]bool, len(chars))
	for _, c := range chars {
		if isAlphaNum(c) || c == ' ' || c == '\r' || c == '\n' {
			return parseErr(ErrMalformedDelimiters, 1, "invalid delimiter %q", c)
		}
		if seen[c] {
			return parseErr(ErrMalformedDelimiters, 1, "delimiter %q declared twice", c)
		}
		seen[c] = true
	}
	return nil
}

// Encoding returns the MSH-2 value for d.
func (d Delimiters) Encoding() string {
	return string([]byte{d.Component, d.Repetition, d.Escape, d.SubComponent})
}

func isAlphaNum(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
