package hl7

import (
	"encoding/hex"
	"strings"
)

// unescape decodes HL7 escape sequences in a leaf value.
// Formatting and charset switching sequences (\H\, \N\, \Cxxyy\, \Mxxyyzz\)
// are dropped. Unknown or unterminated sequences are kept verbatim.
func unescape(s string, d *Delimiters) string {
	if strings.IndexByte(s, d.Escape) < 0 {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != d.Escape {
			b.WriteByte(c)
			continue
		}

		end := strings.IndexByte(s[i+1:], d.Escape)
		if end < 0 {
			b.WriteString(s[i:])
			break
		}
		seq := s[i+1 : i+1+end]
		if !writeEscape(&b, seq, d) {
			b.WriteString(s[i : i+end+2])
		}
		i += end + 1
	}
	return b.String()
}

func writeEscape(b *strings.Builder, seq string, d *Delimiters) bool {
	switch seq {
	case "F":
		b.WriteByte(d.Field)
	case "S":
		b.WriteByte(d.Component)
	case "T":
		b.WriteByte(d.SubComponent)
	case "R":
		b.WriteByte(d.Repetition)
	case "E":
		b.WriteByte(d.Escape)
	case ".br":
		b.WriteByte('\n')
	case "H", "N":
	default:
		switch {
		case len(seq) > 1 && seq[0] == 'X':
			raw, err := hex.DecodeString(seq[1:])
			if err != nil {
				return false
			}
			b.Write(raw)
		case len(seq) > 1 && (seq[0] == 'C' || seq[0] == 'M'):
		default:
			return false
		}
	}
	return true
}

// escape encodes delimiter characters in s so it can be placed in a field.
func escape(s string, d *Delimiters) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case d.Escape:
			b.WriteString(string(d.Escape) + "E" + string(d.Escape))
		case d.Field:
			b.WriteString(string(d.Escape) + "F" + string(d.Escape))
		case d.Component:
			b.WriteString(string(d.Escape) + "S" + string(d.Escape))
		case d.SubComponent:
			b.WriteString(string(d.Escape) + "T" + string(d.Escape))
		case d.Repetition:
			b.WriteString(string(d.Escape) + "R" + string(d.Escape))
		case '\r', '\n':
			b.WriteString(string(d.Escape) + ".br" + string(d.Escape))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
