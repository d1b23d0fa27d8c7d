package hl7

import (
	"bytes"
	"strings"
)

// Parse tokenizes a raw HL7v2 message. MLLP framing is stripped, segment
// terminators may be CR, LF or CRLF, and the delimiter set is taken from the
// message's own MSH segment.
func Parse(raw []byte) (*Message, error) {
	raw = bytes.TrimSpace(UnwrapMLLP(raw))
	if len(raw) == 0 {
		return nil, parseErr(ErrMissingHeader, 0, "empty message")
	}
	if !bytes.HasPrefix(raw, []byte("MSH")) {
		return nil, parseErr(ErrMissingHeader, 1, "message starts with %q", firstLine(raw))
	}
	if len(raw) < 4 {
		return nil, parseErr(ErrMalformedDelimiters, 1, "no field separator after MSH")
	}

	text, err := decodeText(raw, raw[3])
	if err != nil {
		return nil, parseErr(ErrMalformedDelimiters, 1, "%v", err)
	}

	lines := strings.FieldsFunc(text, func(r rune) bool { return r == '\r' || r == '\n' })

	d, err := parseDelimiters(lines[0])
	if err != nil {
		return nil, err
	}

	msg := &Message{
		Delimiters: d,
		byName:     make(map[string][]int),
	}
	delims := &msg.Delimiters

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := i + 1

		if len(line) < 3 || !isSegmentName(line[:3]) {
			return nil, parseErr(ErrTruncatedSegment, n, "invalid segment name in %q", line)
		}
		if len(line) > 3 && line[3] != d.Field {
			return nil, parseErr(ErrTruncatedSegment, n, "segment %s not followed by field separator", line[:3])
		}

		name := line[:3]
		if name == "MSH" && len(msg.byName["MSH"]) > 0 {
			return nil, parseErr(ErrDuplicateHeader, n, "")
		}

		var fields []string
		if name == "MSH" {
			// MSH-1 is the separator itself; fields[1] holds MSH-2.
			fields = append([]string{name}, strings.Split(line[4:], string(d.Field))...)
			if len(fields) < 9 {
				return nil, parseErr(ErrTruncatedSegment, n, "MSH ends before MSH-9")
			}
		} else {
			fields = strings.Split(line, string(d.Field))
		}

		msg.byName[name] = append(msg.byName[name], len(msg.segments))
		msg.segments = append(msg.segments, Segment{
			Name:       name,
			Occurrence: len(msg.byName[name]) - 1,
			fields:     fields,
			d:          delims,
		})
	}

	header := msg.Header()
	msgType := header.Field(9)
	msg.Type = msgType.Component(1).Value()
	msg.Trigger = msgType.Component(2).Value()
	msg.Structure = msgType.Component(3).Value()
	msg.ControlID = header.Field(10).Value()
	msg.Version = header.Field(12).Value()

	return msg, nil
}

func isSegmentName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= 'A' && c <= 'Z') && !(c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

func firstLine(raw []byte) string {
	if i := bytes.IndexAny(raw, "\r\n"); i >= 0 {
		raw = raw[:i]
	}
	if len(raw) > 20 {
		raw = raw[:20]
	}
	return string(raw)
}
