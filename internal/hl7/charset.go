package hl7

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// charsets maps MSH-18 values to decoders. UTF-8 and ASCII need none.
var charsets = map[string]encoding.Encoding{
	"8859/1":  charmap.ISO8859_1,
	"8859/15": charmap.ISO8859_15,
}

// decodeText converts raw to UTF-8 according to MSH-18. Without a declared
// charset, input that is not valid UTF-8 is read as ISO-8859-1.
func decodeText(raw []byte, fieldSep byte) (string, error) {
	charset := headerCharset(raw, fieldSep)

	if enc, ok := charsets[charset]; ok {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decode %s: %w", charset, err)
		}
		return string(out), nil
	}

	if charset == "" && !utf8.Valid(raw) {
		out, err := charmap.ISO8859_1.NewDecoder().Bytes(raw)
		if err != nil {
			return "", fmt.Errorf("decode fallback 8859/1: %w", err)
		}
		return string(out), nil
	}
	return string(raw), nil
}

// headerCharset returns the first repetition of MSH-18 from the raw header line.
func headerCharset(raw []byte, fieldSep byte) string {
	line := raw
	if i := bytes.IndexAny(raw, "\r\n"); i >= 0 {
		line = raw[:i]
	}
	fields := bytes.Split(line, []byte{fieldSep})
	// fields[0] is "MSH", so MSH-n sits at index n-1
	if len(fields) < 18 {
		return ""
	}
	value := string(fields[17])
	if len(fields[1]) > 1 {
		if i := strings.IndexByte(value, fields[1][1]); i >= 0 {
			value = value[:i]
		}
	}
	return strings.ToUpper(strings.TrimSpace(value))
}
