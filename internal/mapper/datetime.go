package mapper

import (
	"strings"
	"time"
)

// fhirDate converts an HL7 DT/TS value to a FHIR date keeping its precision
// (YYYY, YYYY-MM or YYYY-MM-DD). Invalid input yields "".
func fhirDate(v string) string {
	v = strings.TrimSpace(v)
	switch {
	case len(v) >= 8:
		if t, err := time.Parse("20060102", v[:8]); err == nil {
			return t.Format("2006-01-02")
		}
	case len(v) >= 6:
		if t, err := time.Parse("200601", v[:6]); err == nil {
			return t.Format("2006-01")
		}
	case len(v) == 4:
		if t, err := time.Parse("2006", v); err == nil {
			return t.Format("2006")
		}
	}
	return ""
}

var tsLayouts = []string{"20060102150405", "200601021504", "2006010215"}

// fhirDateTime converts an HL7 TS value to a FHIR dateTime. A value without
// time of day keeps date precision. Values without an explicit offset are
// read in loc. Fractional seconds are dropped. Invalid input yields "".
func fhirDateTime(v string, loc *time.Location) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}

	var offset string
	if i := strings.IndexAny(v, "+-"); i >= 0 {
		v, offset = v[:i], v[i:]
	}
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}

	if len(v) <= 8 {
		return fhirDate(v)
	}

	zone := loc
	if offset != "" {
		o, err := time.Parse("-0700", offset)
		if err != nil {
			return ""
		}
		zone = o.Location()
	}

	for _, layout := range tsLayouts {
		if len(v) != len(layout) {
			continue
		}
		t, err := time.ParseInLocation(layout, v, zone)
		if err != nil {
			return ""
		}
		return t.Format(time.RFC3339)
	}
	return ""
}
