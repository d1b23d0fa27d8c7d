package mapper

import "fmt"

// ContactLevel is the granularity of an encounter in the contact hierarchy.
// Each level is contained in the one before it.
type ContactLevel int

const (
	Einrichtungskontakt ContactLevel = iota
	Abteilungskontakt
	Versorgungsstellenkontakt
)

// ContactLevels lists all levels from broadest to narrowest.
var ContactLevels = []ContactLevel{Einrichtungskontakt, Abteilungskontakt, Versorgungsstellenkontakt}

const kontaktebeneSystem = "http://fhir.de/CodeSystem/Kontaktebene"

func (l ContactLevel) Code() string {
	switch l {
	case Einrichtungskontakt:
		return "einrichtungskontakt"
	case Abteilungskontakt:
		return "abteilungskontakt"
	case Versorgungsstellenkontakt:
		return "versorgungsstellenkontakt"
	}
	return ""
}

func (l ContactLevel) Display() string {
	switch l {
	case Einrichtungskontakt:
		return "Einrichtungskontakt"
	case Abteilungskontakt:
		return "Abteilungskontakt"
	case Versorgungsstellenkontakt:
		return "Versorgungsstellenkontakt"
	}
	return ""
}

func (l ContactLevel) String() string {
	if d := l.Display(); d != "" {
		return d
	}
	return fmt.Sprintf("ContactLevel(%d)", int(l))
}
