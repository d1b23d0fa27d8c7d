package mapper

import (
	"strings"

	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

const (
	actCodeSystem        = "http://terminology.hl7.org/CodeSystem/v3-ActCode"
	nullFlavorSystem     = "http://terminology.hl7.org/CodeSystem/v3-NullFlavor"
	kontaktartSystem     = "http://fhir.de/CodeSystem/kontaktart-de"
	aufnahmeanlassSystem = "http://fhir.de/CodeSystem/dgkev/Aufnahmeanlass"
)

// contact is one contact level found in a message.
type contact struct {
	level ContactLevel
	id    string
	start string
	end   string
}

// contacts returns the levels present in msg, broadest first.
func (m *Mapper) contacts(msg *hl7.Message, ev Event) []contact {
	pv1 := msg.Segment("PV1", 0)
	zbe := msg.Segment("ZBE", 0)

	facility := pv1.Field(19).Value()
	if ev.Code == "A14" {
		if v := msg.Segment("PID", 0).Field(4).Value(); v != "" {
			facility = v
		}
	}
	department := zbe.Field(1).Value()

	var found []contact
	for _, level := range ContactLevels {
		c := contact{level: level}
		switch level {
		case Einrichtungskontakt:
			c.id = facility
			c.start = fhirDateTime(pv1.Field(44).Value(), m.cfg.Location)
			c.end = fhirDateTime(pv1.Field(45).Value(), m.cfg.Location)
		case Abteilungskontakt:
			c.id = department
			c.start = fhirDateTime(zbe.Field(2).Value(), m.cfg.Location)
			c.end = fhirDateTime(zbe.Field(3).Value(), m.cfg.Location)
		case Versorgungsstellenkontakt:
			// a care site is only unique within its enclosing contact
			station := pv1.Field(3).Component(1).Value()
			if station != "" && len(found) > 0 {
				c.id = found[len(found)-1].id + "-" + station
			}
			c.start = fhirDateTime(zbe.Field(2).Value(), m.cfg.Location)
			c.end = fhirDateTime(zbe.Field(3).Value(), m.cfg.Location)
		}
		if c.id == "" {
			continue
		}
		// registrations are single-day contacts
		if ev.Code == "A04" && c.end == "" {
			c.end = c.start
		}
		found = append(found, c)
	}
	return found
}

// mapEncounters builds one Encounter per contact level present, each partOf
// the next broader level present.
func (m *Mapper) mapEncounters(msg *hl7.Message, ev Event, patientID string) []Resource {
	var (
		resources []Resource
		parent    *contact
	)
	for _, c := range m.contacts(msg, ev) {
		c := c
		enc := m.mapEncounter(msg, ev, c, parent, patientID)
		resources = append(resources, Resource{
			Type:       "Encounter",
			Request:    UpdateAsCreate,
			Identifier: enc.Identifier[0],
			Body:       enc,
		})
		parent = &c
	}
	return resources
}

func (m *Mapper) mapEncounter(msg *hl7.Message, ev Event, c contact, parent *contact, patientID string) fhir.Encounter {
	pv1 := msg.Segment("PV1", 0)

	enc := fhir.Encounter{
		Meta: m.meta(msg, m.cfg.EncounterProfile),
		Identifier: []fhir.Identifier{{
			Use:    ptr(fhir.IdentifierUseUsual),
			System: ptr(m.cfg.LevelSystem(c.level)),
			Value:  ptr(c.id),
		}},
		Status:  ev.status(c.level, c.end != ""),
		Class:   encounterClass(pv1.Field(2).Value()),
		Type:    encounterType(c.level, pv1.Field(2).Value()),
		Subject: &fhir.Reference{Reference: ptr(conditionalReference("Patient", m.cfg.PatientSystem, patientID))},
	}

	if c.level == Einrichtungskontakt {
		enc.Identifier = append(enc.Identifier, fhir.Identifier{
			Use:  ptr(fhir.IdentifierUseOfficial),
			Type: &fhir.CodeableConcept{Coding: []fhir.Coding{{
				System: ptr(identifierTypeSystem),
				Code:   ptr("VN"),
			}}},
			System: ptr(m.cfg.EncounterSystem),
			Value:  ptr(c.id),
		})
		if src := admitSource(pv1.Field(4).Value()); src != nil {
			enc.Hospitalization = &fhir.EncounterHospitalization{AdmitSource: src}
		}
	}

	if c.start != "" || c.end != "" {
		enc.Period = &fhir.Period{}
		if c.start != "" {
			enc.Period.Start = ptr(c.start)
		}
		if c.end != "" {
			enc.Period.End = ptr(c.end)
		}
	}

	if c.level != Versorgungsstellenkontakt {
		code := departmentCode(pv1)
		enc.ServiceType = m.cfg.Departments.ServiceType(code)
		if m.cfg.OrganizationSystem != "" && code != "" {
			enc.ServiceProvider = &fhir.Reference{
				Reference: ptr(conditionalReference("Organization", m.cfg.OrganizationSystem, code)),
			}
		}
	} else if display := locationDisplay(pv1.Field(3)); display != "" {
		enc.Location = []fhir.EncounterLocation{{
			Location: fhir.Reference{Display: ptr(display)},
		}}
	}

	if parent != nil {
		enc.PartOf = &fhir.Reference{
			Reference: ptr(conditionalReference("Encounter", m.cfg.LevelSystem(parent.level), parent.id)),
		}
	}
	return enc
}

// departmentCode is PV1-39.1, else the hospital service PV1-10.1.
func departmentCode(pv1 hl7.Segment) string {
	if v := pv1.Field(39).Value(); v != "" {
		return v
	}
	return pv1.Field(10).Value()
}

func encounterClass(code string) fhir.Coding {
	switch code {
	case "I":
		return coding(actCodeSystem, "IMP", "inpatient encounter")
	case "O":
		return coding(actCodeSystem, "AMB", "ambulatory")
	case "P":
		return coding(actCodeSystem, "PRENC", "pre-admission")
	case "E":
		return coding(actCodeSystem, "EMER", "emergency")
	}
	return coding(nullFlavorSystem, "UNK", "unknown")
}

func encounterType(level ContactLevel, patientClass string) []fhir.CodeableConcept {
	types := []fhir.CodeableConcept{{
		Coding: []fhir.Coding{coding(kontaktebeneSystem, level.Code(), level.Display())},
	}}

	var art fhir.Coding
	switch patientClass {
	case "TS":
		art = coding(kontaktartSystem, "teilstationaer", "Teilstationäre Behandlung")
	case "NS":
		art = coding(kontaktartSystem, "nachstationaer", "Nachstationär")
	case "VS":
		art = coding(kontaktartSystem, "vorstationaer", "Vorstationär")
	case "UB":
		art = coding(kontaktartSystem, "ub", "Untersuchung und Behandlung")
	default:
		return types
	}
	return append(types, fhir.CodeableConcept{Coding: []fhir.Coding{art}})
}

var aufnahmeanlass = map[string]string{
	"E": "Einweisung durch einen Arzt",
	"Z": "Einweisung durch einen Zahnarzt",
	"N": "Notfall",
	"R": "Aufnahme nach vorausgehender Behandlung in einer Rehabilitationseinrichtung",
	"V": "Verlegung mit Behandlungsdauer im verlegenden Krankenhaus länger als 24 Stunden",
	"A": "Verlegung mit Behandlungsdauer im verlegenden Krankenhaus bis zu 24 Stunden",
	"G": "Geburt",
	"B": "Begleitperson oder mitaufgenommene Pflegekraft",
}

func admitSource(code string) *fhir.CodeableConcept {
	display, ok := aufnahmeanlass[code]
	if !ok {
		return nil
	}
	return &fhir.CodeableConcept{Coding: []fhir.Coding{coding(aufnahmeanlassSystem, code, display)}}
}

// locationDisplay joins point of care, room and bed from PV1-3.
func locationDisplay(f hl7.Field) string {
	var parts []string
	for n := 1; n <= 3; n++ {
		if v := f.Component(n).Value(); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
