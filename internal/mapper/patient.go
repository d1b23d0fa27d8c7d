package mapper

import (
	"strconv"

	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

const (
	maritalStatusSystem  = "http://terminology.hl7.org/CodeSystem/v3-MaritalStatus"
	identifierTypeSystem = "http://terminology.hl7.org/CodeSystem/v2-0203"
)

// patientID is PID-2.1, falling back to the first non-empty PID-3.1.
func patientID(pid hl7.Segment) string {
	if v := pid.Field(2).Value(); v != "" {
		return v
	}
	for _, rep := range pid.Field(3).Repetitions() {
		if v := rep.Value(); v != "" {
			return v
		}
	}
	return ""
}

func (m *Mapper) patientIdentifier(id string) fhir.Identifier {
	return fhir.Identifier{
		Use:    ptr(fhir.IdentifierUseUsual),
		System: ptr(m.cfg.PatientSystem),
		Value:  ptr(id),
	}
}

func (m *Mapper) mapPatient(msg *hl7.Message, pid hl7.Segment) (fhir.Patient, error) {
	id := patientID(pid)
	if id == "" {
		return fhir.Patient{}, mappingErr(ErrMissingPatientIdentifier, "PID-2 and PID-3 are empty (PID occurrence %d)", pid.Occurrence)
	}

	patient := fhir.Patient{
		Meta:          m.meta(msg, m.cfg.PatientProfile),
		Identifier:    []fhir.Identifier{m.patientIdentifier(id)},
		Name:          mapNames(pid),
		Telecom:       mapTelecom(pid),
		Address:       mapAddresses(pid),
		MaritalStatus: mapMaritalStatus(pid.Field(16).Value()),
	}

	if d := fhirDate(pid.Field(7).Value()); d != "" {
		patient.BirthDate = &d
	}
	if g, ok := mapGender(pid.Field(8).Value()); ok {
		patient.Gender = &g
	}

	switch flag := pid.Field(24).Value(); flag {
	case "Y", "J":
		if n, err := strconv.Atoi(pid.Field(25).Value()); err == nil && n > 0 {
			patient.MultipleBirthInteger = &n
		} else {
			patient.MultipleBirthBoolean = ptr(true)
		}
	case "N":
		// PID-25 is ignored when the flag says no
		patient.MultipleBirthBoolean = ptr(false)
	}

	if dt := fhirDateTime(pid.Field(29).Value(), m.cfg.Location); dt != "" {
		patient.DeceasedDateTime = &dt
	} else {
		switch pid.Field(30).Value() {
		case "Y", "J":
			patient.DeceasedBoolean = ptr(true)
		case "N":
			patient.DeceasedBoolean = ptr(false)
		}
	}

	return patient, nil
}

func mapNames(pid hl7.Segment) []fhir.HumanName {
	var names []fhir.HumanName
	for _, rep := range pid.Field(5).Repetitions() {
		if name, ok := mapName(rep); ok {
			names = append(names, name)
		}
	}

	// PID-6 carries the birth name
	if family := pid.Field(6).Value(); family != "" {
		names = append(names, fhir.HumanName{
			Use:    ptr(fhir.NameUseMaiden),
			Family: &family,
		})
	}
	return names
}

func mapName(rep hl7.Repetition) (fhir.HumanName, bool) {
	var name fhir.HumanName
	if v := rep.Component(1).Value(); v != "" {
		name.Family = &v
	}
	for _, n := range []int{2, 3} {
		if v := rep.Component(n).Value(); v != "" {
			name.Given = append(name.Given, v)
		}
	}
	if name.Family == nil && len(name.Given) == 0 {
		return name, false
	}

	if v := rep.Component(4).Value(); v != "" {
		name.Suffix = []string{v}
	}
	for _, n := range []int{5, 6} {
		if v := rep.Component(n).Value(); v != "" {
			name.Prefix = append(name.Prefix, v)
		}
	}
	switch rep.Component(7).Value() {
	case "L":
		name.Use = ptr(fhir.NameUseOfficial)
	case "M", "B":
		name.Use = ptr(fhir.NameUseMaiden)
	case "N":
		name.Use = ptr(fhir.NameUseNickname)
	}
	return name, true
}

func mapAddresses(pid hl7.Segment) []fhir.Address {
	var addresses []fhir.Address
	for _, rep := range pid.Field(11).Repetitions() {
		// BDL is the birth place, not an address of the patient
		if rep.Component(7).Value() == "BDL" {
			continue
		}

		addr := fhir.Address{Type: ptr(fhir.AddressTypeBoth)}

		street := rep.Component(1)
		if line := street.SubComponent(1).Value(); line != "" {
			addr.Line = append(addr.Line, line)
		} else if name := street.SubComponent(2).Value(); name != "" {
			line := name
			if number := street.SubComponent(3).Value(); number != "" {
				line += " " + number
			}
			addr.Line = append(addr.Line, line)
		}
		if other := rep.Component(2).Value(); other != "" {
			addr.Line = append(addr.Line, other)
		}
		if v := rep.Component(3).Value(); v != "" {
			addr.City = &v
		}
		if v := rep.Component(5).Value(); v != "" {
			addr.PostalCode = &v
		}
		if v := rep.Component(6).Value(); v != "" {
			addr.Country = &v
		}

		if len(addr.Line) == 0 && addr.City == nil && addr.PostalCode == nil && addr.Country == nil {
			continue
		}
		addresses = append(addresses, addr)
	}
	return addresses
}

func mapTelecom(pid hl7.Segment) []fhir.ContactPoint {
	var points []fhir.ContactPoint
	for _, field := range []int{13, 14} {
		for _, rep := range pid.Field(field).Repetitions() {
			if cp, ok := mapContactPoint(rep, field == 14); ok {
				points = append(points, cp)
			}
		}
	}
	return points
}

func mapContactPoint(rep hl7.Repetition, business bool) (fhir.ContactPoint, bool) {
	equipment := rep.Component(3).Value()
	value := rep.Component(1).Value()
	if equipment == "Internet" || equipment == "X.400" {
		if email := rep.Component(4).Value(); email != "" {
			value = email
		}
	}
	if value == "" {
		return fhir.ContactPoint{}, false
	}

	cp := fhir.ContactPoint{Value: &value}
	switch equipment {
	case "Internet", "X.400":
		cp.System = ptr(fhir.ContactPointSystemEmail)
	case "FX":
		cp.System = ptr(fhir.ContactPointSystemFax)
	case "BP":
		cp.System = ptr(fhir.ContactPointSystemPager)
	case "CP":
		cp.System = ptr(fhir.ContactPointSystemPhone)
		cp.Use = ptr(fhir.ContactPointUseMobile)
	default:
		cp.System = ptr(fhir.ContactPointSystemPhone)
	}

	if cp.Use == nil {
		switch rep.Component(2).Value() {
		case "PRN", "ORN", "VHN":
			cp.Use = ptr(fhir.ContactPointUseHome)
		case "WPN":
			cp.Use = ptr(fhir.ContactPointUseWork)
		default:
			if business {
				cp.Use = ptr(fhir.ContactPointUseWork)
			}
		}
	}
	return cp, true
}

func mapGender(code string) (fhir.AdministrativeGender, bool) {
	switch code {
	case "":
		return 0, false
	case "F", "W":
		return fhir.AdministrativeGenderFemale, true
	case "M":
		return fhir.AdministrativeGenderMale, true
	case "O", "A", "D", "X":
		return fhir.AdministrativeGenderOther, true
	default:
		return fhir.AdministrativeGenderUnknown, true
	}
}

var maritalStatus = map[string][2]string{
	"A": {"L", "Legally Separated"},
	"E": {"L", "Legally Separated"},
	"D": {"D", "Divorced"},
	"M": {"M", "Married"},
	"S": {"S", "Never Married"},
	"W": {"W", "Widowed"},
	"C": {"C", "Common Law"},
	"G": {"T", "Domestic partner"},
	"P": {"T", "Domestic partner"},
	"R": {"T", "Domestic partner"},
	"N": {"A", "Annulled"},
	"I": {"I", "Interlocutory"},
	"B": {"U", "Unmarried"},
}

func mapMaritalStatus(code string) *fhir.CodeableConcept {
	if code == "" {
		return nil
	}
	status, ok := maritalStatus[code]
	if !ok {
		status = [2]string{"UNK", "Unknown"}
	}
	return &fhir.CodeableConcept{Coding: []fhir.Coding{{
		System:  ptr(maritalStatusSystem),
		Code:    ptr(status[0]),
		Display: ptr(status[1]),
	}}}
}
