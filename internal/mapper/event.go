package mapper

import (
	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// RequestType is the transaction method used for a bundle entry.
type RequestType int

const (
	// UpdateAsCreate is PUT <Type>?identifier=<system>|<value>.
	UpdateAsCreate RequestType = iota
	// ConditionalCreate is POST <Type> with ifNoneExist.
	ConditionalCreate
	// Patch is PATCH <Type>?identifier=<system>|<value> with a Parameters body.
	Patch
)

// Event describes how an ADT trigger event is mapped.
type Event struct {
	Code    string
	Name    string
	Patient RequestType
	// Encounters is false for events that only touch the patient.
	Encounters bool
	Merge      bool
}

var events = map[string]Event{
	"A01": {"A01", "Admit", UpdateAsCreate, true, false},
	"A02": {"A02", "Transfer", ConditionalCreate, true, false},
	"A03": {"A03", "Discharge", ConditionalCreate, true, false},
	"A04": {"A04", "Registration", UpdateAsCreate, true, false},
	"A05": {"A05", "PreAdmit", UpdateAsCreate, true, false},
	"A06": {"A06", "ChangeOutpatientToInpatient", UpdateAsCreate, true, false},
	"A07": {"A07", "ChangeInpatientToOutpatient", UpdateAsCreate, true, false},
	"A08": {"A08", "PatientUpdate", UpdateAsCreate, true, false},
	"A11": {"A11", "CancelAdmitVisit", ConditionalCreate, true, false},
	"A12": {"A12", "CancelTransfer", ConditionalCreate, true, false},
	"A13": {"A13", "CancelDischarge", ConditionalCreate, true, false},
	"A14": {"A14", "PendingAdmit", UpdateAsCreate, true, false},
	"A27": {"A27", "CancelPendingAdmit", ConditionalCreate, true, false},
	"A28": {"A28", "AddPersonInformation", UpdateAsCreate, false, false},
	"A31": {"A31", "ChangePersonData", ConditionalCreate, false, false},
	"A34": {"A34", "PatientMerge", UpdateAsCreate, false, true},
	"A40": {"A40", "MergePatientRecords", UpdateAsCreate, false, true},
}

// LookupEvent returns the mapping rules for a trigger event code.
func LookupEvent(code string) (Event, bool) {
	e, ok := events[code]
	return e, ok
}

// triggerEvent reads MSH-9.2, falling back to EVN-1 when MSH-9.2 is empty.
func triggerEvent(msg *hl7.Message) (Event, error) {
	if msg.Type != "" && msg.Type != "ADT" {
		return Event{}, mappingErr(ErrUnsupportedTriggerEvent, "message type %s^%s", msg.Type, msg.Trigger)
	}

	code := msg.Trigger
	if code == "" {
		code = msg.Segment("EVN", 0).Field(1).Value()
	}
	if code == "" {
		return Event{}, mappingErr(ErrUnsupportedTriggerEvent, "no trigger event in MSH-9.2 or EVN-1")
	}

	e, ok := LookupEvent(code)
	if !ok {
		return Event{}, mappingErr(ErrUnsupportedTriggerEvent, "%s", code)
	}
	return e, nil
}

// status maps the trigger event to an encounter status for one contact
// level. ended reports whether the level's period has an end.
func (e Event) status(level ContactLevel, ended bool) fhir.EncounterStatus {
	switch e.Code {
	case "A03":
		return fhir.EncounterStatusFinished
	case "A05", "A14":
		return fhir.EncounterStatusPlanned
	case "A11":
		return fhir.EncounterStatusEnteredInError
	case "A12":
		if level == Einrichtungskontakt {
			return fhir.EncounterStatusInProgress
		}
		return fhir.EncounterStatusEnteredInError
	case "A27":
		return fhir.EncounterStatusCancelled
	case "A08":
		if ended {
			return fhir.EncounterStatusFinished
		}
	}
	return fhir.EncounterStatusInProgress
}
