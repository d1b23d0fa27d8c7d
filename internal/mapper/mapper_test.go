package mapper

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/diz-unimr/adt-to-fhir/internal/config"
	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

const (
	patientSystem    = "https://fhir.diz.uni-marburg.de/sid/patient-id"
	encounterSystem  = "https://fhir.diz.uni-marburg.de/sid/encounter-id"
	facilitySystem   = "https://fhir.diz.uni-marburg.de/sid/encounter-einrichtungskontakt"
	departmentSystem = "https://fhir.diz.uni-marburg.de/sid/encounter-abteilungskontakt"
	careSiteSystem   = "https://fhir.diz.uni-marburg.de/sid/encounter-versorgungsstellenkontakt"
)

func testFhirConfig() config.Fhir {
	return config.Fhir{
		Person: config.ResourceConfig{
			Profile: "https://www.medizininformatik-initiative.de/fhir/core/modul-person/StructureDefinition/Patient",
			System:  patientSystem,
		},
		Fall: config.ResourceConfig{
			Profile: "https://www.medizininformatik-initiative.de/fhir/core/modul-fall/StructureDefinition/KontaktGesundheitseinrichtung",
			System:  encounterSystem,
		},
		Einrichtungskontakt:       facilitySystem,
		Abteilungskontakt:         departmentSystem,
		Versorgungsstellenkontakt: careSiteSystem,
		TimeZone:                  "Europe/Berlin",
	}
}

func testMapper(t *testing.T) *Mapper {
	t.Helper()
	cfg, err := Resolve(testFhirConfig())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return New(cfg)
}

// loadMessage parses a testdata fixture after applying old/new replacement
// pairs to its text.
func loadMessage(t *testing.T, name string, replacements ...string) *hl7.Message {
	t.Helper()
	raw, err := os.ReadFile(filepath.Join("testdata", name))
	if err != nil {
		t.Fatalf("failed to read fixture: %v", err)
	}
	text := strings.NewReplacer(replacements...).Replace(string(raw))
	msg, err := hl7.Parse([]byte(text))
	if err != nil {
		t.Fatalf("failed to parse fixture: %v", err)
	}
	return msg
}

func encountersOf(resources []Resource) []fhir.Encounter {
	var result []fhir.Encounter
	for _, r := range resources {
		if enc, ok := r.Body.(fhir.Encounter); ok {
			result = append(result, enc)
		}
	}
	return result
}

func TestMap_Admit(t *testing.T) {
	resources, err := testMapper(t).Map(loadMessage(t, "a01.hl7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(resources) != 4 {
		t.Fatalf("expected patient and 3 encounters, got %d resources", len(resources))
	}
	if resources[0].Type != "Patient" || resources[0].Request != UpdateAsCreate {
		t.Errorf("expected patient update-as-create first, got %s/%d", resources[0].Type, resources[0].Request)
	}

	encounters := encountersOf(resources)
	want := []struct {
		system string
		id     string
		partOf string
	}{
		{facilitySystem, "42424242", ""},
		{departmentSystem, "M1001", "Encounter?identifier=" + facilitySystem + "|42424242"},
		{careSiteSystem, "M1001-STA1", "Encounter?identifier=" + departmentSystem + "|M1001"},
	}
	for i, w := range want {
		enc := encounters[i]
		if got := *enc.Identifier[0].System; got != w.system {
			t.Errorf("encounter %d: expected system %s, got %s", i, w.system, got)
		}
		if got := *enc.Identifier[0].Value; got != w.id {
			t.Errorf("encounter %d: expected id %s, got %s", i, w.id, got)
		}
		if w.partOf == "" {
			if enc.PartOf != nil {
				t.Errorf("encounter %d: expected no partOf, got %s", i, *enc.PartOf.Reference)
			}
		} else if enc.PartOf == nil || *enc.PartOf.Reference != w.partOf {
			t.Errorf("encounter %d: expected partOf %s, got %v", i, w.partOf, enc.PartOf)
		}
		if enc.Status != fhir.EncounterStatusInProgress {
			t.Errorf("encounter %d: expected in-progress, got %v", i, enc.Status)
		}
		if got := *enc.Class.Code; got != "IMP" {
			t.Errorf("encounter %d: expected class IMP, got %s", i, got)
		}
		if got := *enc.Subject.Reference; got != "Patient?identifier="+patientSystem+"|1234567" {
			t.Errorf("encounter %d: unexpected subject %s", i, got)
		}
		if got := *enc.Type[0].Coding[0].Code; got != ContactLevels[i].Code() {
			t.Errorf("encounter %d: expected Kontaktebene %s, got %s", i, ContactLevels[i].Code(), got)
		}
	}

	facility := encounters[0]
	if len(facility.Identifier) != 2 || *facility.Identifier[1].System != encounterSystem {
		t.Errorf("expected official VN identifier on the facility contact, got %v", facility.Identifier)
	}
	if facility.Period == nil || *facility.Period.Start != "2023-09-12T10:52:00+02:00" {
		t.Errorf("expected facility start in local time, got %v", facility.Period)
	}
	if facility.Hospitalization == nil || *facility.Hospitalization.AdmitSource.Coding[0].Code != "N" {
		t.Errorf("expected admit source N, got %v", facility.Hospitalization)
	}
	for i := 0; i < 2; i++ {
		st := encounters[i].ServiceType
		if st == nil || *st.Coding[0].Code != "0800" {
			t.Errorf("encounter %d: expected service type 0800, got %v", i, st)
		}
	}

	careSite := encounters[2]
	if careSite.ServiceType != nil {
		t.Error("expected no service type on the care-site contact")
	}
	if len(careSite.Location) != 1 || *careSite.Location[0].Location.Display != "STA1 R12 B3" {
		t.Errorf("expected location display 'STA1 R12 B3', got %v", careSite.Location)
	}
}

func TestMap_PatientDemographics(t *testing.T) {
	resources, err := testMapper(t).Map(loadMessage(t, "a01.hl7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	patient, ok := resources[0].Body.(fhir.Patient)
	if !ok {
		t.Fatalf("expected fhir.Patient, got %T", resources[0].Body)
	}

	if got := *patient.Identifier[0].Value; got != "1234567" {
		t.Errorf("expected patient id 1234567, got %s", got)
	}
	if got := *patient.Identifier[0].System; got != patientSystem {
		t.Errorf("expected patient system %s, got %s", patientSystem, got)
	}
	if patient.Meta == nil || *patient.Meta.Source != "#ORBIS" {
		t.Errorf("expected meta.source #ORBIS, got %v", patient.Meta)
	}

	if len(patient.Name) != 3 {
		t.Fatalf("expected official, nickname and maiden name, got %d names", len(patient.Name))
	}
	official := patient.Name[0]
	if *official.Family != "Musterfrau" || *official.Use != fhir.NameUseOfficial {
		t.Errorf("unexpected official name %v", official)
	}
	if strings.Join(official.Given, " ") != "Maxi Anna" {
		t.Errorf("expected given names 'Maxi Anna', got %v", official.Given)
	}
	if strings.Join(official.Prefix, " ") != "von Dr." {
		t.Errorf("expected prefixes 'von Dr.', got %v", official.Prefix)
	}
	if *patient.Name[1].Use != fhir.NameUseNickname {
		t.Errorf("expected nickname second, got %v", *patient.Name[1].Use)
	}
	if *patient.Name[2].Use != fhir.NameUseMaiden || *patient.Name[2].Family != "Schmidt" {
		t.Errorf("expected maiden name Schmidt, got %v", patient.Name[2])
	}

	if *patient.BirthDate != "1980-01-01" {
		t.Errorf("expected birth date 1980-01-01, got %s", *patient.BirthDate)
	}
	if *patient.Gender != fhir.AdministrativeGenderFemale {
		t.Errorf("expected female, got %v", *patient.Gender)
	}
	if patient.MultipleBirthInteger == nil || *patient.MultipleBirthInteger != 2 {
		t.Errorf("expected multiple birth order 2, got %v", patient.MultipleBirthInteger)
	}
	if patient.MaritalStatus == nil || *patient.MaritalStatus.Coding[0].Code != "M" {
		t.Errorf("expected marital status M, got %v", patient.MaritalStatus)
	}

	if len(patient.Address) != 1 {
		t.Fatalf("expected birth place to be skipped, got %d addresses", len(patient.Address))
	}
	addr := patient.Address[0]
	if addr.Line[0] != "Hauptstr. 1" || *addr.City != "Marburg" || *addr.PostalCode != "35037" || *addr.Country != "DE" {
		t.Errorf("unexpected address %v", addr)
	}

	if len(patient.Telecom) != 2 {
		t.Fatalf("expected 2 telecom entries, got %d", len(patient.Telecom))
	}
	if *patient.Telecom[0].System != fhir.ContactPointSystemPhone || *patient.Telecom[0].Use != fhir.ContactPointUseHome {
		t.Errorf("expected home phone, got %v", patient.Telecom[0])
	}
	if *patient.Telecom[1].System != fhir.ContactPointSystemEmail || *patient.Telecom[1].Value != "maxi@example.org" {
		t.Errorf("expected email, got %v", patient.Telecom[1])
	}
}

func TestMap_Discharge(t *testing.T) {
	resources, err := testMapper(t).Map(loadMessage(t, "a03.hl7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resources[0].Request != ConditionalCreate {
		t.Errorf("expected conditional create for the patient, got %d", resources[0].Request)
	}
	for i, enc := range encountersOf(resources) {
		if enc.Status != fhir.EncounterStatusFinished {
			t.Errorf("encounter %d: expected finished, got %v", i, enc.Status)
		}
		if enc.Period == nil || enc.Period.End == nil || *enc.Period.End != "2023-09-20T14:30:00+02:00" {
			t.Errorf("encounter %d: expected end 2023-09-20T14:30:00+02:00, got %v", i, enc.Period)
		}
	}
}

func TestMap_StatusByEvent(t *testing.T) {
	tests := []struct {
		fixture    string
		trigger    string
		facility   fhir.EncounterStatus
		department fhir.EncounterStatus
	}{
		{"a01.hl7", "A02", fhir.EncounterStatusInProgress, fhir.EncounterStatusInProgress},
		{"a01.hl7", "A05", fhir.EncounterStatusPlanned, fhir.EncounterStatusPlanned},
		{"a01.hl7", "A11", fhir.EncounterStatusEnteredInError, fhir.EncounterStatusEnteredInError},
		{"a01.hl7", "A12", fhir.EncounterStatusInProgress, fhir.EncounterStatusEnteredInError},
		{"a01.hl7", "A27", fhir.EncounterStatusCancelled, fhir.EncounterStatusCancelled},
		{"a01.hl7", "A08", fhir.EncounterStatusInProgress, fhir.EncounterStatusInProgress},
		{"a03.hl7", "A08", fhir.EncounterStatusFinished, fhir.EncounterStatusFinished},
	}

	m := testMapper(t)
	for _, tt := range tests {
		t.Run(tt.fixture+"/"+tt.trigger, func(t *testing.T) {
			msg := loadMessage(t, tt.fixture, "ADT^A01^", "ADT^"+tt.trigger+"^", "ADT^A03^", "ADT^"+tt.trigger+"^")
			resources, err := m.Map(msg)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			encounters := encountersOf(resources)
			if len(encounters) != 3 {
				t.Fatalf("expected 3 encounters, got %d", len(encounters))
			}
			if encounters[0].Status != tt.facility {
				t.Errorf("expected facility status %v, got %v", tt.facility, encounters[0].Status)
			}
			if encounters[1].Status != tt.department {
				t.Errorf("expected department status %v, got %v", tt.department, encounters[1].Status)
			}
		})
	}
}

func TestMap_Registration(t *testing.T) {
	msg := loadMessage(t, "a01.hl7", "ADT^A01^", "ADT^A04^")
	resources, err := testMapper(t).Map(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	facility := encountersOf(resources)[0]
	if facility.Period == nil || facility.Period.End == nil || *facility.Period.End != *facility.Period.Start {
		t.Errorf("expected registration to end on its start, got %v", facility.Period)
	}
}

func TestMap_PatientOnlyEvent(t *testing.T) {
	msg := loadMessage(t, "a01.hl7", "ADT^A01^", "ADT^A28^")
	resources, err := testMapper(t).Map(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 1 || resources[0].Type != "Patient" {
		t.Errorf("expected only the patient, got %d resources", len(resources))
	}
}

func TestMap_TriggerFromEVN(t *testing.T) {
	msg := loadMessage(t, "a01.hl7", "ADT^A01^ADT_A01", "ADT")
	if msg.Trigger != "" {
		t.Fatalf("expected empty MSH-9.2, got %q", msg.Trigger)
	}
	resources, err := testMapper(t).Map(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 4 {
		t.Errorf("expected A01 from EVN-1, got %d resources", len(resources))
	}
}

func TestMap_Errors(t *testing.T) {
	tests := []struct {
		name         string
		fixture      string
		replacements []string
		want         error
	}{
		{"unknown trigger", "a01.hl7", []string{"ADT^A01^", "ADT^A45^"}, ErrUnsupportedTriggerEvent},
		{"non-ADT message", "a01.hl7", []string{"ADT^A01^ADT_A01", "ORU^R01^ORU_R01"}, ErrUnsupportedTriggerEvent},
		{"empty patient id", "a01.hl7", []string{"PID|1|1234567|1234567|", "PID|1|||"}, ErrMissingPatientIdentifier},
		{"missing prior id", "a40.hl7", []string{"MRG|09876543|", "MRG||"}, ErrMissingMergeIdentifier},
	}

	m := testMapper(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Map(loadMessage(t, tt.fixture, tt.replacements...))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			var mappingErr *MappingError
			if !errors.As(err, &mappingErr) {
				t.Errorf("expected *MappingError, got %T", err)
			}
		})
	}
}

func TestMap_MissingPIDSegment(t *testing.T) {
	msg, err := hl7.Parse([]byte("MSH|^~\\&|ORBIS|KH|WEBEPA|KH|20230912105234||ADT^A01^ADT_A01|1|P|2.5\rEVN|A01|202309121052\r"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := testMapper(t).Map(msg); !errors.Is(err, ErrMissingPatientIdentifier) {
		t.Errorf("expected ErrMissingPatientIdentifier, got %v", err)
	}
}

func TestMap_Merge(t *testing.T) {
	resources, err := testMapper(t).Map(loadMessage(t, "a40.hl7"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(resources) != 2 {
		t.Fatalf("expected survivor and patch, got %d resources", len(resources))
	}

	if resources[0].Request != UpdateAsCreate || *resources[0].Identifier.Value != "1234567" {
		t.Errorf("expected survivor 1234567 first, got %v", resources[0])
	}
	patch := resources[1]
	if patch.Request != Patch || *patch.Identifier.Value != "09876543" {
		t.Errorf("expected patch of 09876543, got %v", patch)
	}
	params, ok := patch.Body.(fhir.Parameters)
	if !ok {
		t.Fatalf("expected fhir.Parameters, got %T", patch.Body)
	}
	value := params.Parameter[0].Part[3]
	if value.Name != "value" || *value.Part[0].ValueReference.Reference != "Patient?identifier="+patientSystem+"|1234567" {
		t.Errorf("expected link to the survivor, got %v", value)
	}
	if *value.Part[1].ValueCode != "replaced-by" {
		t.Errorf("expected replaced-by link, got %s", *value.Part[1].ValueCode)
	}
}

type bundleJSON struct {
	ResourceType string `json:"resourceType"`
	Type         string `json:"type"`
	Entry        []struct {
		FullURL  string          `json:"fullUrl"`
		Resource json.RawMessage `json:"resource"`
		Request  struct {
			Method      string `json:"method"`
			URL         string `json:"url"`
			IfNoneExist string `json:"ifNoneExist"`
		} `json:"request"`
	} `json:"entry"`
}

func transform(t *testing.T, msg *hl7.Message) ([]byte, bundleJSON) {
	t.Helper()
	out, err := testMapper(t).Transform(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var b bundleJSON
	if err := json.Unmarshal(out, &b); err != nil {
		t.Fatalf("failed to decode bundle: %v", err)
	}
	return out, b
}

func TestTransform_Bundle(t *testing.T) {
	_, b := transform(t, loadMessage(t, "a01.hl7"))

	if b.ResourceType != "Bundle" || b.Type != "transaction" {
		t.Errorf("expected transaction bundle, got %s/%s", b.ResourceType, b.Type)
	}
	if len(b.Entry) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(b.Entry))
	}

	seen := make(map[string]bool)
	for i, e := range b.Entry {
		if e.Request.Method != "PUT" {
			t.Errorf("entry %d: expected PUT, got %s", i, e.Request.Method)
		}
		if !strings.HasPrefix(e.FullURL, "urn:uuid:") || seen[e.FullURL] {
			t.Errorf("entry %d: expected unique urn:uuid fullUrl, got %s", i, e.FullURL)
		}
		seen[e.FullURL] = true
	}
	if got := b.Entry[0].Request.URL; got != "Patient?identifier="+patientSystem+"|1234567" {
		t.Errorf("unexpected patient url %s", got)
	}
	if got := b.Entry[3].Request.URL; got != "Encounter?identifier="+careSiteSystem+"|M1001-STA1" {
		t.Errorf("unexpected care-site url %s", got)
	}
	if !bytes.Contains(b.Entry[0].Resource, []byte(`"resourceType":"Patient"`)) {
		t.Errorf("expected Patient resource, got %s", b.Entry[0].Resource)
	}
}

func TestTransform_Deterministic(t *testing.T) {
	first, _ := transform(t, loadMessage(t, "a01.hl7"))
	second, _ := transform(t, loadMessage(t, "a01.hl7"))
	if !bytes.Equal(first, second) {
		t.Error("expected identical output for identical input")
	}
}

func TestTransform_ConditionalCreate(t *testing.T) {
	_, b := transform(t, loadMessage(t, "a03.hl7"))

	patient := b.Entry[0].Request
	if patient.Method != "POST" || patient.URL != "Patient" {
		t.Errorf("expected POST Patient, got %s %s", patient.Method, patient.URL)
	}
	if patient.IfNoneExist != "identifier="+patientSystem+"|1234567" {
		t.Errorf("unexpected ifNoneExist %s", patient.IfNoneExist)
	}
}

func TestTransform_MergePatch(t *testing.T) {
	_, b := transform(t, loadMessage(t, "a40.hl7"))

	if len(b.Entry) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(b.Entry))
	}
	patch := b.Entry[1].Request
	if patch.Method != "PATCH" || patch.URL != "Patient?identifier="+patientSystem+"|09876543" {
		t.Errorf("expected PATCH of the prior patient, got %s %s", patch.Method, patch.URL)
	}
	if !bytes.Contains(b.Entry[1].Resource, []byte(`"resourceType":"Parameters"`)) {
		t.Errorf("expected Parameters body, got %s", b.Entry[1].Resource)
	}
}

func TestTransform_EscapesIdentifierValue(t *testing.T) {
	msg := loadMessage(t, "a01.hl7", "PID|1|1234567|1234567|", "PID|1|12 34&5|1234567|")
	_, b := transform(t, msg)
	if got := b.Entry[0].Request.URL; got != "Patient?identifier="+patientSystem+"|12+34" {
		t.Errorf("expected query-escaped id, got %s", got)
	}
}
