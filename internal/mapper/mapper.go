package mapper

import (
	"encoding/json"
	"fmt"

	"github.com/diz-unimr/adt-to-fhir/internal/hl7"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// Mapper converts ADT messages to FHIR resources. It holds no mutable state
// and is safe for concurrent use.
type Mapper struct {
	cfg *Config
}

func New(cfg *Config) *Mapper {
	return &Mapper{cfg: cfg}
}

// Map converts msg into the patient, merge and encounter resources it
// describes. The result depends only on msg and the configuration.
func (m *Mapper) Map(msg *hl7.Message) ([]Resource, error) {
	ev, err := triggerEvent(msg)
	if err != nil {
		return nil, err
	}

	pids := msg.Segments("PID")
	if len(pids) == 0 {
		return nil, mappingErr(ErrMissingPatientIdentifier, "no PID segment")
	}

	var resources []Resource
	if ev.Merge || len(pids) > 1 {
		if resources, err = m.mapMerge(msg, pids); err != nil {
			return nil, err
		}
	} else {
		patient, err := m.mapPatient(msg, pids[0])
		if err != nil {
			return nil, err
		}
		resources = append(resources, Resource{
			Type:       "Patient",
			Request:    ev.Patient,
			Identifier: patient.Identifier[0],
			Body:       patient,
		})
	}

	if ev.Encounters {
		resources = append(resources, m.mapEncounters(msg, ev, patientID(pids[0]))...)
	}
	return resources, nil
}

// Transform maps msg and serializes the result as a transaction bundle.
func (m *Mapper) Transform(msg *hl7.Message) ([]byte, error) {
	resources, err := m.Map(msg)
	if err != nil {
		return nil, err
	}
	bundle, err := NewBundle(resources)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("marshal bundle: %w", err)
	}
	return out, nil
}

// mapMerge pairs PID occurrence i with MRG occurrence i. Each pair yields
// the surviving patient and a patch linking the prior record to it.
func (m *Mapper) mapMerge(msg *hl7.Message, pids []hl7.Segment) ([]Resource, error) {
	var resources []Resource
	for i, pid := range pids {
		patient, err := m.mapPatient(msg, pid)
		if err != nil {
			return nil, err
		}
		prior := msg.Segment("MRG", i).Field(1).Value()
		if prior == "" {
			return nil, mappingErr(ErrMissingMergeIdentifier, "MRG-1 is empty for PID occurrence %d", i)
		}

		resources = append(resources,
			Resource{
				Type:       "Patient",
				Request:    UpdateAsCreate,
				Identifier: patient.Identifier[0],
				Body:       patient,
			},
			Resource{
				Type:       "Patient",
				Request:    Patch,
				Identifier: fhir.Identifier{System: ptr(m.cfg.PatientSystem), Value: ptr(prior)},
				Body:       m.replacedBy(patientID(pid)),
			},
		)
	}
	return resources, nil
}

// replacedBy is a FHIRPath patch adding a replaced-by link to the survivor.
func (m *Mapper) replacedBy(survivor string) fhir.Parameters {
	ref := conditionalReference("Patient", m.cfg.PatientSystem, survivor)
	return fhir.Parameters{Parameter: []fhir.ParametersParameter{{
		Name: "operation",
		Part: []fhir.ParametersParameter{
			{Name: "type", ValueCode: ptr("add")},
			{Name: "path", ValueString: ptr("Patient")},
			{Name: "name", ValueString: ptr("link")},
			{Name: "value", Part: []fhir.ParametersParameter{
				{Name: "other", ValueReference: &fhir.Reference{Reference: ptr(ref), Type: ptr("Patient")}},
				{Name: "type", ValueCode: ptr("replaced-by")},
			}},
		},
	}}}
}

func (m *Mapper) meta(msg *hl7.Message, profile string) *fhir.Meta {
	meta := &fhir.Meta{Profile: []string{profile}}
	if app := msg.Header().Field(3).Value(); app != "" {
		meta.Source = ptr("#" + app)
	}
	return meta
}

func coding(system, code, display string) fhir.Coding {
	return fhir.Coding{System: ptr(system), Code: ptr(code), Display: ptr(display)}
}

func ptr[T any](v T) *T {
	return &v
}
