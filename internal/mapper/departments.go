package mapper

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

const fachabteilungsschluesselSystem = "http://fhir.de/CodeSystem/dkgev/Fachabteilungsschluessel-erweitert"

//go:embed departments.json
var defaultDepartments []byte

// Department is a Fachabteilungsschlüssel entry.
type Department struct {
	Schluessel  string `json:"fachabteilungsschluessel"`
	Bezeichnung string `json:"abteilungsbezeichnung"`
}

// Departments maps department abbreviations to Fachabteilungsschlüssel.
type Departments map[string]Department

// LoadDepartments reads the department table from path, or the built-in
// table when path is empty.
func LoadDepartments(path string) (Departments, error) {
	data := defaultDepartments
	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("read department map: %w", err)
		}
	}

	var d Departments
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode department map: %w", err)
	}
	return d, nil
}

// ServiceType returns the coded department for an abbreviation or a
// four-digit key. Unknown codes yield nil.
func (d Departments) ServiceType(code string) *fhir.CodeableConcept {
	if code == "" {
		return nil
	}
	coding := fhir.Coding{System: ptr(fachabteilungsschluesselSystem)}
	if dep, ok := d[code]; ok {
		coding.Code = ptr(dep.Schluessel)
		coding.Display = ptr(dep.Bezeichnung)
	} else if isDepartmentKey(code) {
		coding.Code = ptr(code)
	} else {
		return nil
	}
	return &fhir.CodeableConcept{Coding: []fhir.Coding{coding}}
}

func isDepartmentKey(code string) bool {
	if len(code) != 4 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
