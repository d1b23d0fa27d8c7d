package main

import (
	"bytes"
	"strings"
	"testing"
)

const a01 = "MSH|^~\\&|ORBIS|KH|WEBEPA|KH|20230912105234||ADT^A01^ADT_A01|12345678|P|2.5\r" +
	"EVN|A01|202309121052\r" +
	"PID|1|1234567|1234567||Musterfrau^Maxi\r"

func setFhirEnv(t *testing.T) {
	t.Helper()
	t.Setenv("FHIR_PERSON_PROFILE", "https://example.org/StructureDefinition/Patient")
	t.Setenv("FHIR_PERSON_SYSTEM", "https://example.org/sid/patient-id")
	t.Setenv("FHIR_FALL_PROFILE", "https://example.org/StructureDefinition/Encounter")
	t.Setenv("FHIR_FALL_SYSTEM", "https://example.org/sid/encounter-id")
	t.Setenv("FHIR_FALL_EINRICHTUNGSKONTAKT_SYSTEM", "https://example.org/sid/einrichtungskontakt")
	t.Setenv("FHIR_FALL_ABTEILUNGSKONTAKT_SYSTEM", "https://example.org/sid/abteilungskontakt")
	t.Setenv("FHIR_FALL_VERSORGUNGSSTELLENKONTAKT_SYSTEM", "https://example.org/sid/versorgungsstellenkontakt")
	t.Setenv("FHIR_ORGANIZATION_SYSTEM", "")
	t.Setenv("FHIR_DEPARTMENT_MAP", "")
}

func runCmd(args []string, stdin string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestMapCommand(t *testing.T) {
	setFhirEnv(t)

	out, err := runCmd([]string{"map"}, a01)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, `"resourceType":"Bundle"`) {
		t.Errorf("expected bundle on stdout, got %s", out)
	}
	if !strings.Contains(out, "Patient?identifier=https://example.org/sid/patient-id|1234567") {
		t.Errorf("expected patient request url, got %s", out)
	}
}

func TestMapCommand_Errors(t *testing.T) {
	setFhirEnv(t)

	if _, err := runCmd([]string{"map"}, "not hl7"); err == nil {
		t.Error("expected parse error")
	}

	t.Setenv("FHIR_PERSON_SYSTEM", "")
	if _, err := runCmd([]string{"map"}, a01); err == nil {
		t.Error("expected configuration error")
	}
}
