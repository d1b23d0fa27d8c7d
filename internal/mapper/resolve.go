package mapper

import (
	"net/url"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/diz-unimr/adt-to-fhir/internal/config"
)

// Config is the validated mapping configuration. It is built once by
// Resolve and shared read-only by all workers.
type Config struct {
	PatientProfile   string
	PatientSystem    string
	EncounterProfile string
	EncounterSystem  string
	// OrganizationSystem is optional; empty disables Encounter.serviceProvider.
	OrganizationSystem string
	Location           *time.Location
	Departments        Departments

	levels [3]string
}

// LevelSystem returns the identifier system for a contact level.
func (c *Config) LevelSystem(l ContactLevel) string {
	return c.levels[l]
}

// Resolve validates the configured profile and identifier system URIs and
// loads the department table. It has no side effects besides reading the
// optional department map file.
func Resolve(cfg config.Fhir) (*Config, error) {
	required := []struct {
		key   string
		value string
	}{
		{"FHIR_PERSON_PROFILE", cfg.Person.Profile},
		{"FHIR_PERSON_SYSTEM", cfg.Person.System},
		{"FHIR_FALL_PROFILE", cfg.Fall.Profile},
		{"FHIR_FALL_SYSTEM", cfg.Fall.System},
		{"FHIR_FALL_EINRICHTUNGSKONTAKT_SYSTEM", cfg.Einrichtungskontakt},
		{"FHIR_FALL_ABTEILUNGSKONTAKT_SYSTEM", cfg.Abteilungskontakt},
		{"FHIR_FALL_VERSORGUNGSSTELLENKONTAKT_SYSTEM", cfg.Versorgungsstellenkontakt},
	}
	for _, r := range required {
		if err := checkURI(r.key, r.value); err != nil {
			return nil, err
		}
	}
	if cfg.OrganizationSystem != "" {
		if err := checkURI("FHIR_ORGANIZATION_SYSTEM", cfg.OrganizationSystem); err != nil {
			return nil, err
		}
	}

	tz := cfg.TimeZone
	if tz == "" {
		tz = "Europe/Berlin"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, &ConfigError{Key: "FHIR_TIMEZONE", Value: tz, Reason: ErrInvalidValue}
	}

	departments, err := LoadDepartments(cfg.DepartmentMap)
	if err != nil {
		return nil, &ConfigError{Key: "FHIR_DEPARTMENT_MAP", Value: cfg.DepartmentMap, Reason: err}
	}

	return &Config{
		PatientProfile:     cfg.Person.Profile,
		PatientSystem:      cfg.Person.System,
		EncounterProfile:   cfg.Fall.Profile,
		EncounterSystem:    cfg.Fall.System,
		OrganizationSystem: cfg.OrganizationSystem,
		Location:           loc,
		Departments:        departments,
		levels: [3]string{
			Einrichtungskontakt:       cfg.Einrichtungskontakt,
			Abteilungskontakt:         cfg.Abteilungskontakt,
			Versorgungsstellenkontakt: cfg.Versorgungsstellenkontakt,
		},
	}, nil
}

// checkURI accepts absolute URLs with a host and opaque URIs such as urn:oid.
func checkURI(key, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return &ConfigError{Key: key, Reason: ErrMissingURI}
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || (u.Host == "" && u.Opaque == "") {
		return &ConfigError{Key: key, Value: value, Reason: ErrMalformedURI}
	}
	if strings.ContainsAny(value, " |") {
		return &ConfigError{Key: key, Value: value, Reason: ErrMalformedURI}
	}
	return nil
}
