package mapper

import (
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/samply/golang-fhir-models/fhir-models/fhir"
)

// Resource is one mapped resource together with the transaction request
// that writes it.
type Resource struct {
	Type    string
	Request RequestType
	// Identifier selects the target of the request.
	Identifier fhir.Identifier
	// Body is a fhir.Patient, fhir.Encounter or, for Patch, fhir.Parameters.
	Body any
}

// NewBundle wraps resources in a transaction bundle. Entry fullUrls are
// derived from the request target so the same input always yields the same
// bundle.
func NewBundle(resources []Resource) (fhir.Bundle, error) {
	bundle := fhir.Bundle{Type: fhir.BundleTypeTransaction}

	for _, r := range resources {
		body, err := json.Marshal(r.Body)
		if err != nil {
			return fhir.Bundle{}, fmt.Errorf("marshal %s: %w", r.Type, err)
		}

		system, value := deref(r.Identifier.System), deref(r.Identifier.Value)
		search := identifierSearch(system, value)

		request := &fhir.BundleEntryRequest{}
		switch r.Request {
		case UpdateAsCreate:
			request.Method = fhir.HTTPVerbPUT
			request.Url = r.Type + "?" + search
		case ConditionalCreate:
			request.Method = fhir.HTTPVerbPOST
			request.Url = r.Type
			request.IfNoneExist = ptr(search)
		case Patch:
			request.Method = fhir.HTTPVerbPATCH
			request.Url = r.Type + "?" + search
		default:
			return fhir.Bundle{}, fmt.Errorf("unknown request type %d", r.Request)
		}

		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullUrl:  ptr(fullURL(r.Request, r.Type, system, value)),
			Resource: body,
			Request:  request,
		})
	}
	return bundle, nil
}

func fullURL(req RequestType, resourceType, system, value string) string {
	name := fmt.Sprintf("%d|%s|%s|%s", req, resourceType, system, value)
	return "urn:uuid:" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(name)).String()
}

func identifierSearch(system, value string) string {
	return "identifier=" + system + "|" + url.QueryEscape(value)
}

func conditionalReference(resourceType, system, value string) string {
	return resourceType + "?" + identifierSearch(system, value)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
