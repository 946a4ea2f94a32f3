package schema

import (
	"encoding/json"
	"fmt"
)

// Decode parses a FHIR StructureDefinition resource from its JSON form.
// Elements are taken from the snapshot; definitions distributed without one
// are rejected since navigation needs the full inherited element list.
func Decode(data []byte) (*StructureDefinition, error) {
	var raw struct {
		ResourceType string `json:"resourceType"`
		URL          string `json:"url"`
		Name         string `json:"name"`
		Type         string `json:"type"`
		Kind         string `json:"kind"`
		Snapshot     struct {
			Element []struct {
				ID   string `json:"id"`
				Path string `json:"path"`
				Min  int    `json:"min"`
				Max  string `json:"max"`
				Type []struct {
					Code string `json:"code"`
				} `json:"type"`
				ContentReference string `json:"contentReference"`
				SliceName        string `json:"sliceName"`
			} `json:"element"`
		} `json:"snapshot"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding structure definition: %w", err)
	}
	if raw.ResourceType != "StructureDefinition" {
		return nil, fmt.Errorf("not a structure definition: resourceType %q", raw.ResourceType)
	}
	if len(raw.Snapshot.Element) == 0 {
		return nil, &MalformedSchemaError{URL: raw.URL, Reason: "no snapshot elements"}
	}
	def := &StructureDefinition{
		URL:  raw.URL,
		Name: raw.Name,
		Type: raw.Type,
		Kind: raw.Kind,
	}
	for _, e := range raw.Snapshot.Element {
		elem := &ElementDefinition{
			ID:               e.ID,
			Path:             e.Path,
			Min:              e.Min,
			Max:              e.Max,
			ContentReference: e.ContentReference,
			SliceName:        e.SliceName,
		}
		for _, t := range e.Type {
			elem.Types = append(elem.Types, TypeRef{Code: t.Code})
		}
		def.Elements = append(def.Elements, elem)
	}
	return def, nil
}
