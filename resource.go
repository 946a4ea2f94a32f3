package fhirpath

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Resource is a decoded healthcare record.  Numbers are retained as
// json.Number so decimal fields never round-trip through float64.
type Resource struct {
	resourceType string
	body         map[string]any
}

// ParseResource decodes a single JSON record.
func ParseResource(data []byte) (*Resource, error) {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	var body map[string]any
	if err := d.Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid resource: %w", err)
	}
	rt, _ := body["resourceType"].(string)
	if rt == "" {
		return nil, fmt.Errorf("resource has no resourceType")
	}
	return &Resource{resourceType: rt, body: body}, nil
}

func NewResource(resourceType string, body map[string]any) *Resource {
	return &Resource{resourceType: resourceType, body: body}
}

func (r *Resource) ResourceType() string { return r.resourceType }
func (r *Resource) Body() map[string]any { return r.body }

func (r *Resource) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.body)
}
