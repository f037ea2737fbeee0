// Package asyncapi checks CloudEvent payloads against the JSON schemas of the
// embedded AsyncAPI document. A payload schema names the event type it
// describes with the x-event-type property.
package asyncapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/sitestock/stock-ledger/pkg/cloudevents"
)

// EventTypeExtension is the schema property naming the CloudEvent type a payload schema describes
const EventTypeExtension = "x-event-type"

type document struct {
	Components struct {
		Schemas map[string]map[string]interface{} `yaml:"schemas"`
	} `yaml:"components"`
}

// EventValidator validates CloudEvent data against AsyncAPI payload schemas
type EventValidator struct {
	schemas map[string]*jsonschema.Schema
}

// NewEventValidatorFromBytes compiles every payload schema that carries x-event-type
func NewEventValidatorFromBytes(specBytes []byte) (*EventValidator, error) {
	var doc document
	if err := yaml.Unmarshal(specBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse AsyncAPI document: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	v := &EventValidator{schemas: make(map[string]*jsonschema.Schema)}

	for name, schema := range doc.Components.Schemas {
		eventType, _ := schema[EventTypeExtension].(string)
		if eventType == "" {
			continue
		}
		if _, dup := v.schemas[eventType]; dup {
			return nil, fmt.Errorf("event type %s is described twice", eventType)
		}

		compiled, err := compile(compiler, "asyncapi://schemas/"+name, schema)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		v.schemas[eventType] = compiled
	}
	return v, nil
}

// HasSchema reports whether eventType has a payload schema
func (v *EventValidator) HasSchema(eventType string) bool {
	_, ok := v.schemas[eventType]
	return ok
}

// EventTypes lists the described event types in order
func (v *EventValidator) EventTypes() []string {
	types := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks the event envelope and its data payload
func (v *EventValidator) Validate(event *cloudevents.CloudEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	schema, ok := v.schemas[event.Type]
	if !ok {
		return fmt.Errorf("no schema for event type %s", event.Type)
	}
	if event.Data == nil {
		return fmt.Errorf("event %s has no data", event.ID)
	}

	raw, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to encode event data: %w", err)
	}
	data, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to decode event data: %w", err)
	}
	if err := schema.Validate(data); err != nil {
		return fmt.Errorf("%s data does not match its schema: %w", event.Type, err)
	}
	return nil
}

// compile round-trips the YAML schema through JSON so numbers use the
// representation the compiler expects
func compile(compiler *jsonschema.Compiler, uri string, schema map[string]interface{}) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	if err := compiler.AddResource(uri, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(uri)
}
