package transport

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// envelopeSchema is the wire contract for push-transport messages. It pins
// the discriminator and the container types; field-level tolerance stays in
// the normalizer, which treats every documented field as optional.
const envelopeSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["type"],
	"properties": {
		"type": {"type": "string", "minLength": 1},
		"agent": {"type": "object"},
		"task": {"type": "object"},
		"session": {"type": "object"},
		"connection": {"type": "object"},
		"agent_id": {"type": "string"}
	}
}`

// PayloadValidator rejects malformed push payloads before normalization.
type PayloadValidator struct {
	schema *jsonschema.Schema
}

// NewPayloadValidator compiles the envelope schema.
func NewPayloadValidator() (*PayloadValidator, error) {
	// jsonschema.UnmarshalJSON keeps numbers as json.Number, which the
	// validator requires.
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal envelope schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("envelope.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile("envelope.json")
	if err != nil {
		return nil, fmt.Errorf("compile envelope schema: %w", err)
	}
	return &PayloadValidator{schema: schema}, nil
}

// Validate checks one raw payload against the envelope schema.
func (v *PayloadValidator) Validate(raw []byte) error {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := v.schema.Validate(inst); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}
