package emitter

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"goa.design/runstream/runtime/runlog"
)

type (
	// Validator checks the payload of an event before it is appended.
	Validator interface {
		Validate(typ runlog.EventType, payload json.RawMessage) error
	}

	// SchemaValidator validates payloads against per event type JSON schemas.
	// Event types without a schema are accepted as is.
	SchemaValidator struct {
		mu      sync.RWMutex
		schemas map[runlog.EventType]*jsonschema.Schema
	}
)

// NewSchemaValidator compiles the given JSON schemas, keyed by event type.
func NewSchemaValidator(schemas map[runlog.EventType][]byte) (*SchemaValidator, error) {
	v := &SchemaValidator{schemas: make(map[runlog.EventType]*jsonschema.Schema, len(schemas))}
	for typ, doc := range schemas {
		if err := v.Register(typ, doc); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// Register compiles schema and uses it for events of type typ.
func (v *SchemaValidator) Register(typ runlog.EventType, schema []byte) error {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return fmt.Errorf("unmarshal %s schema: %w", typ, err)
	}
	url := fmt.Sprintf("%s.json", typ)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("add %s schema resource: %w", typ, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compile %s schema: %w", typ, err)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.schemas[typ] = compiled
	return nil
}

// Validate implements Validator.
func (v *SchemaValidator) Validate(typ runlog.EventType, payload json.RawMessage) error {
	v.mu.RLock()
	schema, ok := v.schemas[typ]
	v.mu.RUnlock()
	if !ok {
		return nil
	}
	var inst any
	if err := json.Unmarshal(payload, &inst); err != nil {
		return err
	}
	return schema.Validate(inst)
}
