package llm

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// outputSchemas caches compiled output schemas by name. Judge contracts are
// few and stable within a process, so entries are never evicted.
var outputSchemas sync.Map // schema name -> *jsonschema.Schema

// validateResponse checks a reply against the request's output schema. A
// nil schema accepts anything.
func validateResponse(schema *Schema, raw json.RawMessage) error {
	if schema == nil {
		return nil
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: fmt.Errorf("reply is not JSON: %w", err)}
	}

	compiled, err := outputSchema(schema)
	if err != nil {
		return &ErrInvalidResponse{Content: raw, Err: err}
	}
	if err := compiled.Validate(value); err != nil {
		return &ErrInvalidResponse{Content: raw, Err: err}
	}
	return nil
}

// outputSchema returns the compiled schema, compiling and caching on first
// use.
func outputSchema(schema *Schema) (*jsonschema.Schema, error) {
	if hit, ok := outputSchemas.Load(schema.Name); ok {
		return hit.(*jsonschema.Schema), nil
	}

	// The compiler wants a decoded JSON value, so the definition map takes
	// a marshal round-trip.
	rawDef, err := json.Marshal(schema.Definition)
	if err != nil {
		return nil, fmt.Errorf("marshal schema %q: %w", schema.Name, err)
	}
	var def any
	if err := json.Unmarshal(rawDef, &def); err != nil {
		return nil, fmt.Errorf("decode schema %q: %w", schema.Name, err)
	}

	c := jsonschema.NewCompiler()
	url := "schema://" + schema.Name + ".json"
	if err := c.AddResource(url, def); err != nil {
		return nil, fmt.Errorf("register schema %q: %w", schema.Name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema %q: %w", schema.Name, err)
	}

	outputSchemas.Store(schema.Name, compiled)
	return compiled, nil
}
