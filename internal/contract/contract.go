// Package contract validates raw judge output against the JSON Schema a
// schema author attaches to their question family. The judge is an
// untrusted oracle: anything it returns is checked here before a driver
// ever sees it.
package contract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles contracts and caches them by schema id. Safe for
// concurrent use.
type Validator struct {
	mu    sync.Mutex
	cache map[string]*compiled
}

// compiled is one cached contract. Boolean contracts short-circuit without
// touching the schema compiler.
type compiled struct {
	boolean *bool
	schema  *jsonschema.Schema
}

// NewValidator returns an empty validator.
func NewValidator() *Validator {
	return &Validator{cache: make(map[string]*compiled)}
}

// ViolationError reports judge output that failed its contract. This is a
// recoverable condition: the kernel converts it into a zero-credit,
// format-error decision and the turn pipeline continues.
type ViolationError struct {
	SchemaID string
	Causes   []string
	Err      error
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("judge output violates contract for schema %q: %v", e.SchemaID, e.Err)
}

func (e *ViolationError) Unwrap() error { return e.Err }

// IsViolation reports whether err is a contract violation.
func IsViolation(err error) bool {
	var v *ViolationError
	return errors.As(err, &v)
}

// ValidateJudgeOutput checks raw judge JSON against the contract registered
// for schemaID. Contract compilation failure is an authoring error and is
// returned as a plain error, not a ViolationError.
func (v *Validator) ValidateJudgeOutput(schemaID string, rawContract json.RawMessage, output json.RawMessage) error {
	c, err := v.compile(schemaID, rawContract)
	if err != nil {
		return err
	}

	if c.boolean != nil {
		if *c.boolean {
			return nil
		}
		return &ViolationError{
			SchemaID: schemaID,
			Causes:   []string{"contract is false: no judge output is acceptable"},
			Err:      fmt.Errorf("contract rejects all values"),
		}
	}

	var parsed any
	if err := json.Unmarshal(output, &parsed); err != nil {
		return &ViolationError{
			SchemaID: schemaID,
			Causes:   []string{"judge output is not valid JSON"},
			Err:      err,
		}
	}

	if err := c.schema.Validate(parsed); err != nil {
		return &ViolationError{
			SchemaID: schemaID,
			Causes:   flattenCauses(err),
			Err:      err,
		}
	}
	return nil
}

// compile returns the cached contract for schemaID, compiling on first use.
func (v *Validator) compile(schemaID string, rawContract json.RawMessage) (*compiled, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if c, ok := v.cache[schemaID]; ok {
		return c, nil
	}

	trimmed := bytes.TrimSpace(rawContract)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("schema %q: empty contract", schemaID)
	}

	// Boolean contracts: true accepts anything, false accepts nothing.
	if trimmed[0] == 't' || trimmed[0] == 'f' {
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return nil, fmt.Errorf("schema %q: malformed boolean contract: %w", schemaID, err)
		}
		c := &compiled{boolean: &b}
		v.cache[schemaID] = c
		return c, nil
	}

	var def any
	if err := json.Unmarshal(trimmed, &def); err != nil {
		return nil, fmt.Errorf("schema %q: parse contract: %w", schemaID, err)
	}

	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("contract://%s.json", schemaID)
	if err := compiler.AddResource(url, def); err != nil {
		return nil, fmt.Errorf("schema %q: add contract resource: %w", schemaID, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("schema %q: compile contract: %w", schemaID, err)
	}

	c := &compiled{schema: s}
	v.cache[schemaID] = c
	return c, nil
}

// flattenCauses renders the validator's error tree as flat strings for
// telemetry and logs.
func flattenCauses(err error) []string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []string{err.Error()}
	}
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, e.Error())
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return out
}
