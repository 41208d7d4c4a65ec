package bank

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
)

// Static validation of schema/item definitions. These are authoring errors:
// a bank that fails here must never start a session, so every check fails
// loudly at load time rather than surfacing mid-interview.

// ValidateSchema checks the static shape of one schema definition.
func ValidateSchema(s *Schema) error {
	if s.ID == "" {
		return fmt.Errorf("schema: missing id")
	}
	if s.GuidanceVersion == "" {
		return fmt.Errorf("schema %q: missing guidanceVersion", s.ID)
	}
	if s.Engine.DriverID == "" && s.Engine.Kind == "" {
		return fmt.Errorf("schema %q: engine must set driverId or kind", s.ID)
	}
	if len(s.Contract) == 0 {
		return fmt.Errorf("schema %q: missing contract", s.ID)
	}
	if err := checkContractShape(s.Contract); err != nil {
		return fmt.Errorf("schema %q: %w", s.ID, err)
	}
	if s.AbilityKey == "" {
		return fmt.Errorf("schema %q: missing abilityKey", s.ID)
	}
	for i, p := range s.Probes {
		if p.ID == "" {
			return fmt.Errorf("schema %q: probe %d has no id", s.ID, i)
		}
		if p.Text == "" {
			return fmt.Errorf("schema %q: probe %q has no text", s.ID, p.ID)
		}
	}
	for i, pat := range s.ProbePolicy.ForbiddenPatterns {
		if _, err := regexp.Compile(pat); err != nil {
			return fmt.Errorf("schema %q: forbidden pattern %d: %w", s.ID, i, err)
		}
	}
	return nil
}

// ValidateItem checks one item definition against the known schema set.
func ValidateItem(it *Item, schemas map[string]*Schema) error {
	if it.ID == "" {
		return fmt.Errorf("item: missing id")
	}
	if it.SchemaID == "" {
		return fmt.Errorf("item %q: missing schemaId", it.ID)
	}
	if _, ok := schemas[it.SchemaID]; !ok {
		return fmt.Errorf("item %q: references unknown schema %q", it.ID, it.SchemaID)
	}
	if it.Stem == "" {
		return fmt.Errorf("item %q: missing stem", it.ID)
	}
	for i, p := range it.Probes {
		if p.ID == "" {
			return fmt.Errorf("item %q: probe %d has no id", it.ID, i)
		}
	}
	return nil
}

// checkContractShape verifies the contract is a JSON object or boolean.
// Anything else (string, number, array, null) is an authoring error.
func checkContractShape(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("contract is empty")
	}
	switch trimmed[0] {
	case '{':
		var obj map[string]any
		if err := json.Unmarshal(trimmed, &obj); err != nil {
			return fmt.Errorf("contract is not valid JSON: %w", err)
		}
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(trimmed, &b); err != nil {
			return fmt.Errorf("contract is not valid JSON: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("contract must be an object or boolean, got %s", previewJSON(trimmed))
	}
}

func previewJSON(raw []byte) string {
	const max = 40
	if len(raw) > max {
		return string(raw[:max]) + "..."
	}
	return string(raw)
}
