package bank

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Bank resolves schema and item definitions by id. Lookup fails loudly for
// unknown ids; the kernel treats that as an authoring error.
type Bank interface {
	SchemaByID(id string) (*Schema, error)
	ItemByID(id string) (*Item, error)
}

// MemoryBank is an in-memory Bank populated from documents or by hand in
// tests. All definitions are validated on insert.
type MemoryBank struct {
	schemas map[string]*Schema
	items   map[string]*Item
}

// NewMemoryBank returns an empty bank.
func NewMemoryBank() *MemoryBank {
	return &MemoryBank{
		schemas: make(map[string]*Schema),
		items:   make(map[string]*Item),
	}
}

// AddSchema validates and registers a schema definition.
func (b *MemoryBank) AddSchema(s *Schema) error {
	if err := ValidateSchema(s); err != nil {
		return err
	}
	if _, exists := b.schemas[s.ID]; exists {
		return fmt.Errorf("duplicate schema id %q", s.ID)
	}
	b.schemas[s.ID] = s
	return nil
}

// AddItem validates and registers an item definition. Its schema must
// already be registered.
func (b *MemoryBank) AddItem(it *Item) error {
	if err := ValidateItem(it, b.schemas); err != nil {
		return err
	}
	if _, exists := b.items[it.ID]; exists {
		return fmt.Errorf("duplicate item id %q", it.ID)
	}
	b.items[it.ID] = it
	return nil
}

func (b *MemoryBank) SchemaByID(id string) (*Schema, error) {
	s, ok := b.schemas[id]
	if !ok {
		return nil, fmt.Errorf("unknown schema %q", id)
	}
	return s, nil
}

func (b *MemoryBank) ItemByID(id string) (*Item, error) {
	it, ok := b.items[id]
	if !ok {
		return nil, fmt.Errorf("unknown item %q", id)
	}
	return it, nil
}

// SchemaIDs returns all schema ids, sorted.
func (b *MemoryBank) SchemaIDs() []string {
	out := make([]string, 0, len(b.schemas))
	for id := range b.schemas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ItemIDs returns all item ids, sorted.
func (b *MemoryBank) ItemIDs() []string {
	out := make([]string, 0, len(b.items))
	for id := range b.items {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Document is the on-disk bank file format: any number of schemas and items
// per JSON file.
type Document struct {
	Schemas []*Schema `json:"schemas,omitempty"`
	Items   []*Item   `json:"items,omitempty"`
}

// LoadDir reads every *.json file under dir (sorted, so schema files can
// precede item files lexically) and builds a validated bank. Items may
// reference schemas from any file; schema registration happens in a first
// pass.
func LoadDir(dir string) (*MemoryBank, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bank dir: %w", err)
	}

	var docs []Document
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		var doc Document
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		docs = append(docs, doc)
	}

	b := NewMemoryBank()
	for _, doc := range docs {
		for _, s := range doc.Schemas {
			if err := b.AddSchema(s); err != nil {
				return nil, err
			}
		}
	}
	for _, doc := range docs {
		for _, it := range doc.Items {
			if err := b.AddItem(it); err != nil {
				return nil, err
			}
		}
	}
	return b, nil
}
