package bank

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func validSchema(id string) *Schema {
	return &Schema{
		ID:              id,
		GuidanceVersion: "v1",
		Guidance:        "Classify the learner's answer.",
		Contract:        json.RawMessage(`{"type":"object"}`),
		Engine:          Engine{DriverID: "numeric-estimation"},
		AbilityKey:      "estimation",
	}
}

func TestValidateSchema_RequiredFields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Schema)
		want   string
	}{
		{"missing id", func(s *Schema) { s.ID = "" }, "missing id"},
		{"missing guidance version", func(s *Schema) { s.GuidanceVersion = "" }, "guidanceVersion"},
		{"missing engine", func(s *Schema) { s.Engine = Engine{} }, "driverId or kind"},
		{"missing contract", func(s *Schema) { s.Contract = nil }, "missing contract"},
		{"missing ability key", func(s *Schema) { s.AbilityKey = "" }, "abilityKey"},
		{"bad forbidden pattern", func(s *Schema) {
			s.ProbePolicy.ForbiddenPatterns = []string{"("}
		}, "forbidden pattern"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSchema("s1")
			tt.mutate(s)
			err := ValidateSchema(s)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ValidateSchema = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateSchema_ContractShapes(t *testing.T) {
	tests := []struct {
		contract string
		ok       bool
	}{
		{`{"type":"object"}`, true},
		{`true`, true},
		{`false`, true},
		{`"string"`, false},
		{`42`, false},
		{`[1,2]`, false},
		{`null`, false},
	}
	for _, tt := range tests {
		s := validSchema("s1")
		s.Contract = json.RawMessage(tt.contract)
		err := ValidateSchema(s)
		if (err == nil) != tt.ok {
			t.Errorf("contract %s: err = %v, want ok=%v", tt.contract, err, tt.ok)
		}
	}
}

func TestValidateItem_UnknownSchema(t *testing.T) {
	schemas := map[string]*Schema{"s1": validSchema("s1")}
	it := &Item{ID: "i1", SchemaID: "nope", Stem: "How many?"}
	err := ValidateItem(it, schemas)
	if err == nil || !strings.Contains(err.Error(), "unknown schema") {
		t.Errorf("ValidateItem = %v, want unknown schema error", err)
	}
}

func TestMemoryBank_Lookups(t *testing.T) {
	b := NewMemoryBank()
	if err := b.AddSchema(validSchema("s1")); err != nil {
		t.Fatal(err)
	}
	if err := b.AddItem(&Item{ID: "i1", SchemaID: "s1", Stem: "Estimate the height."}); err != nil {
		t.Fatal(err)
	}

	if _, err := b.SchemaByID("s1"); err != nil {
		t.Errorf("SchemaByID(s1) = %v", err)
	}
	if _, err := b.SchemaByID("missing"); err == nil {
		t.Error("SchemaByID(missing) should fail")
	}
	if _, err := b.ItemByID("i1"); err != nil {
		t.Errorf("ItemByID(i1) = %v", err)
	}
	if _, err := b.ItemByID("missing"); err == nil {
		t.Error("ItemByID(missing) should fail")
	}
}

func TestMemoryBank_DuplicateIDs(t *testing.T) {
	b := NewMemoryBank()
	if err := b.AddSchema(validSchema("s1")); err != nil {
		t.Fatal(err)
	}
	if err := b.AddSchema(validSchema("s1")); err == nil {
		t.Error("duplicate schema id should fail")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	schemaDoc := Document{Schemas: []*Schema{validSchema("s1")}}
	itemDoc := Document{Items: []*Item{{ID: "i1", SchemaID: "s1", Stem: "Estimate."}}}

	writeDoc(t, filepath.Join(dir, "schemas.json"), schemaDoc)
	// Items in a lexically earlier file still resolve: schemas load first.
	writeDoc(t, filepath.Join(dir, "aa-items.json"), itemDoc)

	b, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if got := b.ItemIDs(); len(got) != 1 || got[0] != "i1" {
		t.Errorf("ItemIDs = %v", got)
	}
}

func TestLoadDir_RejectsBrokenBank(t *testing.T) {
	dir := t.TempDir()
	s := validSchema("s1")
	s.Contract = json.RawMessage(`"not a contract"`)
	writeDoc(t, filepath.Join(dir, "bank.json"), Document{Schemas: []*Schema{s}})

	if _, err := LoadDir(dir); err == nil {
		t.Error("LoadDir should reject a bank with a malformed contract")
	}
}

func TestEffectiveProbes(t *testing.T) {
	s := validSchema("s1")
	s.Probes = []ProbeDef{{ID: "p1", Text: "Closer?", Category: "too_low"}}
	it := &Item{ID: "i1", SchemaID: "s1", Stem: "q",
		Probes: []ProbeDef{{ID: "p2", Text: "Think bigger.", Category: "too_low"}}}

	probes := EffectiveProbes(s, it)
	if len(probes) != 2 || probes[0].ID != "p1" || probes[1].ID != "p2" {
		t.Errorf("EffectiveProbes = %#v", probes)
	}
	low := ProbesByCategory(probes, "too_low")
	if len(low) != 2 {
		t.Errorf("ProbesByCategory = %#v", low)
	}
}

func writeDoc(t *testing.T, path string, doc Document) {
	t.Helper()
	raw, err := json.Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}
}
