// Package bank holds the static question bank: schema definitions (question
// families) and item definitions (concrete questions). Definitions are
// immutable once loaded and validated; the turn kernel only ever reads them.
package bank

import "encoding/json"

// Schema identifies a question family. It carries the judge guidance and
// contract, driver selection, default policy/scoring, and the probe policy
// shared by every item that references it.
type Schema struct {
	ID string `json:"id"`

	// GuidanceVersion tags the judge guidance so priming can be repeated
	// when the guidance changes.
	GuidanceVersion string `json:"guidanceVersion"`

	// Guidance is the judge-facing instruction text for this family.
	Guidance string `json:"guidance"`

	// DominanceOrder breaks ties when an answer plausibly fits several
	// categories: earlier entries win.
	DominanceOrder []string `json:"dominanceOrder,omitempty"`

	// Contract is the JSON Schema the judge's reply must satisfy. It may be
	// a schema object or a literal boolean (true accepts anything, false
	// accepts nothing).
	Contract json.RawMessage `json:"contract"`

	Engine Engine `json:"engine"`

	// Policy and Scoring are the family defaults; items may override parts
	// of them. Their shape is driver-specific beyond the kernel-owned keys.
	Policy  map[string]any `json:"policy,omitempty"`
	Scoring map[string]any `json:"scoring,omitempty"`

	ProbePolicy ProbePolicy `json:"probePolicy"`

	// Probes is the family's follow-up library, keyed by entry category.
	Probes []ProbeDef `json:"probes,omitempty"`

	// AnswerTypeAliases maps judge-emitted answer types onto a driver's
	// closed enum (e.g. "unclear" -> "not_clear").
	AnswerTypeAliases map[string]string `json:"answerTypeAliases,omitempty"`

	// AbilityKey names the ability dimension this family feeds.
	AbilityKey string `json:"abilityKey"`
}

// Engine selects the driver for a schema, by explicit id or by kind.
type Engine struct {
	DriverID string `json:"driverId,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// ProbePolicy governs what the probe gate lets through.
type ProbePolicy struct {
	// AllowedCategories whitelists categories for generated (id-less)
	// probes. Library probes bypass the list.
	AllowedCategories []string `json:"allowedCategories,omitempty"`

	// MaxLength caps probe text length in runes. Zero means the default.
	MaxLength int `json:"maxLength,omitempty"`

	// ForbiddenPatterns are additional regexes that block generated probes,
	// on top of the built-in hint patterns.
	ForbiddenPatterns []string `json:"forbiddenPatterns,omitempty"`

	// DisableGenerated blocks every generated probe outright, regardless of
	// category. Checked before the allow-list.
	DisableGenerated bool `json:"disableGenerated,omitempty"`
}

// ProbeDef is one library follow-up.
type ProbeDef struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

// Item is one concrete question instance.
type Item struct {
	ID       string `json:"id"`
	SchemaID string `json:"schemaId"`

	// Stem is the question text shown to the user.
	Stem string `json:"stem"`

	// Policy and Scoring override the schema defaults for this item.
	Policy  map[string]any `json:"policy,omitempty"`
	Scoring map[string]any `json:"scoring,omitempty"`

	// Probes extends the schema's follow-up library for this item.
	Probes []ProbeDef `json:"probes,omitempty"`

	// Content is arbitrary domain material the driver and prompt builder
	// interpret: theme registries, scenario text, expected sequences.
	Content map[string]any `json:"content,omitempty"`
}

// EffectiveProbes returns the schema library plus any item additions, in a
// fresh slice. Item entries come last so library lookups prefer the family
// defaults.
func EffectiveProbes(s *Schema, it *Item) []ProbeDef {
	out := make([]ProbeDef, 0, len(s.Probes)+len(it.Probes))
	out = append(out, s.Probes...)
	out = append(out, it.Probes...)
	return out
}

// ProbesByCategory filters a probe library by category, preserving order.
func ProbesByCategory(probes []ProbeDef, category string) []ProbeDef {
	var out []ProbeDef
	for _, p := range probes {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}
