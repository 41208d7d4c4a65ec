package driver

import (
	"encoding/json"

	"github.com/abhisek/inquiz/internal/bank"
)

// selectLibraryProbe picks a follow-up from the library for a category.
// Preference order: the judge-recommended id when it exists in the category
// and is unused, then the first unused entry, then reuse of the first
// entry. Returns nil when the category has no library entries.
func selectLibraryProbe(library []bank.ProbeDef, category, recommendedID string, used []string) *Probe {
	candidates := bank.ProbesByCategory(library, category)
	if len(candidates) == 0 {
		return nil
	}

	usedSet := make(map[string]bool, len(used))
	for _, id := range used {
		usedSet[id] = true
	}

	if recommendedID != "" && !usedSet[recommendedID] {
		for _, c := range candidates {
			if c.ID == recommendedID {
				return &Probe{ID: c.ID, Text: c.Text, Category: category}
			}
		}
	}

	for _, c := range candidates {
		if !usedSet[c.ID] {
			return &Probe{ID: c.ID, Text: c.Text, Category: category}
		}
	}

	first := candidates[0]
	return &Probe{ID: first.ID, Text: first.Text, Category: category}
}

// mustJSON marshals driver state. Driver state structs contain only
// marshalable fields, so failure is a programming error; the zero payload
// keeps the turn alive regardless.
func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return raw
}
