// Package merge composes layered JSON-like configuration trees.
//
// Schema definitions carry default policy and scoring objects; items may
// override parts of them. The composer deep-merges these layers into one
// effective object without mutating either input, so the same (schema, item)
// pair always yields the same effective configuration.
package merge

// ArrayStrategy selects how array values combine during a merge.
type ArrayStrategy int

const (
	// Replace discards the base array and keeps the override. This is the
	// only strategy the turn kernel uses for policy/scoring composition.
	Replace ArrayStrategy = iota

	// Concat appends the override's elements after the base's.
	Concat

	// ByID matches elements whose "id" fields are equal, merges matched
	// pairs recursively, and appends override elements with no match.
	ByID
)

// Layers merges configuration layers left to right: later layers override
// earlier ones. Nil layers are skipped. The result shares no mutable
// structure with any input.
func Layers(strategy ArrayStrategy, layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, layer := range layers {
		if layer == nil {
			continue
		}
		out = mergeMaps(out, layer, strategy)
	}
	return out
}

// Values merges two JSON-like values. Objects merge key-by-key, arrays
// follow the strategy, and everything else (scalars, type mismatches) is
// replaced by the override. A nil override yields a copy of base.
func Values(base, override any, strategy ArrayStrategy) any {
	if override == nil {
		return Clone(base)
	}
	baseMap, baseIsMap := base.(map[string]any)
	overMap, overIsMap := override.(map[string]any)
	if baseIsMap && overIsMap {
		return mergeMaps(baseMap, overMap, strategy)
	}
	baseArr, baseIsArr := base.([]any)
	overArr, overIsArr := override.([]any)
	if baseIsArr && overIsArr {
		return mergeArrays(baseArr, overArr, strategy)
	}
	return Clone(override)
}

func mergeMaps(base, override map[string]any, strategy ArrayStrategy) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = Clone(v)
	}
	for k, ov := range override {
		if bv, ok := out[k]; ok {
			out[k] = Values(bv, ov, strategy)
		} else {
			out[k] = Clone(ov)
		}
	}
	return out
}

func mergeArrays(base, override []any, strategy ArrayStrategy) any {
	switch strategy {
	case Concat:
		out := make([]any, 0, len(base)+len(override))
		for _, v := range base {
			out = append(out, Clone(v))
		}
		for _, v := range override {
			out = append(out, Clone(v))
		}
		return out
	case ByID:
		return mergeArraysByID(base, override)
	default:
		return Clone(override)
	}
}

func mergeArraysByID(base, override []any) any {
	out := make([]any, 0, len(base)+len(override))
	for _, v := range base {
		out = append(out, Clone(v))
	}
	for _, ov := range override {
		id, ok := elementID(ov)
		if !ok {
			out = append(out, Clone(ov))
			continue
		}
		matched := false
		for i, existing := range out {
			eid, ok := elementID(existing)
			if ok && eid == id {
				out[i] = Values(existing, ov, ByID)
				matched = true
				break
			}
		}
		if !matched {
			out = append(out, Clone(ov))
		}
	}
	return out
}

// elementID extracts the "id" field of an object array element.
func elementID(v any) (string, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	id, ok := m["id"].(string)
	return id, ok
}

// Clone deep-copies a JSON-like value. Scalars are returned as-is since
// they are immutable.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	default:
		return v
	}
}
