package schemafit

import (
	"github.com/vinculacion/registro-api/internal/normalize"
)

// fuzzyFloor is the minimum similarity for a non-exact header proposal.
const fuzzyFloor = 85

// Proposal is the fitter's suggested header mapping. Every input header
// appears in both maps; headers the fitter cannot place map to FieldIgnore
// at confidence 0.
type Proposal struct {
	Mapping    map[string]Field `json:"mapping"`
	Confidence map[string]int   `json:"confidence"`
}

// Fit proposes a mapping from raw CSV headers to canonical fields. Exact
// fold matches lock a field at confidence 100; remaining headers fall back
// to fuzzy similarity against every alias, keeping the best field at or
// above the fuzzy floor. Ties prefer the field listed earlier in
// CanonicalFields. The output is a pure function of (headers, table).
func Fit(headers []string, table AliasTable) Proposal {
	if table == nil {
		table = DefaultAliasTable()
	}

	proposal := Proposal{
		Mapping:    make(map[string]Field, len(headers)),
		Confidence: make(map[string]int, len(headers)),
	}
	for _, header := range headers {
		proposal.Mapping[header] = FieldIgnore
		proposal.Confidence[header] = 0
	}

	taken := make(map[Field]bool, len(CanonicalFields))
	matched := make(map[string]bool, len(headers))

	// Pass 1: exact fold matches lock their field.
	for _, header := range headers {
		if matched[header] {
			continue
		}
		folded := normalize.Fold(header)
		for _, field := range CanonicalFields {
			if taken[field] {
				continue
			}
			if containsFold(table[field], folded) {
				proposal.Mapping[header] = field
				proposal.Confidence[header] = 100
				taken[field] = true
				matched[header] = true
				break
			}
		}
	}

	// Pass 2: fuzzy fallback for the rest, in file order.
	for _, header := range headers {
		if matched[header] {
			continue
		}
		bestField := FieldIgnore
		bestScore := 0
		for _, field := range CanonicalFields {
			if taken[field] {
				continue
			}
			for _, alias := range table[field] {
				score := normalize.Similarity(header, alias)
				if score > bestScore {
					bestScore = score
					bestField = field
				}
			}
		}
		if bestField != FieldIgnore && bestScore >= fuzzyFloor {
			proposal.Mapping[header] = bestField
			proposal.Confidence[header] = bestScore
			taken[bestField] = true
			matched[header] = true
		}
	}

	return proposal
}

// MissingFields returns the canonical fields a mapping leaves unassigned, in
// canonical order. The orchestrator rejects a commit when this is non-empty.
func MissingFields(mapping map[string]Field) []Field {
	present := make(map[Field]bool, len(mapping))
	for _, field := range mapping {
		present[field] = true
	}
	var missing []Field
	for _, field := range CanonicalFields {
		if !present[field] {
			missing = append(missing, field)
		}
	}
	return missing
}

func containsFold(aliases []string, folded string) bool {
	for _, alias := range aliases {
		if normalize.Fold(alias) == folded {
			return true
		}
	}
	return false
}
