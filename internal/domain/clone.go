package domain

// Clone returns a structurally independent copy of the DNA. Nested traits and
// metadata are copied recursively so callers can never reach shared state.
func (d *SystemDNA) Clone() *SystemDNA {
	if d == nil {
		return nil
	}
	out := &SystemDNA{
		Version:      d.Version,
		Generation:   d.Generation,
		FitnessScore: d.FitnessScore,
		CoreTraits:   CloneMap(d.CoreTraits),
		Metadata:     CloneMap(d.Metadata),
	}
	if d.Mutations != nil {
		out.Mutations = make([]MutationRecord, len(d.Mutations))
		for i, m := range d.Mutations {
			out.Mutations[i] = m.Clone()
		}
	}
	if d.SnapshotIDs != nil {
		out.SnapshotIDs = append([]string(nil), d.SnapshotIDs...)
	}
	return out
}

// Clone copies a record including its trait map.
func (r MutationRecord) Clone() MutationRecord {
	r.Traits = CloneMap(r.Traits)
	return r
}

// Clone copies a mutation including its trait map.
func (m Mutation) Clone() Mutation {
	m.Traits = CloneMap(m.Traits)
	return m
}

// CloneMap deep-copies a JSON-shaped map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []float64:
		return append([]float64(nil), t...)
	case []int:
		return append([]int(nil), t...)
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	case map[string]float64:
		out := make(map[string]float64, len(t))
		for k, f := range t {
			out[k] = f
		}
		return out
	default:
		// Scalars (string, bool, numbers, nil) are values already.
		return v
	}
}
