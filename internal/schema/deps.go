package schema

// Stages groups table mappings into sequential dependency stages: a table
// that links to another table lands in a later stage than its referent, so
// referenced rows are committed before referencing junction pairs load.
// Tables within one stage have no link relationship and may run with
// bounded parallelism.
//
// Link cycles (mutual or self links are common in the source model) cannot
// be ordered; the remaining tables of a cycle are grouped into one final
// stage together and their junction tables carry no enforced foreign keys.
func Stages(mappings []*TableMapping) [][]*TableMapping {
	byID := make(map[string]*TableMapping, len(mappings))
	for _, m := range mappings {
		byID[m.SourceTableID] = m
	}

	// deps[id] = set of table ids that must be placed first.
	deps := make(map[string]map[string]bool, len(mappings))
	for _, m := range mappings {
		set := make(map[string]bool)
		for _, f := range m.LinkFields() {
			if f.LinkedTableID == "" || f.LinkedTableID == m.SourceTableID {
				continue // self links impose no ordering
			}
			if _, known := byID[f.LinkedTableID]; known {
				set[f.LinkedTableID] = true
			}
		}
		deps[m.SourceTableID] = set
	}

	placed := make(map[string]bool, len(mappings))
	var stages [][]*TableMapping

	remaining := len(mappings)
	for remaining > 0 {
		var stage []*TableMapping
		for _, m := range mappings { // discovery order keeps output stable
			if placed[m.SourceTableID] {
				continue
			}
			ready := true
			for dep := range deps[m.SourceTableID] {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				stage = append(stage, m)
			}
		}

		if len(stage) == 0 {
			// Cycle: everything left goes together.
			for _, m := range mappings {
				if !placed[m.SourceTableID] {
					stage = append(stage, m)
				}
			}
		}

		for _, m := range stage {
			placed[m.SourceTableID] = true
		}
		remaining -= len(stage)
		stages = append(stages, stage)
	}

	return stages
}
