package main

// tableRef identifies a table one stage produced and a later stage consumes.
// Stages hand these to each other instead of agreeing on well-known names.
type tableRef struct {
	schema string
	name   string
}

// qualified returns the schema-qualified, identifier-quoted form for SQL text.
func (t tableRef) qualified() string {
	return pgIdent(t.schema) + "." + pgIdent(t.name)
}

func (t tableRef) String() string {
	return t.schema + "." + t.name
}

// columnMapping pairs a converter-generated column name with the header name
// it is renamed to.
type columnMapping struct {
	Generic  string // field_1, field_2, ... as created by the converter
	Target   string // normalized header token
	Excluded bool   // dropped from the final projection
}

// columnPlan is the ordered rename and projection plan built from the header
// description file shipped beside the archive.
type columnPlan struct {
	Mappings []columnMapping
}

// included returns the target names that survive the exclusion set, in header
// order.
func (p *columnPlan) included() []string {
	var cols []string
	for _, m := range p.Mappings {
		if !m.Excluded {
			cols = append(cols, m.Target)
		}
	}
	return cols
}

// includes reports whether target is part of the final projection.
func (p *columnPlan) includes(target string) bool {
	for _, m := range p.Mappings {
		if !m.Excluded && m.Target == target {
			return true
		}
	}
	return false
}
