package main

import (
	"fmt"
	"os"
	"strings"
)

// readHeaderLine returns the last non-empty line of the header description
// file. Vendors prepend free-form metadata lines; only the final line holds
// the delimited column names.
func readHeaderLine(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read header file: %w", err)
	}
	var last string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) != "" {
			last = line
		}
	}
	if last == "" {
		return "", fmt.Errorf("header file %s has no non-empty lines", path)
	}
	return last, nil
}

// buildColumnPlan splits a header line into the ordered rename plan. Tokens
// are trimmed and lower-cased; the converter numbers unnamed CSV columns
// field_1..field_N in the same order, so position is the only link between
// the two. exclude lists columns dropped from the final projection.
func buildColumnPlan(headerLine string, exclude []string) (*columnPlan, error) {
	tokens := strings.Split(headerLine, ",")
	// A trailing delimiter yields one empty final token; drop it rather than
	// mapping a column that does not exist.
	if len(tokens) > 1 && strings.TrimSpace(tokens[len(tokens)-1]) == "" {
		tokens = tokens[:len(tokens)-1]
	}

	excluded := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		excluded[strings.ToLower(strings.TrimSpace(c))] = true
	}

	plan := &columnPlan{}
	for i, tok := range tokens {
		name := strings.ToLower(strings.TrimSpace(tok))
		if name == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		plan.Mappings = append(plan.Mappings, columnMapping{
			Generic:  fmt.Sprintf("field_%d", i+1),
			Target:   name,
			Excluded: excluded[name],
		})
	}
	return plan, nil
}

// loadColumnPlan reads the header file and builds the rename plan from its
// last non-empty line.
func loadColumnPlan(path string, exclude []string) (*columnPlan, error) {
	line, err := readHeaderLine(path)
	if err != nil {
		return nil, err
	}
	plan, err := buildColumnPlan(line, exclude)
	if err != nil {
		return nil, fmt.Errorf("header file %s: %w", path, err)
	}
	return plan, nil
}

// planWarnings reports projected columns with no declared storage type; they
// keep the converter's text type in the final table.
func planWarnings(plan *columnPlan) []string {
	known := make(map[string]bool, len(attributeCasts))
	for _, c := range attributeCasts {
		known[c.column] = true
	}
	var warnings []string
	for _, m := range plan.Mappings {
		if m.Excluded || known[m.Target] {
			continue
		}
		warnings = append(warnings, fmt.Sprintf("column %s has no declared type, keeping text", m.Target))
	}
	return warnings
}
