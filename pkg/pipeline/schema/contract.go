package schema

import (
	"strings"
)

// Field captures the minimal behavior-relevant schema fields of a tabular column.
type Field struct {
	Name     string
	Type     string
	Nullable bool
}

// Contract is the ordered column contract of a CSV input or output.
type Contract struct {
	Fields []Field
}

// Header returns the column names in contract order.
func (c Contract) Header() []string {
	out := make([]string, 0, len(c.Fields))
	for _, f := range c.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Index maps each contract column to its position in header. Header names are
// matched trimmed and case-insensitively; the first occurrence wins. Columns
// absent from header are left out of the map.
func (c Contract) Index(header []string) map[string]int {
	positions := make(map[string]int, len(header))
	for i, name := range header {
		key := NormalizeColumn(name)
		if _, seen := positions[key]; !seen {
			positions[key] = i
		}
	}
	out := make(map[string]int, len(c.Fields))
	for _, f := range c.Fields {
		if i, ok := positions[NormalizeColumn(f.Name)]; ok {
			out[f.Name] = i
		}
	}
	return out
}

// Missing returns the non-nullable contract columns absent from header, in contract order.
func (c Contract) Missing(header []string) []string {
	idx := c.Index(header)
	var out []string
	for _, f := range c.Fields {
		if f.Nullable {
			continue
		}
		if _, ok := idx[f.Name]; !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// NormalizeColumn canonicalizes a header cell for matching.
func NormalizeColumn(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "\ufeff")
	return strings.ToLower(s)
}
