package aggregation

import (
	"strconv"
	"strings"
)

// columnPrefix names the synthetic result columns (f0, f1, ...). Field names
// never appear in query text; they travel as bound parameters and come back
// under these ordinal columns.
const columnPrefix = "f"

// FieldMap is the per-request mapping between a requested field's ordinal,
// its user-supplied name and the synthetic column that carries its value.
type FieldMap struct {
	names []string
	index map[string]int
}

// NewFieldMap assigns ordinals in the order given. Callers are expected to
// pass de-duplicated names; a repeated name keeps its first ordinal.
func NewFieldMap(names []string) FieldMap {
	m := FieldMap{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	copy(m.names, names)
	for i, name := range m.names {
		if _, ok := m.index[name]; !ok {
			m.index[name] = i
		}
	}
	return m
}

// Len returns the number of fields.
func (m FieldMap) Len() int {
	return len(m.names)
}

// Names returns the field names in request order.
func (m FieldMap) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// Name returns the user field name for an ordinal.
func (m FieldMap) Name(ordinal int) string {
	return m.names[ordinal]
}

// Index returns the ordinal assigned to a field name.
func (m FieldMap) Index(name string) (int, bool) {
	i, ok := m.index[name]
	return i, ok
}

// Column returns the synthetic result column for an ordinal.
func (m FieldMap) Column(ordinal int) string {
	return columnPrefix + strconv.Itoa(ordinal)
}

// Ordinal resolves a synthetic result column back to its ordinal. It reports
// false for anything that is not one of this map's columns.
func (m FieldMap) Ordinal(column string) (int, bool) {
	digits, ok := strings.CutPrefix(column, columnPrefix)
	if !ok || digits == "" {
		return 0, false
	}
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	i, err := strconv.Atoi(digits)
	if err != nil || i >= len(m.names) || m.Column(i) != column {
		return 0, false
	}
	return i, true
}
