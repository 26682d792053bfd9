package aggregation

import (
	"fmt"
	"strconv"
	"strings"
)

// RollupTable is the pre-aggregated table the builder reads. It holds one row
// per (source, field, 5 minute slot) with count, sum, min and max.
const RollupTable = "rollup_5min"

// Result column names produced by every built query, in addition to the
// per-field ordinal columns.
const (
	LabelColumn  = "label"
	BucketColumn = "bucket"
)

// sourcesArg is the argument slot reserved for the source id list. In
// by-attribute mode it is only known once the store has resolved the
// attribute, so it is filled by Query.Args.
const sourcesArg = 0

// Query is a built, parameterized aggregation. The SQL text only contains
// positional placeholders; every user-supplied value lives in the args.
type Query struct {
	Operator   Operator
	Resolution int64
	Selection  SourceSelection
	Fields     FieldMap

	sql  string
	args []any
}

// SQL returns the query template.
func (q Query) SQL() string {
	return q.sql
}

// Args returns the bound parameters with sources placed in the source list
// slot. Explicit-mode callers pass q.Selection.Sources.
func (q Query) Args(sources []string) []any {
	args := make([]any, len(q.args))
	copy(args, q.args)
	args[sourcesArg] = sources
	return args
}

// placeholders hands out positional $n references as values are bound.
type placeholders struct {
	args []any
}

func (p *placeholders) bind(v any) string {
	p.args = append(p.args, v)
	return "$" + strconv.Itoa(len(p.args))
}

// Build translates a validated request into a ClickHouse query over
// RollupTable. Samples in [From, Before) are bucketed by truncating their
// epoch seconds to a multiple of the resolution. In explicit mode each source
// gets its own series ordered as requested; in by-attribute mode all resolved
// sources are merged under the attribute value.
func Build(req Request) Query {
	var p placeholders
	sourcesRef := p.bind(nil)
	fromRef := p.bind(req.From.UTC())
	beforeRef := p.bind(req.Before.UTC())
	resolutionRef := p.bind(req.Resolution)
	fieldsRef := p.bind(req.Fields.Names())

	label := "source"
	order := fmt.Sprintf("indexOf([%s], %s), %s", sourcesRef, LabelColumn, BucketColumn)
	if req.Selection.Mode == SelectByAttribute {
		label = p.bind(req.Selection.Value)
		order = BucketColumn
	}

	columns := []string{
		label + " AS " + LabelColumn,
		fmt.Sprintf("toDateTime(intDiv(toUInt32(ts), %s) * %s, 'UTC') AS %s", resolutionRef, resolutionRef, BucketColumn),
	}
	for i, name := range req.Fields.Names() {
		columns = append(columns, projection(req.Operator, p.bind(name))+" AS "+req.Fields.Column(i))
	}

	sql := fmt.Sprintf(`
		SELECT
			%s
		FROM %s
		WHERE source IN (%s)
			AND field IN (%s)
			AND ts >= %s
			AND ts < %s
		GROUP BY %s, %s
		ORDER BY %s
	`, strings.Join(columns, ",\n\t\t\t"), RollupTable, sourcesRef, fieldsRef, fromRef, beforeRef, LabelColumn, BucketColumn, order)

	return Query{
		Operator:   req.Operator,
		Resolution: req.Resolution,
		Selection:  req.Selection,
		Fields:     req.Fields,
		sql:        sql,
		args:       p.args,
	}
}

// projection aggregates one field, referenced by its bound name. Mean is
// weighted by the sample count stored with each rollup.
func projection(op Operator, fieldRef string) string {
	switch op {
	case OpMax:
		return fmt.Sprintf("maxIfOrNull(value_max, field = %s)", fieldRef)
	case OpMin:
		return fmt.Sprintf("minIfOrNull(value_min, field = %s)", fieldRef)
	default:
		return fmt.Sprintf("sumIf(value_sum, field = %s) / nullIf(sumIf(value_count, field = %s), 0)", fieldRef, fieldRef)
	}
}
