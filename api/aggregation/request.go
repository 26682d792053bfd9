package aggregation

import (
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Query parameter names accepted by the aggregations endpoint.
const (
	ParamOp         = "op"
	ParamResolution = "resolution"
	ParamFrom       = "from"
	ParamBefore     = "before"
	ParamSources    = "each.sources"
	ParamCity       = "over.city"
	ParamFields     = "fields"
	ParamFormat     = "format"
)

// MaxResultCount caps the number of buckets a single request may produce.
const MaxResultCount = 1000

// CityAttribute is the source registry attribute matched by over.city.
const CityAttribute = "city"

// TimestampColumn is the rendered name of the bucket timestamp.
const TimestampColumn = "timestamp"

// SourceColumn is the rendered label column in explicit-sources mode.
const SourceColumn = "source"

// maxResolution keeps resolution*time.Second within time.Duration.
const maxResolution = math.MaxInt64 / int64(time.Second)

// Operator is the aggregation applied per field per bucket.
type Operator string

const (
	OpMean Operator = "mean"
	OpMax  Operator = "max"
	OpMin  Operator = "min"
)

// Valid reports whether o is one of the supported operators.
func (o Operator) Valid() bool {
	switch o {
	case OpMean, OpMax, OpMin:
		return true
	}
	return false
}

// Format selects the response encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// SelectionMode tells how sources were selected.
type SelectionMode int

const (
	// SelectExplicit produces one series per listed source.
	SelectExplicit SelectionMode = iota
	// SelectByAttribute merges every source sharing an attribute value.
	SelectByAttribute
)

// SourceSelection is either an explicit source list or an attribute match.
// Build it with Explicit or ByAttribute.
type SourceSelection struct {
	Mode      SelectionMode
	Sources   []string
	Attribute string
	Value     string
}

// Explicit selects the given sources, one series each.
func Explicit(sources []string) SourceSelection {
	return SourceSelection{Mode: SelectExplicit, Sources: sources}
}

// ByAttribute selects all sources whose attribute equals value.
func ByAttribute(attribute, value string) SourceSelection {
	return SourceSelection{Mode: SelectByAttribute, Attribute: attribute, Value: value}
}

// LabelColumn is the rendered name of the row label: "source" for explicit
// selections, the attribute name otherwise.
func (s SourceSelection) LabelColumn() string {
	if s.Mode == SelectByAttribute {
		return s.Attribute
	}
	return SourceColumn
}

// Request is a validated aggregation request.
type Request struct {
	Operator   Operator
	Resolution int64 // bucket width in seconds
	From       time.Time
	Before     time.Time
	Selection  SourceSelection
	Fields     FieldMap
	Format     Format

	// Params holds the raw query parameters, reused for pagination links.
	Params url.Values
}

// Parse validates raw query parameters. pathFormat is the optional format
// taken from the request path (aggregations.csv) and wins over the format
// parameter. Checks run in a fixed order and stop at the first failure; the
// returned error is always a *ValidationError.
func Parse(params url.Values, pathFormat string) (Request, error) {
	sources := splitList(params.Get(ParamSources))
	city := strings.TrimSpace(params.Get(ParamCity))

	var selection SourceSelection
	switch {
	case len(sources) > 0 && city != "":
		return Request{}, syntaxErrorf("Must specify only one of %s or %s", ParamSources, ParamCity)
	case len(sources) > 0:
		selection = Explicit(sources)
	case city != "":
		selection = ByAttribute(CityAttribute, city)
	default:
		return Request{}, syntaxErrorf("Must specify %s or %s", ParamSources, ParamCity)
	}

	fields := splitList(params.Get(ParamFields))
	if len(fields) == 0 {
		return Request{}, syntaxErrorf("Must specify %s parameter", ParamFields)
	}
	for _, f := range fields {
		if f == TimestampColumn || f == selection.LabelColumn() {
			return Request{}, syntaxErrorf("Field name %q is reserved", f)
		}
	}

	resolution, ok := ParseResolution(params.Get(ParamResolution))
	if !ok {
		return Request{}, syntaxErrorf("Must specify %s parameter", ParamResolution)
	}

	from, err := ParseTime(params.Get(ParamFrom))
	if err != nil {
		return Request{}, syntaxErrorf("Must specify a valid %s timestamp", ParamFrom)
	}
	before, err := ParseTime(params.Get(ParamBefore))
	if err != nil {
		return Request{}, syntaxErrorf("Must specify a valid %s timestamp", ParamBefore)
	}
	if EstimatedCount(from, before, resolution) > MaxResultCount {
		return Request{}, rangeErrorf("Time range represents more than the maximum %d possible results per query", MaxResultCount)
	}

	op := Operator(params.Get(ParamOp))
	if op == "" {
		op = OpMean
	}
	if !op.Valid() {
		return Request{}, syntaxErrorf("Unsupported %s %q, must be one of %s, %s, %s", ParamOp, op, OpMean, OpMax, OpMin)
	}

	format := Format(pathFormat)
	if format == "" {
		format = Format(params.Get(ParamFormat))
	}
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		return Request{}, syntaxErrorf("Unsupported format %q, must be %s or %s", format, FormatJSON, FormatCSV)
	}

	return Request{
		Operator:   op,
		Resolution: resolution,
		From:       from,
		Before:     before,
		Selection:  selection,
		Fields:     NewFieldMap(fields),
		Format:     format,
		Params:     cloneValues(params),
	}, nil
}

// ParseResolution converts a compact duration such as "20m" into seconds.
// The text before the unit must be a positive decimal integer and the unit
// one of s, m or h.
func ParseResolution(s string) (int64, bool) {
	if len(s) < 2 {
		return 0, false
	}

	var unit int64
	switch s[len(s)-1] {
	case 's':
		unit = 1
	case 'm':
		unit = 60
	case 'h':
		unit = 60 * 60
	default:
		return 0, false
	}

	digits := s[:len(s)-1]
	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || n <= 0 || n > maxResolution/unit {
		return 0, false
	}
	return n * unit, true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTime accepts RFC 3339 timestamps and, assuming UTC, bare
// date-times and dates.
func ParseTime(s string) (time.Time, error) {
	var err error
	for _, layout := range timeLayouts {
		var t time.Time
		t, err = time.Parse(layout, strings.TrimSpace(s))
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// EstimatedCount returns ceil((before-from)/resolution), the number of
// buckets the window can produce. Empty or inverted windows count as zero.
func EstimatedCount(from, before time.Time, resolution int64) int64 {
	window := before.Sub(from)
	if window <= 0 || resolution <= 0 {
		return 0
	}
	width := time.Duration(resolution) * time.Second
	n := int64(window / width)
	if window%width != 0 {
		n++
	}
	return n
}

// FormatTimestamp renders t the way timestamps appear in responses and links.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// splitList splits a comma-separated parameter, dropping blanks and repeats
// while keeping first-seen order.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
