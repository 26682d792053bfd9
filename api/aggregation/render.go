package aggregation

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"net/url"
	"strconv"
	"time"
)

// Renderer writes an executed aggregation in one output format.
type Renderer interface {
	ContentType() string
	Render(w io.Writer, req Request, rows Rows) error
}

// NewRenderer picks the renderer for format. self is the URL of the current
// request; JSON pagination links are derived from it.
func NewRenderer(format Format, self *url.URL) Renderer {
	if format == FormatCSV {
		return CSVRenderer{}
	}
	return JSONRenderer{Self: self}
}

// CSVRenderer streams rows as CSV.
type CSVRenderer struct{}

func (CSVRenderer) ContentType() string {
	return "text/csv"
}

func (CSVRenderer) Render(w io.Writer, req Request, rows Rows) error {
	return WriteCSV(NewCSVSink(w), req, rows)
}

// CSVHeader returns the column order for req: timestamp, the requested
// fields in request order, then the row label.
func CSVHeader(req Request) []string {
	header := make([]string, 0, req.Fields.Len()+2)
	header = append(header, TimestampColumn)
	header = append(header, req.Fields.Names()...)
	return append(header, req.Selection.LabelColumn())
}

// WriteCSV writes the header and then one record per row, holding a single
// row at a time. Only the header is written for an empty result. A failure
// while iterating rows is returned as an *ExecutionError and the sink is
// left unfinished.
func WriteCSV(sink Sink, req Request, rows Rows) error {
	header := CSVHeader(req)
	if err := sink.WriteHeader(header); err != nil {
		return err
	}

	n := req.Fields.Len()
	record := make([]string, len(header))
	for rows.Next() {
		row := rows.Row()
		record[0] = FormatTimestamp(row.Timestamp)
		for i := 0; i < n; i++ {
			record[i+1] = formatCSVValue(valueAt(row, i))
		}
		record[n+1] = row.Label
		if err := sink.WriteRow(record); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return &ExecutionError{Err: err}
	}
	return sink.Finish()
}

// Window is a half-open time interval [From, Before).
type Window struct {
	From   time.Time
	Before time.Time
}

// Adjacent returns the windows of the same width immediately before and
// after [from, before).
func Adjacent(from, before time.Time) (prev, next Window) {
	width := before.Sub(from)
	prev = Window{From: from.Add(-width), Before: from}
	next = Window{From: before, Before: before.Add(width)}
	return prev, next
}

// Links points at the neighbouring pages of a JSON response.
type Links struct {
	Prev string `json:"prev"`
	Next string `json:"next"`
}

// PageLinks builds prev/next URLs that repeat every parameter of req except
// from and before, which are slid by one window width.
func PageLinks(self *url.URL, req Request) Links {
	prev, next := Adjacent(req.From, req.Before)
	return Links{
		Prev: windowURL(self, req.Params, prev),
		Next: windowURL(self, req.Params, next),
	}
}

func windowURL(self *url.URL, params url.Values, w Window) string {
	var u url.URL
	if self != nil {
		u = *self
	}
	q := cloneValues(params)
	q.Set(ParamFrom, FormatTimestamp(w.From))
	q.Set(ParamBefore, FormatTimestamp(w.Before))
	u.RawQuery = q.Encode()
	u.Fragment = ""
	return u.String()
}

// JSONRenderer writes {"links": ..., "data": [...]}. The whole result is
// collected before anything is written.
type JSONRenderer struct {
	Self *url.URL
}

func (JSONRenderer) ContentType() string {
	return "application/json"
}

type document struct {
	Links Links     `json:"links"`
	Data  []jsonRow `json:"data"`
}

func (r JSONRenderer) Render(w io.Writer, req Request, rows Rows) error {
	shape := &rowShape{fields: req.Fields, label: req.Selection.LabelColumn()}
	data := []jsonRow{}
	for rows.Next() {
		data = append(data, jsonRow{shape: shape, row: rows.Row()})
	}
	if err := rows.Err(); err != nil {
		return &ExecutionError{Err: err}
	}
	return json.NewEncoder(w).Encode(document{
		Links: PageLinks(r.Self, req),
		Data:  data,
	})
}

type rowShape struct {
	fields FieldMap
	label  string
}

// jsonRow encodes a Row as an object keyed by user field names, keeping
// timestamp first and the fields in request order.
type jsonRow struct {
	shape *rowShape
	row   Row
}

func (r jsonRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, TimestampColumn, FormatTimestamp(r.row.Timestamp)); err != nil {
		return nil, err
	}
	for i := 0; i < r.shape.fields.Len(); i++ {
		buf.WriteByte(',')
		if err := writeMember(&buf, r.shape.fields.Name(i), jsonValue(valueAt(r.row, i))); err != nil {
			return nil, err
		}
	}
	buf.WriteByte(',')
	if err := writeMember(&buf, r.shape.label, r.row.Label); err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func valueAt(row Row, ordinal int) *float64 {
	if ordinal >= len(row.Values) {
		return nil
	}
	return row.Values[ordinal]
}

// jsonValue maps missing and non-finite values to null.
func jsonValue(v *float64) any {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return nil
	}
	return *v
}

func formatCSVValue(v *float64) string {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
