package backlog

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/sdlc-agency/agency/internal/types"
)

// List formats.
const (
	FormatSummary = "summary"
	FormatJSON    = "json"
	FormatTable   = "table"
)

var (
	// DefaultJSONFields are returned by the json format.
	DefaultJSONFields = []string{
		"id", "title", "feature_area", "priority", "role", "want", "benefit",
		"acceptance_criteria", "notes", "dependencies", "status",
	}
	// DefaultSummaryFields are returned by the summary format.
	DefaultSummaryFields = []string{"id", "title", "status", "priority", "feature_area"}
	// DefaultTableFields are the columns of the table format.
	DefaultTableFields = []string{"id", "title", "priority", "status", "feature_area"}
)

var missingValue = json.RawMessage(`"-"`)

// Row is a projection of a story onto a list of fields. It serializes
// with keys in field order; unknown fields read as "-".
type Row struct {
	fields []string
	values map[string]json.RawMessage
}

func projectStory(st *Story, fields []string) (Row, error) {
	data, err := json.Marshal(st)
	if err != nil {
		return Row{}, err
	}
	all := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &all); err != nil {
		return Row{}, err
	}
	r := Row{fields: fields, values: make(map[string]json.RawMessage, len(fields))}
	for _, f := range fields {
		v, ok := all[f]
		if !ok {
			v = missingValue
		}
		r.values[f] = v
	}
	return r, nil
}

// Fields returns the projected field names in order.
func (r Row) Fields() []string { return r.fields }

// Raw returns the JSON value of field, or nil if it was not projected.
func (r Row) Raw(field string) json.RawMessage { return r.values[field] }

// String returns field as text: strings unquoted, other values as compact
// JSON, "" when absent.
func (r Row) String(field string) string {
	v, ok := r.values[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return string(v)
	}
	return buf.String()
}

// Strings returns a string-array field, or nil when it is not one.
func (r Row) Strings(field string) []string {
	var out []string
	if err := json.Unmarshal(r.values[field], &out); err != nil {
		return nil
	}
	return out
}

// MarshalJSON writes the fields in projection order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, _ := json.Marshal(f)
		buf.Write(key)
		buf.WriteByte(':')
		v := r.values[f]
		if v == nil {
			v = missingValue
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON accepts any object; fields come back in sorted order.
func (r *Row) UnmarshalJSON(data []byte) error {
	values := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	fields := make([]string, 0, len(values))
	for k := range values {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	r.fields, r.values = fields, values
	return nil
}

// ListOptions filter, paginate and project a listing.
type ListOptions struct {
	Status   types.StoryStatus
	Feature  string
	Priority types.Priority
	Fields   []string
	Format   string
	Limit    int
	Offset   int
}

// ListResult is the json/summary listing. Count is the number of matches
// before pagination.
type ListResult struct {
	Stories []Row `json:"stories"`
	Count   int   `json:"count"`
}

// fields resolves the projection for the format.
func (o ListOptions) fields() []string {
	if len(o.Fields) > 0 {
		return o.Fields
	}
	switch o.Format {
	case FormatJSON:
		return DefaultJSONFields
	case FormatTable:
		return DefaultTableFields
	default:
		return DefaultSummaryFields
	}
}

// List filters, paginates and projects stories. It never mutates.
func (s *Store) List(_ context.Context, opts ListOptions) (*ListResult, error) {
	switch opts.Format {
	case "", FormatSummary, FormatJSON, FormatTable:
	default:
		return nil, types.InvalidArgumentf("invalid format %q (valid: json, table, summary)", opts.Format)
	}
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, types.InvalidArgumentf("--limit and --offset must not be negative")
	}
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}

	matched := make([]*Story, 0, len(doc.Stories))
	for _, st := range doc.Stories {
		if opts.Status != "" && st.Status != opts.Status {
			continue
		}
		if opts.Feature != "" && st.FeatureArea != opts.Feature {
			continue
		}
		if opts.Priority != "" && st.Priority != opts.Priority {
			continue
		}
		matched = append(matched, st)
	}
	res := &ListResult{Stories: []Row{}, Count: len(matched)}

	if opts.Offset > 0 {
		if opts.Offset >= len(matched) {
			matched = nil
		} else {
			matched = matched[opts.Offset:]
		}
	}
	if opts.Limit > 0 && opts.Limit < len(matched) {
		matched = matched[:opts.Limit]
	}

	fields := opts.fields()
	for _, st := range matched {
		row, err := projectStory(st, fields)
		if err != nil {
			return nil, err
		}
		res.Stories = append(res.Stories, row)
	}
	return res, nil
}

// RenderTable renders rows as a markdown table over fields.
func RenderTable(rows []Row, fields []string) string {
	if len(fields) == 0 {
		fields = DefaultTableFields
	}
	seps := make([]string, len(fields))
	for i := range seps {
		seps[i] = "---"
	}
	lines := []string{strings.Join(fields, " | "), strings.Join(seps, " | ")}
	for _, r := range rows {
		cells := make([]string, len(fields))
		for i, f := range fields {
			cells[i] = r.String(f)
			if cells[i] == "" && r.Raw(f) == nil {
				cells[i] = "-"
			}
		}
		lines = append(lines, strings.Join(cells, " | "))
	}
	return strings.Join(lines, "\n")
}
