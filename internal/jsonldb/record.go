// Defines Record, an ordered JSON object with string values.

package jsonldb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Record is an ordered mapping of column name to string value.
//
// The zero value is an empty record. Column order is preserved through JSON
// encoding and decoding, which map[string]string cannot do.
type Record struct {
	cols []string
	vals []string
}

// NewRecord creates a record from parallel column and value slices.
//
// Missing values are filled with "". Extra values are dropped.
func NewRecord(cols, vals []string) Record {
	r := Record{cols: make([]string, len(cols)), vals: make([]string, len(cols))}
	copy(r.cols, cols)
	copy(r.vals, vals)
	return r
}

// Len returns the number of columns.
func (r Record) Len() int {
	return len(r.cols)
}

// Columns returns a copy of the column names in order.
func (r Record) Columns() []string {
	return append([]string(nil), r.cols...)
}

// Values returns a copy of the values in column order.
func (r Record) Values() []string {
	return append([]string(nil), r.vals...)
}

// Field returns the value at position i, or "" if out of range.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r.vals) {
		return ""
	}
	return r.vals[i]
}

// Get returns the value for the named column.
func (r Record) Get(name string) (string, bool) {
	for i, c := range r.cols {
		if c == name {
			return r.vals[i], true
		}
	}
	return "", false
}

// Set sets the value of a column, appending it if absent.
func (r *Record) Set(name, value string) {
	for i, c := range r.cols {
		if c == name {
			r.vals[i] = value
			return
		}
	}
	r.cols = append(r.cols, name)
	r.vals = append(r.vals, value)
}

// Conform returns the record reordered to follow header.
//
// Columns in header come first in header order, with "" for the ones the
// record lacks. Columns the header does not know are appended in their
// original order.
func (r Record) Conform(header []string) Record {
	if slices.Equal(r.cols, header) {
		return r
	}
	out := Record{cols: make([]string, 0, max(len(header), len(r.cols))), vals: make([]string, 0, max(len(header), len(r.cols)))}
	used := make([]bool, len(r.cols))
	for _, h := range header {
		v := ""
		for i, c := range r.cols {
			if !used[i] && c == h {
				v = r.vals[i]
				used[i] = true
				break
			}
		}
		out.cols = append(out.cols, h)
		out.vals = append(out.vals, v)
	}
	for i, c := range r.cols {
		if !used[i] {
			out.cols = append(out.cols, c)
			out.vals = append(out.vals, r.vals[i])
		}
	}
	return out
}

// MarshalJSON encodes the record as a JSON object in column order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.cols {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(r.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

var (
	errNotObject    = errors.New("record must be a JSON object")
	errTrailingData = errors.New("unexpected data after record")
)

// UnmarshalJSON decodes a JSON object, keeping key order.
//
// Strings are kept as is, null becomes "", other scalars keep their JSON
// text and nested objects or arrays are stored as compact JSON. A repeated
// key overwrites the earlier value in place.
func (r *Record) UnmarshalJSON(data []byte) error {
	d := json.NewDecoder(bytes.NewReader(data))
	d.UseNumber()
	tok, err := d.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errNotObject
	}
	out := Record{}
	for d.More() {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := d.Decode(&raw); err != nil {
			return err
		}
		v, err := ValueString(raw)
		if err != nil {
			return fmt.Errorf("column %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := d.Token(); err != nil {
		return err
	}
	if _, err := d.Token(); !errors.Is(err, io.EOF) {
		return errTrailingData
	}
	*r = out
	return nil
}

// ValueString renders a JSON value as the string stored in a record.
func ValueString(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", nil
	}
	switch raw[0] {
	case '"':
		var s string
		err := json.Unmarshal(raw, &s)
		return s, err
	case 'n':
		return "", nil
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return "", err
		}
		return buf.String(), nil
	default:
		return strings.TrimSpace(string(raw)), nil
	}
}
