package jsonldb

import (
	"encoding/json"
	"slices"
	"testing"
)

func TestRecord(t *testing.T) {
	t.Run("UnmarshalJSON", func(t *testing.T) {
		tests := []struct {
			name     string
			in       string
			wantCols []string
			wantVals []string
		}{
			{
				"keeps order",
				`{"email":"a@x.com","firstName":"John","age":"3"}`,
				[]string{"email", "firstName", "age"},
				[]string{"a@x.com", "John", "3"},
			},
			{
				"non string scalars",
				`{"n":42,"f":1.5,"b":true,"z":null}`,
				[]string{"n", "f", "b", "z"},
				[]string{"42", "1.5", "true", ""},
			},
			{
				"nested values compacted",
				`{"a": {"x": 1,  "y": [1, 2]}, "b": [ "q" ]}`,
				[]string{"a", "b"},
				[]string{`{"x":1,"y":[1,2]}`, `["q"]`},
			},
			{
				"duplicate key overwrites in place",
				`{"a":"1","b":"2","a":"3"}`,
				[]string{"a", "b"},
				[]string{"3", "2"},
			},
			{
				"empty object",
				`{}`,
				nil,
				nil,
			},
			{
				"surrounding whitespace",
				" {\"a\":\"1\"} \r\n",
				[]string{"a"},
				[]string{"1"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var r Record
				if err := json.Unmarshal([]byte(tt.in), &r); err != nil {
					t.Fatalf("Unmarshal() error: %v", err)
				}
				if got := r.Columns(); !slices.Equal(got, tt.wantCols) {
					t.Errorf("Columns() = %q, want %q", got, tt.wantCols)
				}
				if got := r.Values(); !slices.Equal(got, tt.wantVals) {
					t.Errorf("Values() = %q, want %q", got, tt.wantVals)
				}
			})
		}
	})

	t.Run("UnmarshalJSON/invalid", func(t *testing.T) {
		for _, in := range []string{`[]`, `"a"`, `null`, `{"a":`, `42`, `{"a":"b"} garbage`, `{"a":"b"}{"c":"d"}`} {
			t.Run(in, func(t *testing.T) {
				var r Record
				if err := r.UnmarshalJSON([]byte(in)); err == nil {
					t.Errorf("UnmarshalJSON(%s) succeeded, want error", in)
				}
			})
		}
	})

	t.Run("MarshalJSON", func(t *testing.T) {
		r := NewRecord([]string{"z", "a", "quote\""}, []string{"1", "2", "x\ny"})
		data, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		want := `{"z":"1","a":"2","quote\"":"x\ny"}`
		if string(data) != want {
			t.Errorf("Marshal() = %s, want %s", data, want)
		}
	})

	t.Run("Field", func(t *testing.T) {
		r := NewRecord([]string{"a", "b"}, []string{"1"})
		if got := r.Field(0); got != "1" {
			t.Errorf("Field(0) = %q", got)
		}
		if got := r.Field(1); got != "" {
			t.Errorf("Field(1) = %q, want padded empty value", got)
		}
		if got := r.Field(5); got != "" {
			t.Errorf("Field(5) = %q, want empty", got)
		}
		if got := r.Field(-1); got != "" {
			t.Errorf("Field(-1) = %q, want empty", got)
		}
	})

	t.Run("Conform", func(t *testing.T) {
		header := []string{"email", "firstName", "last"}
		tests := []struct {
			name     string
			rec      Record
			wantCols []string
			wantVals []string
		}{
			{
				"same order is unchanged",
				NewRecord(header, []string{"a", "b", "c"}),
				header,
				[]string{"a", "b", "c"},
			},
			{
				"reordered",
				NewRecord([]string{"firstName", "last", "email"}, []string{"b", "c", "a"}),
				header,
				[]string{"a", "b", "c"},
			},
			{
				"missing and extra columns",
				NewRecord([]string{"extra", "email"}, []string{"x", "a"}),
				[]string{"email", "firstName", "last", "extra"},
				[]string{"a", "", "", "x"},
			},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got := tt.rec.Conform(header)
				if !slices.Equal(got.Columns(), tt.wantCols) {
					t.Errorf("Columns() = %q, want %q", got.Columns(), tt.wantCols)
				}
				if !slices.Equal(got.Values(), tt.wantVals) {
					t.Errorf("Values() = %q, want %q", got.Values(), tt.wantVals)
				}
			})
		}
	})

	t.Run("Get", func(t *testing.T) {
		r := NewRecord([]string{"Licenses"}, []string{"E5"})
		if v, ok := r.Get("Licenses"); !ok || v != "E5" {
			t.Errorf("Get(Licenses) = %q, %v", v, ok)
		}
		if _, ok := r.Get("licenses"); ok {
			t.Error("Get is case sensitive")
		}
	})
}
