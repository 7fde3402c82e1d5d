package params

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParams_UnmarshalPreservesOrder(t *testing.T) {
	raw := `{"zulu": 1, "alpha": "two", "mike": true}`

	var p Params
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}

	want := []string{"zulu", "alpha", "mike"}
	if len(p) != len(want) {
		t.Fatalf("got %d params, want %d", len(p), len(want))
	}
	for i, name := range want {
		if p[i].Name != name {
			t.Errorf("param[%d].Name = %q, want %q", i, p[i].Name, name)
		}
	}
}

func TestParams_UnmarshalNull(t *testing.T) {
	var p Params
	if err := json.Unmarshal([]byte(`null`), &p); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if p != nil {
		t.Errorf("got %v, want nil", p)
	}
}

func TestParams_UnmarshalRejectsNonObject(t *testing.T) {
	for _, raw := range []string{`[1,2]`, `"text"`, `42`} {
		var p Params
		err := json.Unmarshal([]byte(raw), &p)
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("unmarshal(%s): got %v, want ValidationError", raw, err)
		}
	}
}

func TestParams_ValidateNames(t *testing.T) {
	tests := []struct {
		name    string
		valid   bool
	}{
		{"ComputerName", true},
		{"_private", true},
		{"x1", true},
		{"bad name", false},
		{"1leading", false},
		{"dash-ed", false},
		{"semi;colon", false},
		{"", false},
		{"$(rm -rf /)", false},
	}

	for _, tt := range tests {
		p := Params{{Name: tt.name, Value: "v"}}
		err := p.Validate()
		if tt.valid && err != nil {
			t.Errorf("Validate(%q) = %v, want nil", tt.name, err)
		}
		if !tt.valid {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Errorf("Validate(%q) = %v, want ValidationError", tt.name, err)
			}
		}
	}
}

func TestParams_ValidateRejectsDuplicates(t *testing.T) {
	p := Params{{Name: "a", Value: 1}, {Name: "a", Value: 2}}
	var verr *ValidationError
	if err := p.Validate(); !errors.As(err, &verr) {
		t.Fatalf("got %v, want ValidationError for duplicate name", err)
	}
}

func TestParams_MarshalOrderedPayload(t *testing.T) {
	p := Params{
		{Name: "host", Value: "web01"},
		{Name: "count", Value: json.Number("3")},
		{Name: "dryRun", Value: true},
	}

	payload, err := p.Marshal()
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}

	want := `{"host":"web01","count":3,"dryRun":true}`
	if string(payload) != want {
		t.Errorf("payload = %s, want %s", payload, want)
	}
}

func TestParams_MarshalRejectsInvalidName(t *testing.T) {
	p := Params{{Name: "bad name", Value: "x"}}
	if _, err := p.Marshal(); err == nil {
		t.Fatal("expected validation error, got nil")
	}
}

func TestParam_StringValue(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{"text", "text"},
		{json.Number("42"), "42"},
		{true, "true"},
		{nil, ""},
		{3.5, "3.5"},
		{[]any{"a", "b"}, `["a","b"]`},
	}
	for _, tt := range tests {
		got := Param{Name: "p", Value: tt.value}.StringValue()
		if got != tt.want {
			t.Errorf("StringValue(%v) = %q, want %q", tt.value, got, tt.want)
		}
	}
}
