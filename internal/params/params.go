// Package params validates and encodes caller-supplied script parameters.
// Parameters travel to the launcher as a single structured JSON payload —
// never concatenated into command text — so a crafted name or value cannot
// become an argument-injection vector.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// nameRe is the identifier syntax every parameter name must match.
// Anything else is rejected before a subprocess exists.
var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidationError reports a parameter the caller must fix.
// Not retryable as-is.
type ValidationError struct {
	Name   string // Offending parameter name. Empty for payload-level errors.
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("parameter %q: %s", e.Name, e.Reason)
	}
	return e.Reason
}

// Param is a single named script parameter.
type Param struct {
	Name  string
	Value any
}

// Params is an order-preserving list of named parameters.
// JSON objects do not guarantee key order through a Go map, so decoding
// walks the token stream and keeps the caller's declaration order.
type Params []Param

// UnmarshalJSON decodes a JSON object into Params, preserving key order.
// JSON null decodes to nil (no parameters). Any other non-object payload
// is a ValidationError.
func (p *Params) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return &ValidationError{Reason: "parameters payload is not valid JSON"}
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return &ValidationError{Reason: "parameters must be a JSON object"}
	}

	var out Params
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return &ValidationError{Reason: "parameters payload is not valid JSON"}
		}
		key, ok := keyTok.(string)
		if !ok {
			return &ValidationError{Reason: "parameters payload is not valid JSON"}
		}
		var val any
		if err := dec.Decode(&val); err != nil {
			return &ValidationError{Name: key, Reason: "value is not valid JSON"}
		}
		out = append(out, Param{Name: key, Value: val})
	}
	if _, err := dec.Token(); err != nil {
		return &ValidationError{Reason: "parameters payload is not valid JSON"}
	}

	*p = out
	return nil
}

// Validate checks every parameter name against identifier syntax and
// rejects duplicates. Returns a *ValidationError on the first offender.
func (p Params) Validate() error {
	seen := make(map[string]bool, len(p))
	for _, prm := range p {
		if !nameRe.MatchString(prm.Name) {
			return &ValidationError{Name: prm.Name, Reason: "name must match ^[A-Za-z_][A-Za-z0-9_]*$"}
		}
		if seen[prm.Name] {
			return &ValidationError{Name: prm.Name, Reason: "duplicate parameter name"}
		}
		seen[prm.Name] = true
	}
	return nil
}

// Marshal validates the parameters and encodes them as a single JSON object
// in declaration order. The resulting payload is handed to the launcher
// through stdin — a dedicated channel the target script cannot confuse with
// command-line text.
func (p Params) Marshal() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, prm := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(prm.Name)
		if err != nil {
			return nil, &ValidationError{Name: prm.Name, Reason: "name is not JSON-encodable"}
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(prm.Value)
		if err != nil {
			return nil, &ValidationError{Name: prm.Name, Reason: "value is not JSON-encodable"}
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// StringValue renders the parameter value for environment-variable binding.
// Scalars render naturally; composite values fall back to compact JSON.
func (prm Param) StringValue() string {
	switch v := prm.Value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}
