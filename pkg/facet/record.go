package facet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Record is an ordered mapping from facet name to value. The zero value is an
// empty record. Records are treated as values: Set returns a modified copy.
type Record struct {
	keys   []string
	values map[string]string
}

// NewRecord builds a record from alternating name/value pairs. A trailing
// name without a value is ignored.
func NewRecord(pairs ...string) Record {
	var r Record
	for i := 0; i+1 < len(pairs); i += 2 {
		r = r.Set(pairs[i], pairs[i+1])
	}
	return r
}

// FromMap builds a record from m. Required facets come first in their
// canonical order, followed by the remaining names in lexical order.
func FromMap(m map[string]string) Record {
	r := Record{values: make(map[string]string, len(m))}
	for _, name := range Required {
		if v, ok := m[name]; ok {
			r.keys = append(r.keys, name)
			r.values[name] = v
		}
	}
	extra := make([]string, 0, len(m))
	for name := range m {
		if _, ok := r.values[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		r.keys = append(r.keys, name)
		r.values[name] = m[name]
	}
	return r
}

// Get returns the value of name and whether it is present.
func (r Record) Get(name string) (string, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns the value of name or the empty string.
func (r Record) Value(name string) string { return r.values[name] }

// Has reports whether name is present with a non-blank value.
func (r Record) Has(name string) bool {
	return strings.TrimSpace(r.values[name]) != ""
}

// Len returns the number of facets.
func (r Record) Len() int { return len(r.keys) }

// Keys returns the facet names in order.
func (r Record) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Set returns a copy of r with name set to value. Existing names keep their
// position; new names are appended.
func (r Record) Set(name, value string) Record {
	out := r.Clone()
	if out.values == nil {
		out.values = make(map[string]string)
	}
	if _, ok := out.values[name]; !ok {
		out.keys = append(out.keys, name)
	}
	out.values[name] = value
	return out
}

// Clone returns a deep copy.
func (r Record) Clone() Record {
	out := Record{keys: make([]string, len(r.keys)), values: make(map[string]string, len(r.values))}
	copy(out.keys, r.keys)
	for k, v := range r.values {
		out.values[k] = v
	}
	return out
}

// Map returns the facets as a plain map.
func (r Record) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Missing returns the required facets absent from r, in canonical order.
func (r Record) Missing() []string {
	var missing []string
	for _, name := range Required {
		if !r.Has(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Equal reports whether both records hold the same names, order and values.
func (r Record) Equal(o Record) bool {
	if len(r.keys) != len(o.keys) {
		return false
	}
	for i, k := range r.keys {
		if o.keys[i] != k || o.values[k] != r.values[k] {
			return false
		}
	}
	return true
}

// String renders the record as name=value pairs in order.
func (r Record) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(r.values[k])
	}
	b.WriteByte('}')
	return b.String()
}

// MarshalJSON encodes the record as a JSON object preserving facet order.
func (r Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping key order. Search services
// return most facets as single-element lists; the first element is used.
// Numbers and booleans are kept in their textual form, null becomes empty.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("facet record: expected object, got %v", tok)
	}
	out := Record{values: make(map[string]string)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("facet record: unexpected key %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("facet record: decode %s: %w", name, err)
		}
		value, err := scalarValue(raw)
		if err != nil {
			return fmt.Errorf("facet record: decode %s: %w", name, err)
		}
		if _, dup := out.values[name]; !dup {
			out.keys = append(out.keys, name)
		}
		out.values[name] = value
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*r = out
	return nil
}

func scalarValue(raw json.RawMessage) (string, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return "", err
	}
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return "", nil
		}
		v = list[0]
	}
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value %T", v)
	}
}
