package model

import (
	"bytes"
	"encoding/json"

	"github.com/teranos/intake/errors"
)

// Fields is a string map that remembers insertion order.
// JSON encodes it as an object with keys in that order.
type Fields struct {
	keys   []string
	values map[string]string
}

// NewFields creates an empty ordered map
func NewFields() *Fields {
	return &Fields{values: make(map[string]string)}
}

// FieldsFromPairs builds Fields from parallel key and value slices.
// Missing values are stored as "".
func FieldsFromPairs(keys, values []string) *Fields {
	f := NewFields()
	for i, k := range keys {
		v := ""
		if i < len(values) {
			v = values[i]
		}
		f.Set(k, v)
	}
	return f
}

// Get returns the value for key and whether it is present
func (f *Fields) Get(key string) (string, bool) {
	if f == nil || f.values == nil {
		return "", false
	}
	v, ok := f.values[key]
	return v, ok
}

// Value returns the value for key or ""
func (f *Fields) Value(key string) string {
	v, _ := f.Get(key)
	return v
}

// Set stores value under key. A new key goes to the end; an existing key keeps its position.
func (f *Fields) Set(key, value string) {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, exists := f.values[key]; !exists {
		f.keys = append(f.keys, key)
	}
	f.values[key] = value
}

// Keys returns keys in insertion order
func (f *Fields) Keys() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.keys))
	copy(out, f.keys)
	return out
}

// Len returns the number of keys
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.keys)
}

// MarshalJSON writes an object preserving key order
func (f *Fields) MarshalJSON() ([]byte, error) {
	if f == nil {
		return []byte("{}"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range f.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(f.values[k])
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

// UnmarshalJSON reads an object preserving key order. Non-string values are
// kept as their JSON text, which is how HR reports deliver numbers and booleans.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "failed to read fields")
	}
	if tok == nil {
		*f = Fields{values: make(map[string]string)}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.Newf("fields must be a JSON object, got %v", tok)
	}

	out := Fields{values: make(map[string]string)}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "failed to read field key")
		}
		key, ok := keyTok.(string)
		if !ok {
			return errors.Newf("field key must be a string, got %v", keyTok)
		}

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return errors.Wrapf(err, "failed to read value of field %q", key)
		}
		out.Set(key, rawToString(raw))
	}
	*f = out
	return nil
}

func rawToString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	trimmed := bytes.TrimSpace(raw)
	if bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	return string(trimmed)
}
