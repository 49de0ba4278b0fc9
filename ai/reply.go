package ai

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/teranos/intake/errors"
)

var (
	// ErrNoJSON means the reply carried no JSON object at all
	ErrNoJSON = errors.New("no JSON object in model reply")
	// ErrInvalidReply means the JSON did not satisfy the expected schema
	ErrInvalidReply = errors.New("model reply failed validation")
)

var (
	fenceRe         = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON pulls the JSON object out of a model reply. It accepts ```json
// fences, surrounding prose and trailing commas.
func ExtractJSON(reply string) (string, error) {
	text := reply
	if m := fenceRe.FindStringSubmatch(reply); m != nil && strings.Contains(m[1], "{") {
		text = m[1]
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return "", errors.Wrapf(ErrNoJSON, "reply: %.80q", reply)
	}
	return trailingCommaRe.ReplaceAllString(text[start:end+1], "$1"), nil
}

// Schema validates model replies against a JSON Schema
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema document
func CompileSchema(name, source string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		return nil, errors.Wrapf(err, "failed to add schema %s", name)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile schema %s", name)
	}
	return &Schema{name: name, schema: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas
func MustCompileSchema(name, source string) *Schema {
	s, err := CompileSchema(name, source)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode extracts the JSON object from reply, validates it and unmarshals it into v
func (s *Schema) Decode(reply string, v interface{}) error {
	raw, err := ExtractJSON(reply)
	if err != nil {
		return err
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return errors.Wrapf(ErrInvalidReply, "malformed JSON: %v", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return errors.Wrapf(ErrInvalidReply, "%s: %v", s.name, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.Wrapf(ErrInvalidReply, "decode %s: %v", s.name, err)
	}
	return nil
}
