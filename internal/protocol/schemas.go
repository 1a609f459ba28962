package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const schemaBaseURL = "https://fogfield.dev/schemas/"

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func loadSchemas() {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		schemaErr = err
		return
	}
	c := jsonschema.NewCompiler()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		b, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(schemaBaseURL+e.Name(), bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", e.Name(), err)
			return
		}
		names = append(names, e.Name())
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaBaseURL + name)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		// hello.schema.json -> HELLO
		out[strings.ToUpper(strings.TrimSuffix(name, ".schema.json"))] = s
	}
	schemas = out
}

// Schema returns the compiled schema for a message type.
func Schema(msgType string) (*jsonschema.Schema, error) {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return nil, schemaErr
	}
	s, ok := schemas[msgType]
	if !ok {
		return nil, fmt.Errorf("no schema for message type %q", msgType)
	}
	return s, nil
}

// Validate checks a raw JSON message against the schema for its type.
func Validate(raw []byte) (BaseMessage, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	s, err := Schema(base.Type)
	if err != nil {
		return base, err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return base, fmt.Errorf("decode: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return base, fmt.Errorf("%s: %w", base.Type, err)
	}
	return base, nil
}
