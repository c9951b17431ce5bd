package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/searchd/internal/tools"
)

// compileToolSchema compiles and caches the JSON Schema advertised by a tool.
func (s *Server) compileToolSchema(name string) (*jsonschema.Schema, error) {
	s.schemaMu.Lock()
	defer s.schemaMu.Unlock()
	if sch, ok := s.schemas[name]; ok {
		return sch, nil
	}
	info, ok := s.cfg.Registry.Info(name)
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", name)
	}
	// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(info.InputSchema)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema JSON: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	s.schemas[name] = sch
	return sch, nil
}

// validateInvokeParams checks invoke params against the tool's input schema
// and extracts the query string.
func (s *Server) validateInvokeParams(name string, params json.RawMessage) (string, error) {
	if len(params) == 0 {
		return "", fmt.Errorf("params required")
	}
	sch, err := s.compileToolSchema(name)
	if err != nil {
		return "", err
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(params)))
	if err != nil {
		return "", fmt.Errorf("invalid JSON params: %w", err)
	}
	if err := sch.Validate(parsed); err != nil {
		return "", fmt.Errorf("params do not match tool schema: %w", err)
	}

	var input tools.SearchInput
	if err := json.Unmarshal(params, &input); err != nil {
		return "", fmt.Errorf("decode params: %w", err)
	}
	return input.Query, nil
}
