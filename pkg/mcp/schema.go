package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/xeipuuv/gojsonschema"
)

// SchemaFor generates a JSON Schema for a Go request/response struct. Local
// tool servers use this to declare their capabilities from their typed
// payloads instead of hand-writing schemas.
func SchemaFor(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}

	schema := reflector.Reflect(v)
	data, err := json.Marshal(schema)
	if err != nil {
		// Reflection of a plain struct cannot produce unmarshalable output;
		// fall back to an open schema rather than panic at registration.
		return json.RawMessage(`{"type":"object"}`)
	}
	return data
}

// compileCapabilities validates and compiles the request schemas of a
// descriptor. A malformed schema fails the whole registration.
func compileCapabilities(descriptor ServerDescriptor) (map[string]*gojsonschema.Schema, error) {
	if len(descriptor.Capabilities) == 0 {
		return nil, &ValidationError{
			Server:  descriptor.Name,
			Message: "descriptor declares no capabilities",
		}
	}

	compiled := make(map[string]*gojsonschema.Schema, len(descriptor.Capabilities))
	for _, capability := range descriptor.Capabilities {
		if capability.Operation == "" {
			return nil, &ValidationError{
				Server:  descriptor.Name,
				Message: "capability with empty operation name",
			}
		}
		if _, exists := compiled[capability.Operation]; exists {
			return nil, &ValidationError{
				Server:  descriptor.Name,
				Message: fmt.Sprintf("duplicate capability %q", capability.Operation),
			}
		}

		raw := capability.RequestSchema
		if len(raw) == 0 {
			raw = json.RawMessage(`{"type":"object"}`)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, &ValidationError{
				Server:  descriptor.Name,
				Message: fmt.Sprintf("malformed request schema for %q", capability.Operation),
				Err:     err,
			}
		}
		compiled[capability.Operation] = schema
	}

	return compiled, nil
}

// validatePayload checks a request payload against a compiled schema.
func validatePayload(server, operation string, schema *gojsonschema.Schema, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(payload))
	if err != nil {
		return &SchemaMismatchError{
			Server:    server,
			Operation: operation,
			Details:   []string{err.Error()},
		}
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return &SchemaMismatchError{
			Server:    server,
			Operation: operation,
			Details:   details,
		}
	}

	return nil
}
