// Package toolserver implements the built-in tool servers: sales knowledge,
// conversation memory, company research and file processing. Each implements
// mcp.Handler and declares its capabilities with generated JSON Schemas.
package toolserver

import (
	"encoding/json"
	"fmt"
)

// Well-known tool server names. Agents reference these in configuration.
const (
	ServerSalesKnowledge  = "sales-knowledge"
	ServerMemory          = "memory"
	ServerCompanyResearch = "company-research"
	ServerFileProcessing  = "file-processing"
)

// emptyRequest backs capability schemas for operations that take no
// parameters. Schema generation requires a named type; reflecting an
// anonymous empty struct crashes the reflector.
type emptyRequest struct{}

// decode maps a request payload onto a typed request struct.
func decode(payload map[string]any, v any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	return nil
}

// encode maps a typed response struct to a response payload.
func encode(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return out, nil
}
