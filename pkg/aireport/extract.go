// Package aireport turns untrusted model output into a validated models.Report.
// All functions are pure: no I/O, no clocks.
package aireport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// ExtractKind enumerates why a JSON object could not be pulled out of a reply.
type ExtractKind string

const (
	ExtractNoObject    ExtractKind = "no_json_object"
	ExtractInvalidJSON ExtractKind = "invalid_json"
)

// ExtractError reports a reply that does not contain a parseable JSON object.
type ExtractError struct {
	Kind ExtractKind
	Err  error
}

func (e *ExtractError) Error() string {
	if e.Kind == ExtractNoObject {
		return "no JSON object found"
	}
	return fmt.Sprintf("invalid JSON: %v", e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

const fence = "```"

// Extract locates the outermost JSON object in text and decodes it.
//
// Surrounding whitespace is trimmed. When the reply opens with a code fence,
// every line that starts with a fence is dropped before the search. The
// candidate runs from the first '{' to the last '}' inclusive.
func Extract(text string) (map[string]json.RawMessage, error) {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, fence) {
		lines := strings.Split(cleaned, "\n")
		kept := lines[:0]
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), fence) {
				continue
			}
			kept = append(kept, line)
		}
		cleaned = strings.TrimSpace(strings.Join(kept, "\n"))
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return nil, &ExtractError{Kind: ExtractNoObject}
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), &payload); err != nil {
		return nil, &ExtractError{Kind: ExtractInvalidJSON, Err: err}
	}
	return payload, nil
}

// Parse extracts and validates a reply for the given incident in one step.
func Parse(text string, incidentID int64) (models.Report, error) {
	payload, err := Extract(text)
	if err != nil {
		return models.Report{}, err
	}
	return Validate(payload, incidentID)
}
