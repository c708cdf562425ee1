package aireport

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// SchemaKind enumerates the ways a decoded payload can violate the report schema.
type SchemaKind string

const (
	KindExtraKey      SchemaKind = "extra_key"
	KindMissingKey    SchemaKind = "missing_key"
	KindWrongType     SchemaKind = "wrong_type"
	KindValueMismatch SchemaKind = "value_mismatch"
)

// SchemaError names the first schema violation found and the offending field.
type SchemaError struct {
	Kind   SchemaKind
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("report schema violation (%s): %s", e.Kind, e.Detail)
}

const (
	fieldIncidentID         = "incident_id"
	fieldSeverity           = "severity"
	fieldSummary            = "summary"
	fieldEvidence           = "evidence"
	fieldRecommendedActions = "recommended_actions"
)

// Keys is the exact key set a report payload must carry, in canonical order.
var Keys = []string{
	fieldIncidentID,
	fieldSeverity,
	fieldSummary,
	fieldEvidence,
	fieldRecommendedActions,
}

// Validate checks payload against the report schema for incidentID.
//
// Checks run in a fixed order: unexpected keys, missing keys, incident_id type,
// incident_id value, then severity, summary, evidence, recommended_actions.
// The first violation is returned as a *SchemaError.
func Validate(payload map[string]json.RawMessage, incidentID int64) (models.Report, error) {
	if err := checkKeys(payload); err != nil {
		return models.Report{}, err
	}

	id, ok := decodeInt(payload[fieldIncidentID])
	if !ok {
		return models.Report{}, wrongType(fieldIncidentID, "an integer")
	}
	if id != incidentID {
		return models.Report{}, &SchemaError{
			Kind:   KindValueMismatch,
			Field:  fieldIncidentID,
			Detail: fmt.Sprintf("incident_id %d does not match requested incident %d", id, incidentID),
		}
	}

	severity, ok := decodeString(payload[fieldSeverity])
	if !ok {
		return models.Report{}, wrongType(fieldSeverity, "a string")
	}
	summary, ok := decodeString(payload[fieldSummary])
	if !ok {
		return models.Report{}, wrongType(fieldSummary, "a string")
	}
	evidence, ok := decodeStrings(payload[fieldEvidence])
	if !ok {
		return models.Report{}, wrongType(fieldEvidence, "a list of strings")
	}
	actions, ok := decodeStrings(payload[fieldRecommendedActions])
	if !ok {
		return models.Report{}, wrongType(fieldRecommendedActions, "a list of strings")
	}

	return models.Report{
		IncidentID:         id,
		Severity:           severity,
		Summary:            summary,
		Evidence:           evidence,
		RecommendedActions: actions,
	}, nil
}

func checkKeys(payload map[string]json.RawMessage) error {
	expected := make(map[string]bool, len(Keys))
	for _, k := range Keys {
		expected[k] = true
	}

	var extra []string
	for k := range payload {
		if !expected[k] {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return &SchemaError{
			Kind:   KindExtraKey,
			Field:  extra[0],
			Detail: fmt.Sprintf("unexpected key %q", extra[0]),
		}
	}

	for _, k := range Keys {
		if _, ok := payload[k]; !ok {
			return &SchemaError{
				Kind:   KindMissingKey,
				Field:  k,
				Detail: fmt.Sprintf("missing key %q", k),
			}
		}
	}
	return nil
}

func wrongType(field, want string) error {
	return &SchemaError{
		Kind:   KindWrongType,
		Field:  field,
		Detail: fmt.Sprintf("%s must be %s", field, want),
	}
}

// decodeInt accepts only integral JSON numbers; 3.0, "3" and true are rejected.
func decodeInt(raw json.RawMessage) (int64, bool) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, false
	}
	n, ok := v.(json.Number)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// decodeString rejects null, which json.Unmarshal would otherwise leave as "".
func decodeString(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return "", false
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return "", false
	}
	return s, true
}

func decodeStrings(raw json.RawMessage) ([]string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, false
	}
	var items []json.RawMessage
	if err := json.Unmarshal(trimmed, &items); err != nil {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := decodeString(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}
