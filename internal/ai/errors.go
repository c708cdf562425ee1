package ai

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/honeykey/internal/ai/transport"
)

var (
	ErrProviderUnavailable = transport.ErrUnavailable
	ErrInferenceTimeout    = transport.ErrTimeout
	ErrInvalidResponse     = transport.ErrBadResponse

	// ErrConfigurationMissing means the selected provider has no credential, so no call is attempted.
	ErrConfigurationMissing = errors.New("ai provider is not configured")
	ErrIncidentNotFound     = errors.New("incident not found")
	ErrGenerationFailed     = errors.New("ai generation failed")

	ErrReportNotFound = errors.New("ai report not found")
	// ErrReportConflict means the latest stored report for the incident failed to parse.
	ErrReportConflict = errors.New("latest ai report failed to parse")
)

// GenerationError wraps any provider, extraction or validation failure raised
// while analyzing an incident.
type GenerationError struct {
	Cause         error
	CorrelationID string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("AI generation failed: %v. correlation_id=%s", e.Cause, e.CorrelationID)
}

func (e *GenerationError) Is(target error) bool { return target == ErrGenerationFailed }

func (e *GenerationError) Unwrap() error { return e.Cause }
