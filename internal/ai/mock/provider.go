package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/kiranshivaraju/honeykey/internal/ai"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing and local demos.
type MockProvider struct {
	Name_        string
	Model_       string
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

func (m *MockProvider) Name() string  { return m.Name_ }
func (m *MockProvider) Model() string { return m.Model_ }

func (m *MockProvider) Generate(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.GenerateFunc != nil {
		return m.GenerateFunc(ctx, prompt)
	}
	return "", nil
}

// Prompts returns every prompt received so far.
func (m *MockProvider) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// NewMockProvider returns a MockProvider that answers with a valid report for
// whichever incident the prompt describes.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-v1",
		GenerateFunc: func(_ context.Context, prompt string) (string, error) {
			inc, err := IncidentFromPrompt(prompt)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(models.Report{
				IncidentID: inc.ID,
				Severity:   "high",
				Summary:    fmt.Sprintf("Honeypot key %s used from %s", inc.KeyID, inc.SourceIP),
				Evidence: []string{
					fmt.Sprintf("%d requests carried the honeypot credential", inc.EventCount),
				},
				RecommendedActions: []string{"Block the source IP", "Rotate exposed credentials"},
			})
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

// NewReplyProvider returns a MockProvider that always answers with text.
func NewReplyProvider(text string) *MockProvider {
	return &MockProvider{
		Name_:  "mock",
		Model_: "mock-v1",
		GenerateFunc: func(context.Context, string) (string, error) {
			return text, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_:  "mock-failing",
		Model_: "mock-v1",
		GenerateFunc: func(context.Context, string) (string, error) {
			return "", err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_:  "mock-timeout",
		Model_: "mock-v1",
		GenerateFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ai.ErrInferenceTimeout
		},
	}
}

// IncidentFromPrompt decodes the incident object embedded in an analysis prompt.
func IncidentFromPrompt(prompt string) (*models.Incident, error) {
	const marker = "Incident: "
	idx := strings.Index(prompt, marker)
	if idx < 0 {
		return nil, fmt.Errorf("prompt has no incident")
	}
	var inc models.Incident
	if err := json.NewDecoder(strings.NewReader(prompt[idx+len(marker):])).Decode(&inc); err != nil {
		return nil, fmt.Errorf("decoding incident from prompt: %w", err)
	}
	return &inc, nil
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
