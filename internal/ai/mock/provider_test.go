package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/honeykey/internal/ai"
	"github.com/kiranshivaraju/honeykey/internal/ai/mock"
	"github.com/kiranshivaraju/honeykey/pkg/aireport"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

func samplePrompt(t *testing.T) string {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	prompt, err := aireport.BuildPrompt(&models.Incident{
		ID: 7, KeyID: "honeypot", SourceIP: "10.0.0.9",
		FirstSeen: now, LastSeen: now, EventCount: 3,
	}, nil)
	require.NoError(t, err)
	return prompt
}

func TestNewMockProvider_Name(t *testing.T) {
	p := mock.NewMockProvider()
	assert.Equal(t, "mock", p.Name())
	assert.Equal(t, "mock-v1", p.Model())
}

func TestNewMockProvider_ReplyValidates(t *testing.T) {
	p := mock.NewMockProvider()
	prompt := samplePrompt(t)

	text, err := p.Generate(context.Background(), prompt)
	require.NoError(t, err)

	report, err := aireport.Parse(text, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.IncidentID)
	assert.Contains(t, report.Summary, "10.0.0.9")
	assert.Equal(t, []string{prompt}, p.Prompts())
}

func TestNewMockProvider_NoIncident(t *testing.T) {
	_, err := mock.NewMockProvider().Generate(context.Background(), "hello")
	assert.Error(t, err)
}

func TestNewReplyProvider(t *testing.T) {
	text, err := mock.NewReplyProvider("not json").Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "not json", text)
}

func TestNewFailingProvider(t *testing.T) {
	boom := errors.New("boom")
	p := mock.NewFailingProvider(boom)

	_, err := p.Generate(context.Background(), "x")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "mock-failing", p.Name())
}

func TestNewTimeoutProvider(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Generate(ctx, "x")
	assert.ErrorIs(t, err, ai.ErrInferenceTimeout)
}

func TestZeroValueMockProvider(t *testing.T) {
	p := &mock.MockProvider{}
	text, err := p.Generate(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, text)
}
