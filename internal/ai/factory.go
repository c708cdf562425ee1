package ai

import (
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/honeykey/internal/ai/anthropic"
	"github.com/kiranshivaraju/honeykey/internal/ai/gemini"
	"github.com/kiranshivaraju/honeykey/internal/ai/ollama"
	"github.com/kiranshivaraju/honeykey/internal/ai/openai"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// NewProvider constructs the AI provider selected by cfg.Provider.
// Called once at server startup. Returns ErrConfigurationMissing when the
// provider is known but its credential is absent.
func NewProvider(cfg config.AIConfig, client *http.Client) (models.AIProvider, error) {
	if client == nil {
		client = &http.Client{}
	}

	var p models.AIProvider
	switch cfg.Provider {
	case "gemini":
		p = gemini.NewProvider(cfg.Gemini, client)
	case "openai":
		p = openai.NewProvider(cfg.OpenAI, client)
	case "anthropic":
		p = anthropic.NewProvider(cfg.Anthropic, client)
	case "ollama":
		p = ollama.NewProvider(cfg.Ollama, client)
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of gemini, openai, anthropic, ollama", cfg.Provider)
	}

	if !cfg.Configured() {
		return nil, fmt.Errorf("%w: %s", ErrConfigurationMissing, cfg.Provider)
	}
	return p, nil
}
