package ollama

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/honeykey/internal/ai/transport"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// Provider implements models.AIProvider using a local Ollama server.
type Provider struct {
	cfg    config.OllamaConfig
	client *http.Client
}

func NewProvider(cfg config.OllamaConfig, client *http.Client) *Provider {
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string  { return "ollama" }
func (p *Provider) Model() string { return p.cfg.Model }

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	req := generateRequest{Model: p.cfg.Model, Prompt: prompt, Stream: false, Format: "json"}
	var resp generateResponse
	if err := transport.PostJSON(ctx, p.client, transport.JoinURL(p.cfg.BaseURL, "api/generate"), nil, req, &resp); err != nil {
		return "", err
	}
	return resp.Response, nil
}

var _ models.AIProvider = (*Provider)(nil)
