package openai

import (
	"context"
	"fmt"
	"net/http"

	"github.com/kiranshivaraju/honeykey/internal/ai/transport"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// Provider implements models.AIProvider against an OpenAI-compatible chat
// completions endpoint. vLLM and other compatible servers work through BaseURL.
type Provider struct {
	cfg    config.OpenAIConfig
	client *http.Client
}

func NewProvider(cfg config.OpenAIConfig, client *http.Client) *Provider {
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string  { return "openai" }
func (p *Provider) Model() string { return p.cfg.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.cfg.APIKey)

	req := chatRequest{
		Model:    p.cfg.Model,
		Messages: []message{{Role: "user", Content: prompt}},
	}
	var resp chatResponse
	if err := transport.PostJSON(ctx, p.client, transport.JoinURL(p.cfg.BaseURL, "v1/chat/completions"), header, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", transport.ErrBadResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

var _ models.AIProvider = (*Provider)(nil)
