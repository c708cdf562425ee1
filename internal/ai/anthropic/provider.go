package anthropic

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/honeykey/internal/ai/transport"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

const (
	apiVersion = "2023-06-01"
	maxTokens  = 1024
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	cfg    config.AnthropicConfig
	client *http.Client
}

func NewProvider(cfg config.AnthropicConfig, client *http.Client) *Provider {
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string  { return "anthropic" }
func (p *Provider) Model() string { return p.cfg.Model }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	header := http.Header{}
	header.Set("x-api-key", p.cfg.APIKey)
	header.Set("anthropic-version", apiVersion)

	req := messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: maxTokens,
		Messages:  []message{{Role: "user", Content: prompt}},
	}
	var resp messagesResponse
	if err := transport.PostJSON(ctx, p.client, transport.JoinURL(p.cfg.BaseURL, "v1/messages"), header, req, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: no text content", transport.ErrBadResponse)
	}
	return sb.String(), nil
}

var _ models.AIProvider = (*Provider)(nil)
