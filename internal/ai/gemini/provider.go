package gemini

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/kiranshivaraju/honeykey/internal/ai/transport"
	"github.com/kiranshivaraju/honeykey/internal/config"
	"github.com/kiranshivaraju/honeykey/pkg/models"
)

// Provider implements models.AIProvider using the Gemini generateContent API.
type Provider struct {
	cfg    config.GeminiConfig
	client *http.Client
}

func NewProvider(cfg config.GeminiConfig, client *http.Client) *Provider {
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string  { return "gemini" }
func (p *Provider) Model() string { return p.cfg.Model }

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (p *Provider) Generate(ctx context.Context, prompt string) (string, error) {
	endpoint := transport.JoinURL(p.cfg.BaseURL,
		fmt.Sprintf("v1beta/models/%s:generateContent", url.PathEscape(p.cfg.Model)))

	header := http.Header{}
	header.Set("x-goog-api-key", p.cfg.APIKey)

	req := generateRequest{Contents: []content{{Role: "user", Parts: []part{{Text: prompt}}}}}
	var resp generateResponse
	if err := transport.PostJSON(ctx, p.client, endpoint, header, req, &resp); err != nil {
		return "", err
	}

	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("%w: prompt blocked: %s", transport.ErrBadResponse, resp.PromptFeedback.BlockReason)
		}
		return "", fmt.Errorf("%w: no candidates", transport.ErrBadResponse)
	}

	var sb strings.Builder
	for _, pt := range resp.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	return sb.String(), nil
}

var _ models.AIProvider = (*Provider)(nil)
