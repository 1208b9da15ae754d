package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// ppqRequestTimeout caps one hosted inference round trip.
const ppqRequestTimeout = 60 * time.Second

// PPQ is the hosted inference provider. It speaks the OpenAI chat
// completions protocol against api.ppq.ai.
type PPQ struct {
	logger *slog.Logger

	apiBase string
	apiKey  string
	model   string
	client  *openai.Client
}

func NewPPQ(logger *slog.Logger) *PPQ {
	if logger == nil {
		logger = slog.Default()
	}
	return &PPQ{logger: logger.With("plugin", "ppq")}
}

func (p *PPQ) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "ppq",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapLLM},
		Priority:     20,
	}
}

func (p *PPQ) Configure(cfg *config.Config) error {
	p.apiBase = strings.TrimSuffix(cfg.PPQ.APIBase, "/")
	p.apiKey = cfg.PPQ.APIKey
	if p.apiKey == "" {
		p.apiKey = os.Getenv("PPQ_API_KEY")
	}
	p.model = cfg.PPQ.Model
	return nil
}

func (p *PPQ) Start(ctx context.Context) error {
	if p.apiKey == "" {
		p.logger.Warn("no API key configured")
		return nil
	}
	clientConfig := openai.DefaultConfig(p.apiKey)
	clientConfig.BaseURL = p.apiBase
	clientConfig.HTTPClient = &http.Client{Timeout: ppqRequestTimeout}
	p.client = openai.NewClientWithConfig(clientConfig)
	p.logger.Info("initialized", "model", p.model)
	return nil
}

func (p *PPQ) Stop(ctx context.Context) error { return nil }

func (p *PPQ) Chat(ctx context.Context, messages []models.ChatMessage, opts plugin.ChatOptions) (*models.LLMResponse, error) {
	if p.client == nil {
		return nil, &plugin.LLMError{Provider: "ppq", Err: errors.New("API key not configured")}
	}

	model := opts.Model
	if model == "" {
		model = p.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     model,
		Messages:  convertMessages(messages),
		MaxTokens: maxTokens,
		Tools:     convertTools(opts.Tools),
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusPaymentRequired {
			return nil, &plugin.LLMError{Provider: "ppq", Err: ErrInsufficientFunds}
		}
		return nil, &plugin.LLMError{Provider: "ppq", Err: fmt.Errorf("request failed: %w", err)}
	}
	return parseResponse(resp, model), nil
}
