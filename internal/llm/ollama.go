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

// ollamaRequestTimeout is generous because local models can be slow to
// load on first use.
const ollamaRequestTimeout = 120 * time.Second

// Ollama is the local inference provider, reached through Ollama's
// OpenAI-compatible endpoint at <host>/v1.
type Ollama struct {
	logger *slog.Logger

	host   string
	model  string
	client *openai.Client
}

func NewOllama(logger *slog.Logger) *Ollama {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ollama{logger: logger.With("plugin", "ollama")}
}

func (p *Ollama) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:           "ollama",
		Version:      "1.0.0",
		Capabilities: []string{plugin.CapLLM},
		Priority:     20,
	}
}

func (p *Ollama) Configure(cfg *config.Config) error {
	p.host = cfg.Ollama.Host
	if env := os.Getenv("OLLAMA_HOST"); env != "" {
		p.host = env
	}
	p.host = strings.TrimSuffix(p.host, "/")
	p.model = cfg.Ollama.Model
	return nil
}

func (p *Ollama) Start(ctx context.Context) error {
	// Ollama ignores the bearer token but go-openai requires one.
	clientConfig := openai.DefaultConfig("ollama")
	clientConfig.BaseURL = p.host + "/v1"
	clientConfig.HTTPClient = &http.Client{Timeout: ollamaRequestTimeout}
	p.client = openai.NewClientWithConfig(clientConfig)
	p.logger.Info("initialized", "host", p.host, "model", p.model)
	return nil
}

func (p *Ollama) Stop(ctx context.Context) error { return nil }

func (p *Ollama) Chat(ctx context.Context, messages []models.ChatMessage, opts plugin.ChatOptions) (*models.LLMResponse, error) {
	if p.client == nil {
		return nil, &plugin.LLMError{Provider: "ollama", Err: errors.New("not started")}
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
		if strings.Contains(err.Error(), "connection refused") {
			return nil, &plugin.LLMError{
				Provider: "ollama",
				Err:      fmt.Errorf("cannot connect to %s, is Ollama running?", p.host),
			}
		}
		return nil, &plugin.LLMError{Provider: "ollama", Err: fmt.Errorf("request failed: %w", err)}
	}
	return parseResponse(resp, model), nil
}
