package compaction

import (
	"context"
	"strings"
	"testing"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

type summaryLLM struct {
	calls int
	opts  plugin.ChatOptions
}

func (s *summaryLLM) PluginMeta() plugin.Meta {
	return plugin.Meta{ID: "fakellm", Capabilities: []string{plugin.CapLLM}, Priority: 20}
}
func (s *summaryLLM) Configure(cfg *config.Config) error { return nil }
func (s *summaryLLM) Start(ctx context.Context) error    { return nil }
func (s *summaryLLM) Stop(ctx context.Context) error     { return nil }

func (s *summaryLLM) Chat(ctx context.Context, messages []models.ChatMessage, opts plugin.ChatOptions) (*models.LLMResponse, error) {
	s.calls++
	s.opts = opts
	return &models.LLMResponse{Content: "they discussed the weather"}, nil
}

func newTestPlugin(t *testing.T, llm plugin.Plugin) *Plugin {
	t.Helper()
	registry := plugin.NewRegistry(nil)
	if llm != nil {
		if err := registry.Register(llm); err != nil {
			t.Fatal(err)
		}
	}
	return New(registry, nil)
}

func overBudgetHistory() []models.ChatMessage {
	// 30 turns of 2000 chars each: 60,000 chars, roughly 15,000 tokens.
	filler := strings.Repeat("x", 2000)
	messages := []models.ChatMessage{{Role: models.RoleSystem, Content: "persona"}}
	for i := 0; i < 30; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		messages = append(messages, models.ChatMessage{Role: role, Content: filler})
	}
	return append(messages, models.ChatMessage{Role: models.RoleUser, Content: "what now?"})
}

func TestUnderBudgetPassesThrough(t *testing.T) {
	p := newTestPlugin(t, &summaryLLM{})
	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: "persona"},
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
		{Role: models.RoleUser, Content: "bye"},
	}
	hc := &plugin.HookContext{Messages: messages}
	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}
	if len(hc.Messages) != 4 {
		t.Fatalf("messages changed: %d", len(hc.Messages))
	}
}

func TestShortHistoryPassesThrough(t *testing.T) {
	p := newTestPlugin(t, nil)
	hc := &plugin.HookContext{Messages: []models.ChatMessage{
		{Role: models.RoleSystem, Content: strings.Repeat("x", 100000)},
		{Role: models.RoleUser, Content: "hi"},
	}}
	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}
	if len(hc.Messages) != 2 {
		t.Fatalf("messages changed: %d", len(hc.Messages))
	}
}

func TestOverBudgetCompacts(t *testing.T) {
	llm := &summaryLLM{}
	p := newTestPlugin(t, llm)
	input := overBudgetHistory()
	hc := &plugin.HookContext{Messages: input}

	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}
	out := hc.Messages

	if llm.calls != 1 {
		t.Fatalf("llm calls = %d", llm.calls)
	}
	if llm.opts.MaxTokens != summaryMaxTokens {
		t.Fatalf("summary max tokens = %d", llm.opts.MaxTokens)
	}

	if out[0].Role != models.RoleSystem || out[0].Content != "persona" {
		t.Fatalf("leading turn %+v", out[0])
	}
	if out[1].Role != models.RoleSystem ||
		out[1].Content != "[Earlier conversation summary: they discussed the weather]" {
		t.Fatalf("summary turn %+v", out[1])
	}
	last := out[len(out)-1]
	if last.Role != models.RoleUser || last.Content != "what now?" {
		t.Fatalf("trailing turn %+v", last)
	}

	if got := estimateTokens(out); got > maxTokens {
		t.Fatalf("still over budget: %d tokens", got)
	}
	if len(out) >= len(input) {
		t.Fatalf("history did not shrink: %d -> %d", len(input), len(out))
	}
}

func TestRecentTurnsSurviveVerbatim(t *testing.T) {
	p := newTestPlugin(t, &summaryLLM{})
	messages := overBudgetHistory()
	lastHistoryTurn := messages[len(messages)-2]

	hc := &plugin.HookContext{Messages: messages}
	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}

	found := false
	for _, m := range hc.Messages {
		if m.Role == lastHistoryTurn.Role && m.Content == lastHistoryTurn.Content {
			found = true
			break
		}
	}
	if !found {
		t.Fatal("most recent history turn was summarized away")
	}
}

func TestNoLLMFallsBackToMarker(t *testing.T) {
	p := newTestPlugin(t, nil)
	hc := &plugin.HookContext{Messages: overBudgetHistory()}

	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(hc.Messages[1].Content, "[Earlier conversation summary: [Earlier conversation - ") {
		t.Fatalf("summary turn %q", hc.Messages[1].Content)
	}
}
