package prompt

import (
	"context"
	"testing"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

// contributor is a stub plugin feeding both context points.
type contributor struct {
	id       string
	priority int
	text     string
	history  []models.ChatMessage
	peers    []string
}

func (c *contributor) PluginMeta() plugin.Meta {
	return plugin.Meta{
		ID:       c.id,
		Priority: c.priority,
		Implements: []string{
			plugin.PointSystemPrompt,
			plugin.PointHistory,
		},
	}
}

func (c *contributor) Configure(cfg *config.Config) error { return nil }
func (c *contributor) Start(ctx context.Context) error    { return nil }
func (c *contributor) Stop(ctx context.Context) error     { return nil }

func (c *contributor) PromptContribution() string { return c.text }

func (c *contributor) HistoryContribution(peer string) []models.ChatMessage {
	c.peers = append(c.peers, peer)
	return c.history
}

func newTestContext(t *testing.T, contributors ...*contributor) *Plugin {
	t.Helper()
	registry := plugin.NewRegistry(nil)
	for _, c := range contributors {
		if err := registry.Register(c); err != nil {
			t.Fatal(err)
		}
	}
	return New(registry, nil)
}

func TestSystemPromptJoinsContributionsInOrder(t *testing.T) {
	p := newTestContext(t,
		&contributor{id: "memories", priority: 20, text: "Remember the plan."},
		&contributor{id: "soul", priority: 15, text: "You are Cobot."},
	)

	hc := &plugin.HookContext{Prompt: "fallback persona"}
	if err := p.TransformSystemPrompt(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Prompt != "You are Cobot.\n\nRemember the plan." {
		t.Fatalf("prompt %q", hc.Prompt)
	}
}

func TestSystemPromptKeepsFallbackWithoutContributions(t *testing.T) {
	p := newTestContext(t, &contributor{id: "soul", text: ""})

	hc := &plugin.HookContext{Prompt: "fallback persona"}
	if err := p.TransformSystemPrompt(hc); err != nil {
		t.Fatal(err)
	}
	if hc.Prompt != "fallback persona" {
		t.Fatalf("prompt %q", hc.Prompt)
	}
}

func TestHistorySplicesBetweenSystemAndUserTurn(t *testing.T) {
	c := &contributor{id: "persistence", history: []models.ChatMessage{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
	}}
	p := newTestContext(t, c)

	hc := &plugin.HookContext{
		Peer: "alice",
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "persona"},
			{Role: models.RoleUser, Content: "current question"},
		},
	}
	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}

	want := []string{"persona", "earlier question", "earlier answer", "current question"}
	if len(hc.Messages) != len(want) {
		t.Fatalf("messages %v", hc.Messages)
	}
	for i, content := range want {
		if hc.Messages[i].Content != content {
			t.Fatalf("turn %d: %q", i, hc.Messages[i].Content)
		}
	}
	if len(c.peers) != 1 || c.peers[0] != "alice" {
		t.Fatalf("peers %v", c.peers)
	}
}

func TestHistoryLeavesShortConversationsAlone(t *testing.T) {
	c := &contributor{id: "persistence", history: []models.ChatMessage{
		{Role: models.RoleUser, Content: "stale"},
	}}
	p := newTestContext(t, c)

	hc := &plugin.HookContext{
		Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "only turn"}},
	}
	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}
	if len(hc.Messages) != 1 {
		t.Fatalf("messages %v", hc.Messages)
	}
}

func TestHistoryNoopWithoutContributions(t *testing.T) {
	p := newTestContext(t, &contributor{id: "persistence"})

	hc := &plugin.HookContext{
		Messages: []models.ChatMessage{
			{Role: models.RoleSystem, Content: "persona"},
			{Role: models.RoleUser, Content: "question"},
		},
	}
	if err := p.TransformHistory(hc); err != nil {
		t.Fatal(err)
	}
	if len(hc.Messages) != 2 {
		t.Fatalf("messages %v", hc.Messages)
	}
}
