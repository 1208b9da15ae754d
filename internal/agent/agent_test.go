package agent

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

type fakeSession struct {
	mu       sync.Mutex
	queue    []models.IncomingMessage
	sent     []models.OutgoingMessage
	typing   []string
	failSend bool
}

func (s *fakeSession) Poll(ctx context.Context) []models.IncomingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queue
	s.queue = nil
	return out
}

func (s *fakeSession) Send(ctx context.Context, msg models.OutgoingMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSend {
		return false
	}
	s.sent = append(s.sent, msg)
	return true
}

func (s *fakeSession) Typing(ctx context.Context, channelType, channelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing = append(s.typing, channelType+":"+channelID)
}

func (s *fakeSession) Channels() []string { return []string{"test"} }

func (s *fakeSession) sentMessages() []models.OutgoingMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.OutgoingMessage(nil), s.sent...)
}

type fakeLLM struct {
	mu        sync.Mutex
	calls     int
	responses []*models.LLMResponse
	err       error
	histories [][]models.ChatMessage
}

func (f *fakeLLM) PluginMeta() plugin.Meta {
	return plugin.Meta{ID: "fakellm", Capabilities: []string{plugin.CapLLM}, Priority: 20}
}
func (f *fakeLLM) Configure(cfg *config.Config) error { return nil }
func (f *fakeLLM) Start(ctx context.Context) error    { return nil }
func (f *fakeLLM) Stop(ctx context.Context) error     { return nil }

func (f *fakeLLM) Chat(ctx context.Context, messages []models.ChatMessage, opts plugin.ChatOptions) (*models.LLMResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.histories = append(f.histories, append([]models.ChatMessage(nil), messages...))
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls - 1
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	return f.responses[idx], nil
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeLLM) history(i int) []models.ChatMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.histories[i]
}

type fakeTools struct {
	mu       sync.Mutex
	executed []string
	args     []map[string]any
	restart  bool
}

func (f *fakeTools) PluginMeta() plugin.Meta {
	return plugin.Meta{ID: "faketools", Capabilities: []string{plugin.CapTools}, Priority: 30}
}
func (f *fakeTools) Configure(cfg *config.Config) error { return nil }
func (f *fakeTools) Start(ctx context.Context) error    { return nil }
func (f *fakeTools) Stop(ctx context.Context) error     { return nil }

func (f *fakeTools) Definitions() []models.ToolDefinition {
	return []models.ToolDefinition{{Name: "echo", Description: "echo"}}
}

func (f *fakeTools) Execute(ctx context.Context, name string, args map[string]any) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executed = append(f.executed, name)
	f.args = append(f.args, args)
	return "tool-result"
}

func (f *fakeTools) RestartRequested() bool { return f.restart }

// recorder logs hook invocations and can abort at a chosen hook.
type recorder struct {
	mu           sync.Mutex
	hooks        []string
	abortAt      plugin.Hook
	abortMessage string
}

func (r *recorder) PluginMeta() plugin.Meta {
	return plugin.Meta{ID: "recorder", Priority: 1}
}
func (r *recorder) Configure(cfg *config.Config) error { return nil }
func (r *recorder) Start(ctx context.Context) error    { return nil }
func (r *recorder) Stop(ctx context.Context) error     { return nil }

func (r *recorder) record(name plugin.Hook, hc *plugin.HookContext) error {
	r.mu.Lock()
	r.hooks = append(r.hooks, string(name))
	r.mu.Unlock()
	if name == r.abortAt {
		hc.Abort = true
		hc.AbortMessage = r.abortMessage
	}
	return nil
}

func (r *recorder) OnMessageReceived(hc *plugin.HookContext) error {
	return r.record(plugin.HookMessageReceived, hc)
}
func (r *recorder) TransformSystemPrompt(hc *plugin.HookContext) error {
	return r.record(plugin.HookTransformSystemPrompt, hc)
}
func (r *recorder) TransformHistory(hc *plugin.HookContext) error {
	return r.record(plugin.HookTransformHistory, hc)
}
func (r *recorder) OnBeforeLLMCall(hc *plugin.HookContext) error {
	return r.record(plugin.HookBeforeLLMCall, hc)
}
func (r *recorder) OnAfterLLMCall(hc *plugin.HookContext) error {
	return r.record(plugin.HookAfterLLMCall, hc)
}
func (r *recorder) OnBeforeToolExec(hc *plugin.HookContext) error {
	return r.record(plugin.HookBeforeToolExec, hc)
}
func (r *recorder) OnAfterToolExec(hc *plugin.HookContext) error {
	return r.record(plugin.HookAfterToolExec, hc)
}
func (r *recorder) TransformResponse(hc *plugin.HookContext) error {
	return r.record(plugin.HookTransformResponse, hc)
}
func (r *recorder) OnBeforeSend(hc *plugin.HookContext) error {
	return r.record(plugin.HookBeforeSend, hc)
}
func (r *recorder) OnAfterSend(hc *plugin.HookContext) error {
	return r.record(plugin.HookAfterSend, hc)
}
func (r *recorder) OnError(hc *plugin.HookContext) error {
	return r.record(plugin.HookError, hc)
}

func (r *recorder) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.hooks...)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{Provider: "ppq"}
	cfg.Paths.Soul = filepath.Join(t.TempDir(), "SOUL.md")
	return cfg
}

func newTestAgent(t *testing.T, session *fakeSession, plugins ...plugin.Plugin) *Agent {
	t.Helper()
	registry := plugin.NewRegistry(nil)
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return New(registry, session, testConfig(t), nil)
}

func incoming(id, content string) models.IncomingMessage {
	return models.IncomingMessage{
		ID:          id,
		ChannelType: "test",
		ChannelID:   "chan-1",
		SenderID:    "42",
		SenderName:  "alice",
		Content:     content,
		Timestamp:   time.Now(),
	}
}

func TestRespondSimple(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "hello there"}}}
	a := newTestAgent(t, &fakeSession{}, llm)

	got := a.Respond(context.Background(), "hi", "alice")
	if got != "hello there" {
		t.Fatalf("got %q", got)
	}
	if llm.callCount() != 1 {
		t.Fatalf("llm calls = %d", llm.callCount())
	}

	seed := llm.history(0)
	if len(seed) != 2 || seed[0].Role != models.RoleSystem || seed[1].Content != "hi" {
		t.Fatalf("seed history %+v", seed)
	}
}

func TestRespondNoLLM(t *testing.T) {
	a := newTestAgent(t, &fakeSession{})
	if got := a.Respond(context.Background(), "hi", "alice"); got != "Error: No LLM configured" {
		t.Fatalf("got %q", got)
	}
}

func TestRespondToolLoop(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"text":"ping"}`}}},
		{Content: "done"},
	}}
	tools := &fakeTools{}
	a := newTestAgent(t, &fakeSession{}, llm, tools)

	got := a.Respond(context.Background(), "run the tool", "alice")
	if got != "done" {
		t.Fatalf("got %q", got)
	}
	if llm.callCount() != 2 {
		t.Fatalf("llm calls = %d", llm.callCount())
	}
	if len(tools.executed) != 1 || tools.executed[0] != "echo" {
		t.Fatalf("executed %v", tools.executed)
	}
	if tools.args[0]["text"] != "ping" {
		t.Fatalf("args %v", tools.args[0])
	}

	second := llm.history(1)
	last := second[len(second)-1]
	if last.Role != models.RoleTool || last.ToolCallID != "c1" || last.Content != "tool-result" {
		t.Fatalf("tool turn %+v", last)
	}
	assistant := second[len(second)-2]
	if assistant.Role != models.RoleAssistant || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant turn %+v", assistant)
	}
}

func TestRespondStopsAfterMaxRounds(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "c", Name: "echo", Arguments: "{}"}}},
	}}
	a := newTestAgent(t, &fakeSession{}, llm, &fakeTools{})

	got := a.Respond(context.Background(), "loop forever", "alice")
	if llm.callCount() != 10 {
		t.Fatalf("llm calls = %d, want 10", llm.callCount())
	}
	if got != emptyReplyPlaceholder {
		t.Fatalf("got %q", got)
	}
}

func TestRespondEmptyReplyPlaceholder(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "   \n"}}}
	a := newTestAgent(t, &fakeSession{}, llm)

	if got := a.Respond(context.Background(), "hi", "alice"); got != emptyReplyPlaceholder {
		t.Fatalf("got %q", got)
	}
}

func TestRespondLLMError(t *testing.T) {
	llm := &fakeLLM{err: &plugin.LLMError{Provider: "ppq", Err: errors.New("boom")}}
	rec := &recorder{}
	a := newTestAgent(t, &fakeSession{}, llm, rec)

	got := a.Respond(context.Background(), "hi", "alice")
	if !strings.HasPrefix(got, "Error: ") || !strings.Contains(got, "boom") {
		t.Fatalf("got %q", got)
	}

	found := false
	for _, h := range rec.seen() {
		if h == string(plugin.HookError) {
			found = true
		}
	}
	if !found {
		t.Fatal("on_error not dispatched")
	}
}

func TestBeforeLLMCallAbort(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "never"}}}
	rec := &recorder{abortAt: plugin.HookBeforeLLMCall, abortMessage: "budget exhausted"}
	a := newTestAgent(t, &fakeSession{}, llm, rec)

	if got := a.Respond(context.Background(), "hi", "alice"); got != "budget exhausted" {
		t.Fatalf("got %q", got)
	}
	if llm.callCount() != 0 {
		t.Fatalf("llm was called %d times", llm.callCount())
	}
}

func TestBeforeToolExecAbortSubstitutesResult(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{
		{ToolCalls: []models.ToolCall{{ID: "c1", Name: "echo", Arguments: "{}"}}},
		{Content: "ok"},
	}}
	tools := &fakeTools{}
	rec := &recorder{abortAt: plugin.HookBeforeToolExec, abortMessage: "tool denied"}
	a := newTestAgent(t, &fakeSession{}, llm, tools, rec)

	a.Respond(context.Background(), "hi", "alice")
	if len(tools.executed) != 0 {
		t.Fatalf("tool ran despite abort: %v", tools.executed)
	}
	second := llm.history(1)
	last := second[len(second)-1]
	if last.Role != models.RoleTool || last.Content != "tool denied" {
		t.Fatalf("tool turn %+v", last)
	}
}

func TestHandleMessageSendsReply(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{}
	a := newTestAgent(t, session, llm)

	a.HandleMessage(context.Background(), incoming("m1", "ping"))

	sent := session.sentMessages()
	if len(sent) != 1 {
		t.Fatalf("sent %d messages", len(sent))
	}
	if sent[0].Content != "pong" || sent[0].ReplyTo != "m1" || sent[0].ChannelID != "chan-1" {
		t.Fatalf("sent %+v", sent[0])
	}
	if len(session.typing) != 1 || session.typing[0] != "test:chan-1" {
		t.Fatalf("typing %v", session.typing)
	}
}

func TestHandleMessageDedup(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{}
	a := newTestAgent(t, session, llm)

	msg := incoming("same-id", "ping")
	a.HandleMessage(context.Background(), msg)
	a.HandleMessage(context.Background(), msg)

	if llm.callCount() != 1 {
		t.Fatalf("llm calls = %d, want 1", llm.callCount())
	}
	if len(session.sentMessages()) != 1 {
		t.Fatalf("sent %d messages", len(session.sentMessages()))
	}
}

func TestHandleMessageReceivedAbortStopsPipeline(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{}
	rec := &recorder{abortAt: plugin.HookMessageReceived}
	a := newTestAgent(t, session, llm, rec)

	a.HandleMessage(context.Background(), incoming("m1", "ping"))

	if llm.callCount() != 0 {
		t.Fatal("llm called after abort")
	}
	if len(session.sentMessages()) != 0 {
		t.Fatal("reply sent after abort")
	}
}

func TestHandleMessageBeforeSendAbort(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{}
	rec := &recorder{abortAt: plugin.HookBeforeSend}
	a := newTestAgent(t, session, llm, rec)

	a.HandleMessage(context.Background(), incoming("m1", "ping"))
	if len(session.sentMessages()) != 0 {
		t.Fatal("reply sent after abort")
	}
}

func TestHandleMessageSendFailureFiresOnError(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{failSend: true}
	rec := &recorder{}
	a := newTestAgent(t, session, llm, rec)

	a.HandleMessage(context.Background(), incoming("m1", "ping"))

	seen := rec.seen()
	if seen[len(seen)-1] != string(plugin.HookError) {
		t.Fatalf("hooks %v", seen)
	}
}

func TestHandleMessageHookOrder(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{}
	rec := &recorder{}
	a := newTestAgent(t, session, llm, rec)

	a.HandleMessage(context.Background(), incoming("m1", "ping"))

	want := []string{
		"on_message_received",
		"transform_system_prompt",
		"transform_history",
		"on_before_llm_call",
		"on_after_llm_call",
		"transform_response",
		"on_before_send",
		"on_after_send",
	}
	got := rec.seen()
	if len(got) != len(want) {
		t.Fatalf("hooks %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("hook %d = %s, want %s (all: %v)", i, got[i], want[i], got)
		}
	}
}

func TestPollDispatchesAll(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	session := &fakeSession{}
	for i := 0; i < 5; i++ {
		session.queue = append(session.queue, incoming(fmt.Sprintf("m%d", i), "ping"))
	}
	a := newTestAgent(t, session, llm)

	if n := a.Poll(context.Background()); n != 5 {
		t.Fatalf("dispatched %d", n)
	}
	if len(session.sentMessages()) != 5 {
		t.Fatalf("sent %d replies", len(session.sentMessages()))
	}
}

func TestPollTriggersRestart(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	tools := &fakeTools{restart: true}
	session := &fakeSession{}
	a := newTestAgent(t, session, llm, tools)

	restarted := false
	a.restart = func() { restarted = true }

	a.Poll(context.Background())
	if !restarted {
		t.Fatal("restart not triggered")
	}
}

func TestDedupSetEviction(t *testing.T) {
	d := newDedupSet()
	for i := 0; i <= dedupCapacity; i++ {
		d.Add(fmt.Sprintf("key-%d", i))
	}
	if got := d.Len(); got != dedupCapacity+1-dedupEvict {
		t.Fatalf("len = %d", got)
	}
	// Oldest keys are gone, so re-adding reports new.
	if !d.Add("key-0") {
		t.Fatal("evicted key still present")
	}
	// Newest keys survive.
	if d.Add(fmt.Sprintf("key-%d", dedupCapacity)) {
		t.Fatal("recent key was evicted")
	}
}

func TestDedupSetNeverExceedsCapacity(t *testing.T) {
	d := newDedupSet()
	for i := 0; i < 5000; i++ {
		d.Add(fmt.Sprintf("key-%d", i))
		if d.Len() > dedupCapacity {
			t.Fatalf("size %d after %d inserts", d.Len(), i+1)
		}
	}
}

func TestRunStdin(t *testing.T) {
	llm := &fakeLLM{responses: []*models.LLMResponse{{Content: "pong"}}}
	a := newTestAgent(t, &fakeSession{}, llm)

	var out strings.Builder
	a.RunStdin(context.Background(), strings.NewReader("ping\n\n"), &out)

	if got := out.String(); got != "pong\n" {
		t.Fatalf("stdout %q", got)
	}
	if llm.callCount() != 1 {
		t.Fatalf("llm calls = %d", llm.callCount())
	}
}
