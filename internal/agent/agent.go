// Package agent drives the main loop: poll channels, dispatch each
// message through the hook pipeline, run the LLM/tool iteration, and
// send the reply. The agent never lets a single message's failure reach
// the outer loop.
package agent

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/al-munazzim/cobot/internal/config"
	"github.com/al-munazzim/cobot/internal/plugin"
	"github.com/al-munazzim/cobot/pkg/models"
)

const (
	// maxRounds bounds the LLM/tool inner loop per message.
	maxRounds = 10

	emptyReplyPlaceholder = "(No response generated - model may have hit token limit)"
	defaultSoul           = "You are Cobot, a helpful AI assistant."
)

// communicator is the slice of the session aggregator the agent needs.
type communicator interface {
	Poll(ctx context.Context) []models.IncomingMessage
	Send(ctx context.Context, msg models.OutgoingMessage) bool
	Typing(ctx context.Context, channelType, channelID string)
	Channels() []string
}

// Agent owns the dedup set and the poll/dispatch/reply loop.
type Agent struct {
	registry *plugin.Registry
	session  communicator
	logger   *slog.Logger
	cfg      *config.Config

	soul string
	seen *dedupSet

	// restart re-execs the process image. Replaceable in tests.
	restart func()
}

func New(registry *plugin.Registry, session communicator, cfg *config.Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		registry: registry,
		session:  session,
		logger:   logger.With("component", "agent"),
		cfg:      cfg,
		soul:     loadSoul(cfg),
		seen:     newDedupSet(),
		restart:  reexec,
	}
	return a
}

func loadSoul(cfg *config.Config) string {
	if cfg != nil {
		if data, err := os.ReadFile(cfg.SoulPath()); err == nil && len(data) > 0 {
			return string(data)
		}
	}
	return defaultSoul
}

func (a *Agent) llm() plugin.LLMProvider {
	if p, ok := a.registry.ByCapability(plugin.CapLLM).(plugin.LLMProvider); ok {
		return p
	}
	return nil
}

func (a *Agent) tools() plugin.ToolProvider {
	if p, ok := a.registry.ByCapability(plugin.CapTools).(plugin.ToolProvider); ok {
		return p
	}
	return nil
}

// Respond runs the LLM/tool inner loop for one message and returns the
// reply text. It never returns an error; LLM failures come back as
// "Error: ..." text.
func (a *Agent) Respond(ctx context.Context, message, sender string) string {
	llm := a.llm()
	if llm == nil {
		return "Error: No LLM configured"
	}
	tools := a.tools()

	messages := []models.ChatMessage{
		{Role: models.RoleSystem, Content: a.soul},
		{Role: models.RoleUser, Content: message},
	}

	hc := a.registry.RunHook(plugin.HookTransformSystemPrompt, &plugin.HookContext{
		Prompt:   a.soul,
		Peer:     sender,
		Messages: messages,
	})
	messages[0].Content = hc.Prompt

	hc = a.registry.RunHook(plugin.HookTransformHistory, &plugin.HookContext{
		Messages: messages,
		Peer:     sender,
	})
	messages = hc.Messages

	var toolDefs []models.ToolDefinition
	if tools != nil {
		toolDefs = tools.Definitions()
	}

	var response *models.LLMResponse
	for round := 0; round < maxRounds; round++ {
		hc = a.registry.RunHook(plugin.HookBeforeLLMCall, &plugin.HookContext{
			Messages: messages,
			Model:    a.provider(),
			Tools:    toolDefs,
		})
		if hc.Abort {
			if hc.AbortMessage != "" {
				return hc.AbortMessage
			}
			return "Request aborted."
		}

		var err error
		response, err = llm.Chat(ctx, messages, plugin.ChatOptions{Tools: toolDefs})
		if err != nil {
			a.registry.RunHook(plugin.HookError, &plugin.HookContext{
				Err:        err,
				FailedHook: "llm_call",
			})
			return fmt.Sprintf("Error: %v", err)
		}

		a.registry.RunHook(plugin.HookAfterLLMCall, &plugin.HookContext{
			Response:     response.Content,
			Model:        response.Model,
			TokensIn:     response.TokensIn,
			TokensOut:    response.TokensOut,
			HasToolCalls: response.HasToolCalls(),
		})

		if !response.HasToolCalls() {
			break
		}

		messages = append(messages, models.ChatMessage{
			Role:      models.RoleAssistant,
			Content:   response.Content,
			ToolCalls: response.ToolCalls,
		})
		for _, call := range response.ToolCalls {
			result := a.executeToolCall(ctx, tools, call)
			messages = append(messages, models.ChatMessage{
				Role:       models.RoleTool,
				ToolCallID: call.ID,
				Content:    result,
			})
		}
	}

	content := ""
	if response != nil {
		content = response.Content
	}
	hc = a.registry.RunHook(plugin.HookTransformResponse, &plugin.HookContext{
		Text:      content,
		Recipient: sender,
	})

	final := hc.Text
	if strings.TrimSpace(final) == "" {
		final = emptyReplyPlaceholder
	}
	return final
}

// executeToolCall parses the wire arguments, runs the before/after
// hooks, and invokes the tool. An abort from on_before_tool_exec
// substitutes the abort message as the tool result.
func (a *Agent) executeToolCall(ctx context.Context, tools plugin.ToolProvider, call models.ToolCall) string {
	args := map[string]any{}
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return fmt.Sprintf("Error: invalid tool arguments: %v", err)
		}
	}

	hc := a.registry.RunHook(plugin.HookBeforeToolExec, &plugin.HookContext{
		Tool: call.Name,
		Args: args,
	})

	var result string
	switch {
	case hc.Abort:
		result = hc.AbortMessage
		if result == "" {
			result = "Blocked."
		}
	case tools != nil:
		result = tools.Execute(ctx, call.Name, args)
	default:
		result = "Error: Tools not available"
	}

	a.registry.RunHook(plugin.HookAfterToolExec, &plugin.HookContext{
		Tool:   call.Name,
		Args:   args,
		Result: result,
	})
	return result
}

// HandleMessage processes one incoming message end to end. It is safe
// to call concurrently; the dedup set guarantees at-most-once local
// processing per message key.
func (a *Agent) HandleMessage(ctx context.Context, msg models.IncomingMessage) {
	if !a.seen.Add(msg.DedupKey()) {
		return
	}

	hc := a.registry.RunHook(plugin.HookMessageReceived, &plugin.HookContext{
		Message:     msg.Content,
		Sender:      msg.SenderName,
		SenderID:    msg.SenderID,
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		EventID:     msg.ID,
	})
	if hc.Abort {
		return
	}

	a.session.Typing(ctx, msg.ChannelType, msg.ChannelID)

	text := a.Respond(ctx, hc.Message, msg.SenderName)

	hc = a.registry.RunHook(plugin.HookBeforeSend, &plugin.HookContext{
		Text:      text,
		Recipient: msg.SenderName,
	})
	if hc.Abort {
		return
	}
	text = hc.Text

	sent := a.session.Send(ctx, models.OutgoingMessage{
		ChannelType: msg.ChannelType,
		ChannelID:   msg.ChannelID,
		Content:     text,
		ReplyTo:     msg.ID,
	})
	if sent {
		a.registry.RunHook(plugin.HookAfterSend, &plugin.HookContext{
			Text:        text,
			Recipient:   msg.SenderName,
			ChannelType: msg.ChannelType,
			ChannelID:   msg.ChannelID,
		})
	} else {
		a.registry.RunHook(plugin.HookError, &plugin.HookContext{
			Err:        errors.New("send failed"),
			FailedHook: "send",
		})
	}
}

// Poll drains every channel once and dispatches each message in its own
// goroutine. All dispatches are joined before returning so the next
// tick never overlaps this cycle. Returns the number of messages
// dispatched.
func (a *Agent) Poll(ctx context.Context) int {
	messages := a.session.Poll(ctx)

	var wg sync.WaitGroup
	for _, msg := range messages {
		wg.Add(1)
		go func(m models.IncomingMessage) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("message handler panicked", "error", r, "message_id", m.ID)
					a.registry.RunHook(plugin.HookError, &plugin.HookContext{
						Err:        fmt.Errorf("handler panic: %v", r),
						FailedHook: "poll",
					})
				}
			}()
			a.HandleMessage(ctx, m)
		}(msg)
	}
	wg.Wait()

	// Restart checks run after the join so sibling dispatches finish.
	if tools := a.tools(); tools != nil && tools.RestartRequested() {
		a.doRestart(ctx)
	}
	return len(messages)
}

// Run is the outer loop. It polls, waits for the cycle's fan-out, then
// sleeps the interval. Cancellation stops the loop and shuts every
// plugin down.
func (a *Agent) Run(ctx context.Context) {
	if channels := a.session.Channels(); len(channels) > 0 {
		a.logger.Info("channels", "channels", strings.Join(channels, ", "))
	} else {
		a.logger.Warn("no channels registered")
	}

	interval := 30 * time.Second
	if a.cfg != nil && a.cfg.Polling.IntervalSeconds > 0 {
		interval = time.Duration(a.cfg.Polling.IntervalSeconds) * time.Second
	}

	for {
		a.Poll(ctx)
		select {
		case <-ctx.Done():
			a.logger.Info("shutting down", "reason", "interrupt")
			a.registry.StopAll(context.Background())
			return
		case <-time.After(interval):
		}
	}
}

// RunStdin reads messages line by line and prints replies, bypassing
// the channel layer. Used for local smoke testing.
func (a *Agent) RunStdin(ctx context.Context, in io.Reader, out io.Writer) {
	fmt.Fprintln(os.Stderr, "Cobot ready. Type a message (Ctrl+D to exit):")

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		message := strings.TrimSpace(scanner.Text())
		if message == "" {
			continue
		}

		hc := a.registry.RunHook(plugin.HookMessageReceived, &plugin.HookContext{
			Message: message,
			Sender:  "stdin",
			EventID: fmt.Sprintf("stdin-%d", time.Now().UnixNano()),
		})
		if hc.Abort {
			fmt.Fprintln(os.Stderr, "[blocked]")
			continue
		}

		fmt.Fprintln(out, a.Respond(ctx, hc.Message, "stdin"))
	}

	a.logger.Info("shutting down", "reason", "stdin_eof")
	a.registry.StopAll(context.Background())
}

func (a *Agent) doRestart(ctx context.Context) {
	a.logger.Info("shutting down", "reason", "restart_requested")
	a.registry.StopAll(ctx)
	a.restart()
}

func (a *Agent) provider() string {
	if a.cfg != nil {
		return a.cfg.Provider
	}
	return "unknown"
}
