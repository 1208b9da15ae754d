package plugin

import "github.com/al-munazzim/cobot/pkg/models"

// Hook names the fixed, closed set of chain callbacks.
type Hook string

const (
	HookMessageReceived       Hook = "on_message_received"
	HookTransformSystemPrompt Hook = "transform_system_prompt"
	HookTransformHistory      Hook = "transform_history"
	HookBeforeLLMCall         Hook = "on_before_llm_call"
	HookAfterLLMCall          Hook = "on_after_llm_call"
	HookBeforeToolExec        Hook = "on_before_tool_exec"
	HookAfterToolExec         Hook = "on_after_tool_exec"
	HookTransformResponse     Hook = "transform_response"
	HookBeforeSend            Hook = "on_before_send"
	HookAfterSend             Hook = "on_after_send"
	HookError                 Hook = "on_error"
)

// HookContext is the mutable state threaded through one hook chain
// invocation. Each hook reads and writes the fields relevant to it;
// setting Abort stops the chain immediately and AbortMessage, when
// set, replaces the response the orchestrator would have produced.
type HookContext struct {
	// Incoming message fields (on_message_received).
	Message     string
	Sender      string
	SenderID    string
	ChannelType string
	ChannelID   string
	EventID     string

	// Prompt and history (transform_system_prompt, transform_history).
	Prompt   string
	Peer     string
	Messages []models.ChatMessage

	// LLM call (on_before_llm_call, on_after_llm_call).
	Model        string
	Tools        []models.ToolDefinition
	Response     string
	TokensIn     int
	TokensOut    int
	HasToolCalls bool

	// Tool execution (on_before_tool_exec, on_after_tool_exec).
	Tool   string
	Args   map[string]any
	Result string

	// Outbound (transform_response, on_before_send, on_after_send).
	Text      string
	Recipient string

	// Error dispatch (on_error).
	Err        error
	FailedHook Hook

	// Chain control.
	Abort        bool
	AbortMessage string
}

// Per-hook interfaces. A plugin participates in a hook by implementing
// the matching interface; plugins without the method are skipped, which
// replaces the dynamic override detection of a method-probing kernel.
type (
	MessageReceivedHook interface {
		OnMessageReceived(hc *HookContext) error
	}
	SystemPromptTransformer interface {
		TransformSystemPrompt(hc *HookContext) error
	}
	HistoryTransformer interface {
		TransformHistory(hc *HookContext) error
	}
	BeforeLLMCallHook interface {
		OnBeforeLLMCall(hc *HookContext) error
	}
	AfterLLMCallHook interface {
		OnAfterLLMCall(hc *HookContext) error
	}
	BeforeToolExecHook interface {
		OnBeforeToolExec(hc *HookContext) error
	}
	AfterToolExecHook interface {
		OnAfterToolExec(hc *HookContext) error
	}
	ResponseTransformer interface {
		TransformResponse(hc *HookContext) error
	}
	BeforeSendHook interface {
		OnBeforeSend(hc *HookContext) error
	}
	AfterSendHook interface {
		OnAfterSend(hc *HookContext) error
	}
	ErrorHook interface {
		OnError(hc *HookContext) error
	}
)

// hookMethod resolves the hook body a plugin provides for the named
// hook, or nil when the plugin does not participate.
func hookMethod(p Plugin, name Hook) func(*HookContext) error {
	switch name {
	case HookMessageReceived:
		if h, ok := p.(MessageReceivedHook); ok {
			return h.OnMessageReceived
		}
	case HookTransformSystemPrompt:
		if h, ok := p.(SystemPromptTransformer); ok {
			return h.TransformSystemPrompt
		}
	case HookTransformHistory:
		if h, ok := p.(HistoryTransformer); ok {
			return h.TransformHistory
		}
	case HookBeforeLLMCall:
		if h, ok := p.(BeforeLLMCallHook); ok {
			return h.OnBeforeLLMCall
		}
	case HookAfterLLMCall:
		if h, ok := p.(AfterLLMCallHook); ok {
			return h.OnAfterLLMCall
		}
	case HookBeforeToolExec:
		if h, ok := p.(BeforeToolExecHook); ok {
			return h.OnBeforeToolExec
		}
	case HookAfterToolExec:
		if h, ok := p.(AfterToolExecHook); ok {
			return h.OnAfterToolExec
		}
	case HookTransformResponse:
		if h, ok := p.(ResponseTransformer); ok {
			return h.TransformResponse
		}
	case HookBeforeSend:
		if h, ok := p.(BeforeSendHook); ok {
			return h.OnBeforeSend
		}
	case HookAfterSend:
		if h, ok := p.(AfterSendHook); ok {
			return h.OnAfterSend
		}
	case HookError:
		if h, ok := p.(ErrorHook); ok {
			return h.OnError
		}
	}
	return nil
}
