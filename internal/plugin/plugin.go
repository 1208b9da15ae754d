// Package plugin implements the kernel the runtime is assembled from:
// plugin metadata, a registry with dependency-ordered lifecycle,
// capability lookup, extension-point listing, and the ordered hook
// chain with short-circuit semantics.
package plugin

import (
	"context"

	"github.com/al-munazzim/cobot/internal/config"
)

// Capability tags.
const (
	CapLLM           = "llm"
	CapTools         = "tools"
	CapCommunication = "communication"
	CapPairing       = "pairing"
	CapWorkspace     = "workspace"
	CapLogging       = "logging"
	CapPersistence   = "persistence"
	CapLurker        = "lurker"
)

// Extension point names. A point is declared by exactly one plugin and
// may be implemented by any number of plugins; dispatch is typed (the
// definer type-asserts implementers against the point's interface).
const (
	PointSessionReceive   = "session.receive"
	PointSessionSend      = "session.send"
	PointSessionTyping    = "session.typing"
	PointSessionPresence  = "session.presence"
	PointSessionOnReceive = "session.on_receive"
	PointSessionOnSend    = "session.on_send"
	PointSystemPrompt     = "context.system_prompt"
	PointHistory          = "context.history"
	PointLurkerObserve    = "lurker.on_observe"
)

// Meta is the immutable descriptor attached to each plugin.
type Meta struct {
	ID           string
	Version      string
	Capabilities []string
	Dependencies []string
	// Priority orders configure/start; lower starts earlier, ties
	// broken by id.
	Priority int
	// ExtensionPoints this plugin defines.
	ExtensionPoints []string
	// Implements lists extension points this plugin provides an
	// implementation for. The implementation itself is found by type
	// assertion against the point's interface.
	Implements []string
}

// HasCapability reports whether the metadata carries the given tag.
func (m Meta) HasCapability(tag string) bool {
	for _, c := range m.Capabilities {
		if c == tag {
			return true
		}
	}
	return false
}

// ImplementsPoint reports whether the plugin declares the given
// extension point in its Implements list.
func (m Meta) ImplementsPoint(point string) bool {
	for _, p := range m.Implements {
		if p == point {
			return true
		}
	}
	return false
}

// Plugin is the lifecycle contract every registered plugin satisfies.
// Hook participation is optional and expressed by implementing the
// per-hook interfaces in this package.
type Plugin interface {
	PluginMeta() Meta
	Configure(cfg *config.Config) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
