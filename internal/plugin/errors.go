package plugin

import (
	"errors"
	"fmt"
)

// ErrDuplicateID is returned when a plugin id is registered twice.
var ErrDuplicateID = errors.New("plugin id already registered")

// DependencyError reports an unresolvable plugin dependency. It is
// fatal at configure time.
type DependencyError struct {
	Plugin  string
	Missing string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("plugin %s: missing dependency %s", e.Plugin, e.Missing)
}

// LLMError wraps a provider failure. The orchestrator catches it and
// surfaces the message as an "Error: ..." reply instead of failing the
// message.
type LLMError struct {
	Provider string
	Err      error
}

func (e *LLMError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return e.Err.Error()
}

func (e *LLMError) Unwrap() error { return e.Err }

// CommunicationError wraps a channel send or poll failure. Scope is a
// single message; it is logged and never propagated to the outer loop.
type CommunicationError struct {
	Channel string
	Op      string
	Err     error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Channel, e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }
