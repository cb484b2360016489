// Package runner drives backend wire protocols and normalizes their output
// into messages. One runner variant exists per protocol; a runner instance
// serves a single turn.
package runner

import (
	"context"
	"fmt"

	"github.com/winghv/newhorse/internal/domain"
	"github.com/winghv/newhorse/internal/policy"
)

// Turn is one prior conversation exchange passed as context to turn-based
// backends.
type Turn struct {
	Role    string
	Content string
}

// ImageRef is an attachment referenced by path from the instruction.
type ImageRef struct {
	Path string
}

// Request carries everything a runner needs to produce one turn.
type Request struct {
	Instruction  string
	ProjectID    string
	SessionID    string
	SystemPrompt string
	WorkingDir   string
	History      []Turn
	Images       []ImageRef
	AllowedTools []string

	// Stateful-agent fields. Resume is the opaque upstream session handle;
	// FreshSession forces a new upstream session regardless of Resume.
	Resume       string
	FreshSession bool

	// OnUpstreamSession is invoked the moment the backend reports its
	// session handle, so continuity survives a crash mid-stream. May be nil.
	OnUpstreamSession func(handle string)
}

// Emit delivers one normalized message to the consumer. Runners call it in
// stream order; the consumer blocks the runner until relay and persistence
// complete.
type Emit func(*domain.Message)

// Runner streams one instruction through a backend, emitting normalized
// messages. A returned error is an unhandled transport failure; runners that
// surface failures as error-type messages return nil.
type Runner interface {
	Stream(ctx context.Context, route *domain.ResolvedRoute, req Request, emit Emit) error
}

// Interrupter is implemented by runners that can terminate in-flight
// backend work.
type Interrupter interface {
	Interrupt(ctx context.Context) error
}

// Options configures runner construction.
type Options struct {
	// AgentURL is the default stateful-agent backend endpoint used when the
	// route has no base URL.
	AgentURL string
	// Policy evaluates tool invocations; may be nil.
	Policy *policy.Engine
	// Locale for user-facing system strings.
	Locale string
}

// New creates the runner variant for a route's protocol.
func New(protocol string, opts Options) (Runner, error) {
	switch protocol {
	case domain.ProtocolOpenAI:
		return NewOpenAIRunner(opts.Locale), nil
	case domain.ProtocolAgent:
		return NewAgentRunner(opts.AgentURL, opts.Policy, opts.Locale), nil
	default:
		return nil, fmt.Errorf("unknown protocol: %s", protocol)
	}
}
