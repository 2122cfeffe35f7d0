package executor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jordanhubbard/loomlearn/internal/messagebus"
	"github.com/jordanhubbard/loomlearn/pkg/messages"
	"github.com/jordanhubbard/loomlearn/pkg/models"
)

// DefaultTimeout bounds a single action dispatch.
const DefaultTimeout = 5 * time.Second

// Outcome is what an executor reports back for one action
type Outcome struct {
	Success bool
	Details map[string]interface{}
}

// ActionExecutor performs adaptation actions on behalf of the behavior engine.
// Implementations must honor ctx cancellation.
type ActionExecutor interface {
	Execute(ctx context.Context, agentID string, action models.AdaptationAction) (Outcome, error)
}

// Func adapts a plain function to ActionExecutor.
type Func func(ctx context.Context, agentID string, action models.AdaptationAction) (Outcome, error)

// Execute calls f.
func (f Func) Execute(ctx context.Context, agentID string, action models.AdaptationAction) (Outcome, error) {
	return f(ctx, agentID, action)
}

// Describe renders an action for logs, dispatching on its kind.
func Describe(action models.AdaptationAction) string {
	switch action.Kind {
	case models.ActionParameterAdjustment:
		if action.Parameter == nil {
			break
		}
		keys := make([]string, 0, len(action.Parameter.Parameters))
		for k := range action.Parameter.Parameters {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%.3f", k, action.Parameter.Parameters[k]))
		}
		return "adjust " + strings.Join(parts, ",")
	case models.ActionStrategyChange:
		if action.Strategy == nil {
			break
		}
		if action.Strategy.Avoid != "" {
			return fmt.Sprintf("switch strategy to %s (avoid %s)", action.Strategy.Strategy, action.Strategy.Avoid)
		}
		return "switch strategy to " + action.Strategy.Strategy
	case models.ActionResourceReallocation:
		if action.Resource == nil {
			break
		}
		return fmt.Sprintf("reallocate %s by %+.2f", action.Resource.Resource, action.Resource.Delta)
	case models.ActionContextModification:
		if action.Context == nil {
			break
		}
		return fmt.Sprintf("set context %s=%s", action.Context.Key, action.Context.Value)
	}
	return fmt.Sprintf("invalid %s action", action.Kind)
}

// LoggingExecutor logs every action and reports success. It is the default
// when no remote executor is configured.
type LoggingExecutor struct {
	executed atomic.Int64
}

// NewLoggingExecutor creates a logging executor
func NewLoggingExecutor() *LoggingExecutor {
	return &LoggingExecutor{}
}

// Execute validates and logs the action.
func (e *LoggingExecutor) Execute(ctx context.Context, agentID string, action models.AdaptationAction) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	if err := action.Validate(); err != nil {
		return Outcome{}, err
	}
	e.executed.Add(1)
	log.Printf("[Executor] Agent %s: %s", agentID, Describe(action))
	return Outcome{Success: true}, nil
}

// Executed returns how many actions were logged.
func (e *LoggingExecutor) Executed() int64 {
	return e.executed.Load()
}

// NatsExecutor dispatches actions to remote executors over NATS request/reply.
type NatsExecutor struct {
	requester messagebus.ActionRequester
	timeout   time.Duration
}

// NewNatsExecutor creates an executor sending requests through requester.
// A zero timeout uses DefaultTimeout; the caller's deadline wins if sooner.
func NewNatsExecutor(requester messagebus.ActionRequester, timeout time.Duration) *NatsExecutor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &NatsExecutor{requester: requester, timeout: timeout}
}

// Execute sends the action and waits for the executor's reply.
func (e *NatsExecutor) Execute(ctx context.Context, agentID string, action models.AdaptationAction) (Outcome, error) {
	if err := action.Validate(); err != nil {
		return Outcome{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	req := messages.NewActionRequest(agentID, "", action, deadline)
	reply, err := e.requester.RequestAction(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if reply.RequestID != "" && reply.RequestID != req.RequestID {
		return Outcome{}, fmt.Errorf("reply for request %s does not match %s", reply.RequestID, req.RequestID)
	}
	if !reply.Success {
		msg := reply.Error
		if msg == "" {
			msg = "executor reported failure"
		}
		return Outcome{Details: reply.Details}, errors.New(msg)
	}
	return Outcome{Success: true, Details: reply.Details}, nil
}

var (
	_ ActionExecutor = (*LoggingExecutor)(nil)
	_ ActionExecutor = (*NatsExecutor)(nil)
	_ ActionExecutor = Func(nil)
)
