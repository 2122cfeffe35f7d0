package messagebus

import (
	"context"

	"github.com/jordanhubbard/loomlearn/pkg/messages"
)

// EventPublisher abstracts event publishing for testability.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *messages.EventMessage) error
}

// EventSubscriber abstracts event subscription for testability.
type EventSubscriber interface {
	SubscribeEvents(eventType string, handler func(*messages.EventMessage)) error
}

// ActionRequester abstracts request/reply delivery of adaptation actions.
type ActionRequester interface {
	RequestAction(ctx context.Context, req *messages.ActionRequest) (*messages.ActionReply, error)
}

// Verify NatsMessageBus implements all interfaces at compile time.
var (
	_ EventPublisher  = (*NatsMessageBus)(nil)
	_ EventSubscriber = (*NatsMessageBus)(nil)
	_ ActionRequester = (*NatsMessageBus)(nil)
)
