package stream

import (
	"context"
	"net/http"

	"github.com/intervo/stream-gateway/internal/infrastructure/broker"
)

// Conversation modes carried in the admission parameters.
const (
	ModeCall = "call"
	ModeChat = "chat"
)

// HandlerKind is the closed set of dispatch targets. The kind is selected
// once during identity resolution and binds exactly one handler
// configuration for the connection's lifetime.
type HandlerKind int

const (
	// KindCaller is the default media/caller leg.
	KindCaller HandlerKind = iota
	// KindObserver is a browser/client leg watching the conversation.
	KindObserver
	// KindObserverChat is an observer leg that also drives a chat
	// conversation, so it gets the chat handler alongside the observer one.
	KindObserverChat
)

// ConversationHandler owns the conversation logic for one admitted leg.
// Start reports immediate setup failure; HandleMessage receives the replayed
// admission frame and every later inbound frame.
type ConversationHandler interface {
	Start(ctx context.Context, conn *Conn, req *http.Request, rooms *broker.Broker, mode string, params map[string]string) error
	HandleMessage(raw []byte)
}

// Factory builds a fresh handler per connection.
type Factory func() ConversationHandler

// Registry binds one handler factory per kind.
type Registry struct {
	caller   Factory
	observer Factory
	chat     Factory
}

func NewRegistry(caller, observer, chat Factory) *Registry {
	return &Registry{
		caller:   caller,
		observer: observer,
		chat:     chat,
	}
}
