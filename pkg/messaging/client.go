// Package messaging abstracts the WhatsApp transport. A Connector produces a
// Client bound to one live session; the session manager owns reconnection.
package messaging

import (
	"context"

	"shopbot/pkg/bus"
)

type State string

const (
	StateConnecting   State = "CONNECTING"
	StateReady        State = "READY"
	StateDisconnected State = "DISCONNECTED"
)

// Sender delivers outbound content to a chat address.
type Sender interface {
	SendText(ctx context.Context, to, body string) error
	SendImage(ctx context.Context, to, imageURL, filename, caption string) error
}

type Client interface {
	Sender
	Close() error
}

// Handlers are invoked from transport goroutines. They must not block.
type Handlers struct {
	OnMessage     func(bus.InboundMessage)
	OnState       func(State)
	OnPairingCode func(code string)
}

func (h Handlers) message(msg bus.InboundMessage) {
	if h.OnMessage != nil {
		h.OnMessage(msg)
	}
}

func (h Handlers) state(s State) {
	if h.OnState != nil {
		h.OnState(s)
	}
}

func (h Handlers) pairingCode(code string) {
	if h.OnPairingCode != nil {
		h.OnPairingCode(code)
	}
}

// Connector opens a new session. Connect blocks until the session is READY,
// the context is done, or the transport fails.
type Connector interface {
	Connect(ctx context.Context, h Handlers) (Client, error)
}

func truncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
