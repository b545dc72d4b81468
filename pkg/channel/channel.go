package channel

import (
	"context"

	"humanloop/pkg/bus"
)

// Sink accepts one inbound event and reports whether it was queued.
// (*bus.MessageBus).PublishInbound satisfies it.
type Sink func(context.Context, bus.InboundMessage) bool

// Transport bridges one external chat service (for example Telegram) into
// humanloop. Send delivers outbound text; Run streams inbound events into the
// sink until the context is cancelled.
type Transport interface {
	Name() string
	Send(ctx context.Context, chatID int64, text string) error
	Run(ctx context.Context, sink Sink) error
}
