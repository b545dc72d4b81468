package gateway

import (
	"context"
	"log/slog"
	"time"

	"humanloop/pkg/bus"
)

const eventBufferSize = 64

// observeEvents logs bridge lifecycle events until ctx ends or the bus closes.
func observeEvents(ctx context.Context, messageBus *bus.MessageBus, log *slog.Logger) {
	events, unsubscribe := messageBus.SubscribeEvents(ctx, eventBufferSize)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			logEvent(log, event)
		}
	}
}

func logEvent(log *slog.Logger, event bus.Event) {
	attrs := []any{
		"event_type", event.Type,
		"request_id", event.RequestID,
		"chat_id", event.ChatID,
		"timestamp", event.At.UTC().Format(time.RFC3339Nano),
	}
	if len(event.Payload) > 0 {
		attrs = append(attrs, "payload", event.Payload)
	}
	if event.Error != "" {
		attrs = append(attrs, "error", event.Error)
	}

	switch event.Type {
	case bus.EventEchoFailed:
		log.Error("Bridge event", attrs...)
	case bus.EventInputTimedOut, bus.EventInputInvalid, bus.EventInputCancelled:
		log.Warn("Bridge event", attrs...)
	case bus.EventInputRequested, bus.EventInputReceived, bus.EventMessageEchoed:
		log.Info("Bridge event", attrs...)
	default:
		log.Debug("Bridge event", attrs...)
	}
}
