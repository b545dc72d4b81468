// Package bridge correlates outbound prompts with the next inbound reply on
// the same chat, turning a human-paced conversation into a call/return.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"humanloop/pkg/bus"
)

const (
	DefaultReplyTimeout = 5 * time.Minute
	DefaultEchoPrefix   = "Echo: "

	messagePreviewLimit = 120
)

// Sender delivers text to one chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Authorizer decides whether inbound events from a chat are admissible.
type Authorizer interface {
	IsAuthorized(chatID int64) bool
}

// EventPublisher receives bridge lifecycle events. *bus.MessageBus satisfies it.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event bus.Event) bool
}

// Options tunes a Bridge. Zero values select defaults.
type Options struct {
	ReplyTimeout time.Duration
	EchoPrefix   string
	Events       EventPublisher
	Logger       *slog.Logger
}

// Bridge owns the registry of pending requests, keyed by chat id.
type Bridge struct {
	sender     Sender
	authorizer Authorizer
	timeout    time.Duration
	echoPrefix string
	events     EventPublisher
	log        *slog.Logger

	mu      sync.Mutex
	pending map[int64]*pendingRequest
	closed  bool
}

// pendingRequest is one in-flight RequestInput call. done has capacity one and
// is written only by whoever removes the request from the registry.
type pendingRequest struct {
	id        string
	chatID    int64
	createdAt time.Time
	deadline  time.Time
	armed     bool
	timer     *time.Timer
	done      chan reply
}

type reply struct {
	text string
	err  error
}

// New validates collaborators and constructs a bridge.
func New(sender Sender, authorizer Authorizer, opts Options) (*Bridge, error) {
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if authorizer == nil {
		return nil, errors.New("authorizer is required")
	}
	if opts.ReplyTimeout < 0 {
		return nil, fmt.Errorf("reply timeout must not be negative, got %s", opts.ReplyTimeout)
	}
	if opts.ReplyTimeout == 0 {
		opts.ReplyTimeout = DefaultReplyTimeout
	}
	if opts.EchoPrefix == "" {
		opts.EchoPrefix = DefaultEchoPrefix
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Bridge{
		sender:     sender,
		authorizer: authorizer,
		timeout:    opts.ReplyTimeout,
		echoPrefix: opts.EchoPrefix,
		events:     opts.Events,
		log:        log.With("component", "bridge"),
		pending:    make(map[int64]*pendingRequest),
	}, nil
}

// ReplyTimeout returns the per-request deadline applied by RequestInput.
func (b *Bridge) ReplyTimeout() time.Duration {
	return b.timeout
}

// Send forwards text to the chat without touching the registry.
func (b *Bridge) Send(ctx context.Context, chatID int64, text string) error {
	if err := b.sender.Send(ctx, chatID, text); err != nil {
		return WrapError(KindDeliveryFailed, fmt.Sprintf("send to chat %d", chatID), err)
	}

	return nil
}

// RequestInput sends prompt to the chat and waits for the next reply on it.
//
// The call ends with the reply text, or with a Busy, DeliveryFailed, Timeout,
// InvalidInput or Cancelled error.
func (b *Bridge) RequestInput(ctx context.Context, chatID int64, prompt string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := b.reserve(chatID)
	if err != nil {
		return "", err
	}

	if err := b.sender.Send(ctx, chatID, prompt); err != nil {
		b.release(req)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", WrapError(KindCancelled, "request abandoned by caller", ctxErr)
		}
		return "", WrapError(KindDeliveryFailed, fmt.Sprintf("send prompt to chat %d", chatID), err)
	}

	if b.arm(req) {
		b.log.Info("Awaiting reply", "chat_id", chatID, "request_id", req.id, "deadline", req.deadline.Format(time.RFC3339))
		b.publish(bus.Event{
			Type:      bus.EventInputRequested,
			ChatID:    chatID,
			RequestID: req.id,
			Payload: map[string]string{
				"prompt":   previewText(prompt),
				"deadline": req.deadline.Format(time.RFC3339),
			},
		})
	}

	select {
	case result := <-req.done:
		return result.text, result.err
	case <-ctx.Done():
		if b.resolve(req, reply{err: WrapError(KindCancelled, "request abandoned by caller", ctx.Err())}) {
			b.publishOutcome(bus.EventInputCancelled, req, ctx.Err())
		}
		// Whoever won the race has already written the one result.
		result := <-req.done
		return result.text, result.err
	}
}

// OnInboundMessage ingests one transport event for chatID.
func (b *Bridge) OnInboundMessage(ctx context.Context, chatID int64, rawText string) {
	if ctx == nil {
		ctx = context.Background()
	}

	if !b.authorizer.IsAuthorized(chatID) {
		b.log.Debug("Dropping message from unauthorized chat", "chat_id", chatID, "reason", KindUnauthorized)
		b.publish(bus.Event{Type: bus.EventMessageDropped, ChatID: chatID, Error: string(KindUnauthorized)})
		return
	}

	if strings.TrimSpace(rawText) == "" {
		req := b.claim(chatID)
		if req == nil {
			b.log.Debug("Dropping empty message without pending request", "chat_id", chatID)
			return
		}

		err := NewError(KindInvalidInput, "reply contained no text")
		req.done <- reply{err: err}
		b.log.Warn("Reply rejected", "chat_id", chatID, "request_id", req.id, "error", err)
		b.publishOutcome(bus.EventInputInvalid, req, err)
		return
	}

	if req := b.claim(chatID); req != nil {
		req.done <- reply{text: rawText}
		b.log.Info("Reply received", "chat_id", chatID, "request_id", req.id, "waited_ms", time.Since(req.createdAt).Milliseconds())
		b.publish(bus.Event{
			Type:      bus.EventInputReceived,
			ChatID:    chatID,
			RequestID: req.id,
			Payload:   map[string]string{"text": previewText(rawText)},
		})
		return
	}

	echo := b.echoPrefix + rawText
	if err := b.sender.Send(ctx, chatID, echo); err != nil {
		b.log.Error("Failed to send echo", "chat_id", chatID, "error", err)
		b.publish(bus.Event{Type: bus.EventEchoFailed, ChatID: chatID, Error: err.Error()})
		return
	}

	b.publish(bus.Event{Type: bus.EventMessageEchoed, ChatID: chatID, Payload: map[string]string{"text": previewText(rawText)}})
}

// Close cancels every outstanding request and rejects new ones. It returns
// the number of requests it cancelled.
func (b *Bridge) Close() int {
	b.mu.Lock()
	b.closed = true
	cancelled := make([]*pendingRequest, 0, len(b.pending))
	for chatID, req := range b.pending {
		delete(b.pending, chatID)
		if req.timer != nil {
			req.timer.Stop()
		}
		req.done <- reply{err: NewError(KindCancelled, "bridge is shutting down")}
		cancelled = append(cancelled, req)
	}
	b.mu.Unlock()

	for _, req := range cancelled {
		b.publishOutcome(bus.EventInputCancelled, req, ErrCancelled)
	}
	if len(cancelled) > 0 {
		b.log.Info("Cancelled pending requests", "count", len(cancelled))
	}

	return len(cancelled)
}

// Awaiting reports whether chatID has an armed request waiting for a reply.
func (b *Bridge) Awaiting(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.pending[chatID]
	return ok && req.armed
}

// PendingCount returns the number of registered requests, armed or not.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.pending)
}

// reserve inserts an unarmed request for chatID, failing when one exists.
func (b *Bridge) reserve(chatID int64) (*pendingRequest, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, NewError(KindCancelled, "bridge is shutting down")
	}
	if existing, ok := b.pending[chatID]; ok {
		return nil, Errorf(KindBusy, "chat %d is already awaiting a reply (request %s)", chatID, existing.id)
	}

	req := &pendingRequest{
		id:        uuid.NewString(),
		chatID:    chatID,
		createdAt: time.Now(),
		done:      make(chan reply, 1),
	}
	b.pending[chatID] = req

	return req, nil
}

// release drops a reservation whose prompt could not be delivered.
func (b *Bridge) release(req *pendingRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending[req.chatID] == req {
		delete(b.pending, req.chatID)
	}
}

// arm starts the deadline timer. It reports false when the request was
// already resolved, for example by Close while the prompt was being sent.
func (b *Bridge) arm(req *pendingRequest) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending[req.chatID] != req {
		return false
	}

	req.armed = true
	req.deadline = time.Now().Add(b.timeout)
	req.timer = time.AfterFunc(b.timeout, func() { b.expire(req) })

	return true
}

func (b *Bridge) expire(req *pendingRequest) {
	err := Errorf(KindTimeout, "no reply from chat %d within %s", req.chatID, b.timeout)
	if !b.resolve(req, reply{err: err}) {
		return
	}

	b.log.Warn("Request timed out", "chat_id", req.chatID, "request_id", req.id, "timeout", b.timeout.String())
	b.publishOutcome(bus.EventInputTimedOut, req, err)
}

// resolve removes req and delivers result if req is still registered.
func (b *Bridge) resolve(req *pendingRequest, result reply) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending[req.chatID] != req {
		return false
	}

	delete(b.pending, req.chatID)
	if req.timer != nil {
		req.timer.Stop()
	}
	req.done <- result

	return true
}

// claim removes and returns the armed request for chatID. The caller owns
// the single write to its done channel.
func (b *Bridge) claim(chatID int64) *pendingRequest {
	b.mu.Lock()
	defer b.mu.Unlock()

	req, ok := b.pending[chatID]
	if !ok || !req.armed {
		return nil
	}

	delete(b.pending, chatID)
	req.timer.Stop()

	return req
}

func (b *Bridge) publish(event bus.Event) {
	if b.events == nil {
		return
	}

	b.events.PublishEvent(context.Background(), event)
}

func (b *Bridge) publishOutcome(eventType bus.EventType, req *pendingRequest, err error) {
	event := bus.Event{Type: eventType, ChatID: req.chatID, RequestID: req.id}
	if err != nil {
		event.Error = err.Error()
	}

	b.publish(event)
}

// previewText returns a bounded log-safe preview of message text.
func previewText(text string) string {
	trimmed := strings.TrimSpace(text)
	runes := []rune(trimmed)
	if len(runes) <= messagePreviewLimit {
		return trimmed
	}

	return string(runes[:messagePreviewLimit]) + "..."
}
