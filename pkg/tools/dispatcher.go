package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	core "charm.land/fantasy"

	"humanloop/pkg/bridge"
)

const (
	sendMessageDescription      = "Send a text message to a Telegram chat. Returns once the message has been delivered."
	requestUserInputDescription = "Send a prompt to a Telegram chat and wait for the person's next reply. Returns the reply text, or fails with Timeout, Busy, InvalidInput or Cancelled."

	statusSent = "sent"
)

// Bridge is the part of the correlation bridge the tools drive.
type Bridge interface {
	Send(ctx context.Context, chatID int64, text string) error
	RequestInput(ctx context.Context, chatID int64, prompt string) (string, error)
}

// Dispatcher validates tool arguments and routes them to the bridge.
type Dispatcher struct {
	bridge Bridge
	log    *slog.Logger
}

// NewDispatcher constructs a dispatcher over b.
func NewDispatcher(b Bridge, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}

	return &Dispatcher{bridge: b, log: log.With("component", "tools")}
}

// Call decodes raw arguments for the named tool, runs it and returns the
// JSON-ready success payload. Errors carry a bridge.Kind.
func (d *Dispatcher) Call(ctx context.Context, name string, arguments json.RawMessage) (any, error) {
	op, err := ParseOperation(name)
	if err != nil {
		d.log.Warn("Rejected tool call", "tool", name, "error_kind", bridge.KindOf(err))
		return nil, err
	}

	switch op {
	case OpSendMessage:
		args, err := decodeSendMessageArgs(arguments)
		if err != nil {
			d.logResult(op, 0, 0, err)
			return nil, err
		}
		return d.sendMessage(ctx, args)
	case OpRequestUserInput:
		args, err := decodeRequestUserInputArgs(arguments)
		if err != nil {
			d.logResult(op, 0, 0, err)
			return nil, err
		}
		return d.requestUserInput(ctx, args)
	default:
		return nil, bridge.Errorf(bridge.KindUnknownOperation, "unknown tool %q", name)
	}
}

// Tools returns the operations as fantasy agent tools, in catalog order.
func (d *Dispatcher) Tools() []core.AgentTool {
	return []core.AgentTool{
		core.NewAgentTool(OpSendMessage.String(), sendMessageDescription, func(ctx context.Context, input SendMessageArgs, _ core.ToolCall) (core.ToolResponse, error) {
			if err := input.validate(); err != nil {
				return toolErrorResponse(err), nil
			}
			result, err := d.sendMessage(ctx, input)
			if err != nil {
				return toolErrorResponse(err), nil
			}
			return toolTextResponse(result), nil
		}),
		core.NewAgentTool(OpRequestUserInput.String(), requestUserInputDescription, func(ctx context.Context, input RequestUserInputArgs, _ core.ToolCall) (core.ToolResponse, error) {
			if err := input.validate(); err != nil {
				return toolErrorResponse(err), nil
			}
			result, err := d.requestUserInput(ctx, input)
			if err != nil {
				return toolErrorResponse(err), nil
			}
			return toolTextResponse(result), nil
		}),
	}
}

func (d *Dispatcher) sendMessage(ctx context.Context, args SendMessageArgs) (SendMessageResult, error) {
	if d.bridge == nil {
		return SendMessageResult{}, bridge.NewError(bridge.KindInternal, "tools are not connected to a bridge")
	}

	start := time.Now()
	err := d.bridge.Send(ctx, args.ChatID, args.Message)
	d.logResult(OpSendMessage, args.ChatID, time.Since(start), err)
	if err != nil {
		return SendMessageResult{}, asToolError(err, bridge.KindDeliveryFailed)
	}

	return SendMessageResult{Status: statusSent}, nil
}

func (d *Dispatcher) requestUserInput(ctx context.Context, args RequestUserInputArgs) (RequestUserInputResult, error) {
	if d.bridge == nil {
		return RequestUserInputResult{}, bridge.NewError(bridge.KindInternal, "tools are not connected to a bridge")
	}

	start := time.Now()
	text, err := d.bridge.RequestInput(ctx, args.ChatID, args.Prompt)
	d.logResult(OpRequestUserInput, args.ChatID, time.Since(start), err)
	if err != nil {
		return RequestUserInputResult{}, asToolError(err, bridge.KindInternal)
	}

	return RequestUserInputResult{Text: text}, nil
}

func (d *Dispatcher) logResult(op Operation, chatID int64, duration time.Duration, err error) {
	attrs := []any{
		"tool", op.String(),
		"success", err == nil,
		"duration_ms", duration.Milliseconds(),
	}
	if chatID != 0 {
		attrs = append(attrs, "chat_id", chatID)
	}
	if err != nil {
		attrs = append(attrs, "error_kind", bridge.KindOf(err), "error", err)
		d.log.Warn("Tool call failed", attrs...)
		return
	}

	d.log.Info("Tool call completed", attrs...)
}

// asToolError guarantees err carries a kind, using fallback for foreign errors.
func asToolError(err error, fallback bridge.Kind) error {
	var kindErr *bridge.Error
	if errors.As(err, &kindErr) {
		return err
	}

	kind := bridge.KindOf(err)
	if kind == bridge.KindInternal {
		kind = fallback
	}

	return &bridge.Error{Kind: kind, Err: err}
}

// ErrorText renders err as "<Kind>: <detail>" for tool error results.
func ErrorText(err error) string {
	if err == nil {
		return string(bridge.KindInternal) + ": unknown error"
	}

	return string(bridge.KindOf(err)) + ": " + bridge.MessageOf(err)
}

func toolErrorResponse(err error) core.ToolResponse {
	return core.NewTextErrorResponse(ErrorText(err))
}

func toolTextResponse(result any) core.ToolResponse {
	payload, err := json.Marshal(result)
	if err != nil {
		return toolErrorResponse(bridge.WrapError(bridge.KindInternal, "encode tool result", err))
	}

	return core.NewTextResponse(string(payload))
}
