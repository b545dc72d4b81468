// Package tools exposes the bridge as a fixed set of named tool operations
// with typed, validated arguments.
package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"humanloop/pkg/bridge"
)

// Operation is the closed set of tool operations served by humanloop.
type Operation int

const (
	OpSendMessage Operation = iota + 1
	OpRequestUserInput
)

// Operations lists every operation in catalog order.
var Operations = []Operation{OpSendMessage, OpRequestUserInput}

func (op Operation) String() string {
	switch op {
	case OpSendMessage:
		return "send_message"
	case OpRequestUserInput:
		return "request_user_input"
	default:
		return fmt.Sprintf("operation(%d)", int(op))
	}
}

// ParseOperation maps a tool name to its operation.
func ParseOperation(name string) (Operation, error) {
	for _, op := range Operations {
		if op.String() == name {
			return op, nil
		}
	}

	return 0, bridge.Errorf(bridge.KindUnknownOperation, "unknown tool %q", name)
}

// SendMessageArgs are the arguments of send_message.
type SendMessageArgs struct {
	ChatID  int64  `json:"chatId" description:"Telegram chat id to deliver the message to."`
	Message string `json:"message" description:"Text to send."`
}

// RequestUserInputArgs are the arguments of request_user_input.
type RequestUserInputArgs struct {
	ChatID int64  `json:"chatId" description:"Telegram chat id of the person to ask."`
	Prompt string `json:"prompt" description:"Question shown to the person. Their next message in the chat is returned."`
}

// SendMessageResult is the success payload of send_message.
type SendMessageResult struct {
	Status string `json:"status"`
}

// RequestUserInputResult is the success payload of request_user_input.
type RequestUserInputResult struct {
	Text string `json:"text"`
}

func (a SendMessageArgs) validate() error {
	if a.ChatID == 0 {
		return bridge.NewError(bridge.KindInvalidArguments, "chatId must be a non-zero chat id")
	}
	if strings.TrimSpace(a.Message) == "" {
		return bridge.NewError(bridge.KindInvalidArguments, "message must not be empty")
	}

	return nil
}

func (a RequestUserInputArgs) validate() error {
	if a.ChatID == 0 {
		return bridge.NewError(bridge.KindInvalidArguments, "chatId must be a non-zero chat id")
	}
	if strings.TrimSpace(a.Prompt) == "" {
		return bridge.NewError(bridge.KindInvalidArguments, "prompt must not be empty")
	}

	return nil
}

func decodeSendMessageArgs(raw json.RawMessage) (SendMessageArgs, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return SendMessageArgs{}, err
	}

	chatID, err := integerField(fields, "chatId")
	if err != nil {
		return SendMessageArgs{}, err
	}
	message, err := stringField(fields, "message")
	if err != nil {
		return SendMessageArgs{}, err
	}

	args := SendMessageArgs{ChatID: chatID, Message: message}
	return args, args.validate()
}

func decodeRequestUserInputArgs(raw json.RawMessage) (RequestUserInputArgs, error) {
	fields, err := decodeObject(raw)
	if err != nil {
		return RequestUserInputArgs{}, err
	}

	chatID, err := integerField(fields, "chatId")
	if err != nil {
		return RequestUserInputArgs{}, err
	}
	prompt, err := stringField(fields, "prompt")
	if err != nil {
		return RequestUserInputArgs{}, err
	}

	args := RequestUserInputArgs{ChatID: chatID, Prompt: prompt}
	return args, args.validate()
}

func decodeObject(raw json.RawMessage) (map[string]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, bridge.NewError(bridge.KindInvalidArguments, "arguments must be a JSON object")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, bridge.WrapError(bridge.KindInvalidArguments, "arguments are not valid JSON", err)
	}

	return fields, nil
}

// integerField reads a JSON number without fractional part. Numeric strings
// are rejected.
func integerField(fields map[string]json.RawMessage, key string) (int64, error) {
	value, err := field(fields, key)
	if err != nil {
		return 0, err
	}

	number, ok := value.(json.Number)
	if !ok {
		return 0, bridge.Errorf(bridge.KindInvalidArguments, "%s must be a number, got %s", key, jsonType(value))
	}

	n, err := number.Int64()
	if err != nil {
		return 0, bridge.Errorf(bridge.KindInvalidArguments, "%s must be an integer chat id, got %s", key, number.String())
	}

	return n, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	value, err := field(fields, key)
	if err != nil {
		return "", err
	}

	text, ok := value.(string)
	if !ok {
		return "", bridge.Errorf(bridge.KindInvalidArguments, "%s must be a string, got %s", key, jsonType(value))
	}

	return text, nil
}

func field(fields map[string]json.RawMessage, key string) (any, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, bridge.Errorf(bridge.KindInvalidArguments, "%s is required", key)
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, bridge.WrapError(bridge.KindInvalidArguments, "decode "+key, err)
	}
	if value == nil {
		return nil, bridge.Errorf(bridge.KindInvalidArguments, "%s is required", key)
	}

	return value, nil
}

func jsonType(value any) string {
	switch value.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return "null"
	}
}
