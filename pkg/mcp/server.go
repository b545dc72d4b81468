// Package mcp serves the humanloop tools to a Model Context Protocol client
// over the go-sdk, usually on the process stdin and stdout.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"humanloop/pkg/bridge"
	"humanloop/pkg/tools"
)

// Dispatcher lists and runs tools. *tools.Dispatcher satisfies it.
type Dispatcher interface {
	Definitions() []tools.Definition
	Call(ctx context.Context, name string, arguments json.RawMessage) (any, error)
}

// Info identifies the server in the initialize handshake.
type Info struct {
	Name    string
	Version string
}

// Server exposes a dispatcher's tools on one MCP transport.
type Server struct {
	dispatcher Dispatcher
	transport  mcpsdk.Transport
	server     *mcpsdk.Server
	info       Info
	log        *slog.Logger

	mu      sync.Mutex
	running bool
	calls   context.Context
}

type errorContent struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// NewServer registers every tool of dispatcher on a new MCP server bound to
// transport.
func NewServer(dispatcher Dispatcher, transport mcpsdk.Transport, info Info, log *slog.Logger) (*Server, error) {
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if transport == nil {
		return nil, errors.New("mcp transport is required")
	}
	if strings.TrimSpace(info.Name) == "" {
		info.Name = "humanloop"
	}
	if strings.TrimSpace(info.Version) == "" {
		info.Version = "dev"
	}
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		dispatcher: dispatcher,
		transport:  transport,
		info:       info,
		log:        log.With("component", "mcp"),
		calls:      context.Background(),
	}

	s.server = mcpsdk.NewServer(&mcpsdk.Implementation{
		Name:    info.Name,
		Version: info.Version,
	}, nil)

	for _, def := range dispatcher.Definitions() {
		s.server.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		}, s.toolHandler(def.Name))
	}

	return s, nil
}

// Serve runs one session until the client disconnects or ctx is cancelled.
// Either way the remaining tool calls are cancelled and their results
// written before it returns.
func (s *Server) Serve(ctx context.Context) error {
	calls, cancelCalls := context.WithCancel(ctx)
	defer cancelCalls()

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("mcp server is already running")
	}
	s.running = true
	s.calls = calls
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.calls = context.Background()
		s.mu.Unlock()
	}()

	// The session is closed explicitly so pending results can still be written.
	session, err := s.server.Connect(context.WithoutCancel(ctx), &watchedTransport{Transport: s.transport, onInputClosed: cancelCalls}, nil)
	if err != nil {
		return fmt.Errorf("connect mcp transport: %w", err)
	}

	s.log.Info("MCP server started", "server", s.info.Name, "version", s.info.Version)

	ended := make(chan error, 1)
	go func() {
		ended <- session.Wait()
	}()

	select {
	case <-ctx.Done():
		s.log.Info("MCP server stopping", "reason", "context cancelled")
		cancelCalls()
		if err := session.Close(); err != nil {
			s.log.Debug("MCP session close", "error", err)
		}
		<-ended
	case err := <-ended:
		cancelCalls()
		if err != nil {
			s.log.Debug("MCP session ended", "error", err)
		}
		s.log.Info("MCP input closed")
	}

	return nil
}

func (s *Server) callContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.calls
}

func (s *Server) toolHandler(name string) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		callCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(s.callContext(), cancel)
		defer stop()

		var arguments json.RawMessage
		if req != nil && req.Params != nil {
			arguments = req.Params.Arguments
		}

		start := time.Now()
		result, err := s.dispatcher.Call(callCtx, name, arguments)
		if err != nil {
			s.log.Debug("MCP tool call failed", "tool", name, "kind", bridge.KindOf(err), "duration_ms", time.Since(start).Milliseconds())
		}

		return toolResult(result, err), nil
	}
}

// toolResult renders a dispatcher outcome as a tool result. Failures stay
// tool results so the calling model can read the error kind.
func toolResult(result any, err error) *mcpsdk.CallToolResult {
	if err != nil {
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: tools.ErrorText(err)}},
			StructuredContent: errorContent{Error: errorDetail{
				Kind:    string(bridge.KindOf(err)),
				Message: bridge.MessageOf(err),
			}},
			IsError: true,
		}
	}

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return toolResult(nil, bridge.WrapError(bridge.KindInternal, "encode tool result", marshalErr))
	}

	return &mcpsdk.CallToolResult{
		Content:           []mcpsdk.Content{&mcpsdk.TextContent{Text: string(payload)}},
		StructuredContent: result,
	}
}

// watchedTransport reports the first read failure of its connection, which
// is how a closed client input shows up.
type watchedTransport struct {
	mcpsdk.Transport
	onInputClosed func()
}

func (t *watchedTransport) Connect(ctx context.Context) (mcpsdk.Connection, error) {
	conn, err := t.Transport.Connect(ctx)
	if err != nil {
		return nil, err
	}

	return &watchedConnection{Connection: conn, onInputClosed: t.onInputClosed}, nil
}

type watchedConnection struct {
	mcpsdk.Connection
	onInputClosed func()
	once          sync.Once
}

func (c *watchedConnection) Read(ctx context.Context) (jsonrpc.Message, error) {
	msg, err := c.Connection.Read(ctx)
	if err != nil {
		c.once.Do(c.onInputClosed)
	}

	return msg, err
}
