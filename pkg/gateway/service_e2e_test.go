package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"

	"humanloop/pkg/bus"
	"humanloop/pkg/channel"
	"humanloop/pkg/config"
)

type sentMessage struct {
	chatID int64
	text   string
}

type fakeTransport struct {
	runErr error

	mu      sync.Mutex
	sink    channel.Sink
	runCtx  context.Context
	sent    []sentMessage
	started chan struct{}
	stopped chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{started: make(chan struct{}), stopped: make(chan struct{})}
}

func (f *fakeTransport) Name() string {
	return "fake"
}

func (f *fakeTransport) Send(_ context.Context, chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text})
	return nil
}

func (f *fakeTransport) Run(ctx context.Context, sink channel.Sink) error {
	defer close(f.stopped)
	if f.runErr != nil {
		return f.runErr
	}

	f.mu.Lock()
	f.sink = sink
	f.runCtx = ctx
	f.mu.Unlock()
	close(f.started)

	<-ctx.Done()
	return nil
}

func (f *fakeTransport) deliver(t *testing.T, chatID int64, text string) {
	t.Helper()

	f.mu.Lock()
	sink, ctx := f.sink, f.runCtx
	f.mu.Unlock()
	require.NotNil(t, sink, "transport is not running")
	require.True(t, sink(ctx, bus.InboundMessage{Channel: "fake", ChatID: chatID, Text: text}))
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]sentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) hasSent(msg sentMessage) bool {
	for _, sent := range f.messages() {
		if sent == msg {
			return true
		}
	}
	return false
}

type callOutcome struct {
	id     int
	result *mcpsdk.CallToolResult
	err    error
}

type gatewayHarness struct {
	t         *testing.T
	svc       *Service
	transport *fakeTransport
	session   *mcpsdk.ClientSession
	connErr   error
	outcomes  chan callOutcome
	cancel    context.CancelFunc
	errCh     chan error
}

func startGateway(t *testing.T, cfg *config.Config, transport *fakeTransport) *gatewayHarness {
	t.Helper()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()

	svc, err := NewService(Options{
		Config:       cfg,
		Transport:    transport,
		MCPTransport: serverTransport,
		Version:      "test",
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	h := &gatewayHarness{
		t:         t,
		svc:       svc,
		transport: transport,
		outcomes:  make(chan callOutcome, 32),
		cancel:    cancel,
		errCh:     make(chan error, 1),
	}

	go func() {
		h.errCh <- svc.Run(ctx)
	}()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "gateway-test", Version: "test"}, nil)
	// A service that fails at startup may close the session during the handshake.
	h.session, h.connErr = client.Connect(context.Background(), clientTransport, nil)

	t.Cleanup(func() {
		cancel()
		if h.session != nil {
			_ = h.session.Close()
		}
	})

	return h
}

// call issues a tool call in the background; its outcome arrives on next.
func (h *gatewayHarness) call(id int, tool string, arguments string) {
	h.t.Helper()
	require.NoError(h.t, h.connErr)

	go func() {
		res, err := h.session.CallTool(context.Background(), &mcpsdk.CallToolParams{
			Name:      tool,
			Arguments: json.RawMessage(arguments),
		})
		h.outcomes <- callOutcome{id: id, result: res, err: err}
	}()
}

func (h *gatewayHarness) next() callOutcome {
	h.t.Helper()
	select {
	case outcome := <-h.outcomes:
		return outcome
	case <-time.After(3 * time.Second):
		h.t.Fatal("timed out waiting for MCP response")
		return callOutcome{}
	}
}

func (h *gatewayHarness) wait() error {
	h.t.Helper()
	select {
	case err := <-h.errCh:
		return err
	case <-time.After(3 * time.Second):
		h.t.Fatal("timed out waiting for service run to exit")
		return nil
	}
}

func structured(t *testing.T, outcome callOutcome) map[string]any {
	t.Helper()
	require.NoError(t, outcome.err, "call %d failed", outcome.id)
	content, ok := outcome.result.StructuredContent.(map[string]any)
	require.True(t, ok, "expected structured content in %#v", outcome.result)
	return content
}

func errorKind(t *testing.T, outcome callOutcome) string {
	t.Helper()
	content := structured(t, outcome)
	require.True(t, outcome.result.IsError, "call %d: expected a tool error", outcome.id)
	detail, ok := content["error"].(map[string]any)
	require.True(t, ok, "expected tool error in %v", content)
	return detail["kind"].(string)
}

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{Token: "token", AllowFrom: []string{"42", "43"}},
		Bridge:   config.BridgeConfig{ReplyTimeoutSeconds: 30},
	}
}

func waitStarted(t *testing.T, transport *fakeTransport) {
	t.Helper()
	select {
	case <-transport.started:
	case <-time.After(3 * time.Second):
		t.Fatal("transport did not start")
	}
}

func TestGatewayServiceE2ERequestUserInputResolvesWithReply(t *testing.T) {
	transport := newFakeTransport()
	h := startGateway(t, testConfig(), transport)
	waitStarted(t, transport)

	h.call(1, "request_user_input", `{"chatId":42,"prompt":"Deploy to prod?"}`)
	require.Eventually(t, func() bool { return h.svc.bridge.Awaiting(42) }, 3*time.Second, 5*time.Millisecond)
	require.True(t, transport.hasSent(sentMessage{chatID: 42, text: "Deploy to prod?"}))

	transport.deliver(t, 42, "yes, go ahead")

	reply := h.next()
	require.Equal(t, 1, reply.id)
	require.Equal(t, "yes, go ahead", structured(t, reply)["text"])
	require.Zero(t, h.svc.bridge.PendingCount())

	h.cancel()
	require.NoError(t, h.wait())
}

func TestGatewayServiceE2EEchoesIdleMessagesAndIgnoresStrangers(t *testing.T) {
	transport := newFakeTransport()
	h := startGateway(t, testConfig(), transport)
	waitStarted(t, transport)

	transport.deliver(t, 99, "let me in")
	transport.deliver(t, 42, "   ")
	transport.deliver(t, 42, "hi")

	require.Eventually(t, func() bool {
		return transport.hasSent(sentMessage{chatID: 42, text: "Echo: hi"})
	}, 3*time.Second, 5*time.Millisecond)

	// The pump is FIFO, so earlier events were processed before the echo.
	require.Equal(t, []sentMessage{{chatID: 42, text: "Echo: hi"}}, transport.messages())
	require.Zero(t, h.svc.bridge.PendingCount())

	h.cancel()
	require.NoError(t, h.wait())
}

func TestGatewayServiceE2EInvalidArgumentsNeverReachTransport(t *testing.T) {
	transport := newFakeTransport()
	h := startGateway(t, testConfig(), transport)
	waitStarted(t, transport)

	h.call(2, "send_message", `{"chatId":"42","message":"hello"}`)
	require.Equal(t, "InvalidArguments", errorKind(t, h.next()))

	h.call(3, "send_message", `{"chatId":42,"message":"hello"}`)
	require.Equal(t, "sent", structured(t, h.next())["status"])
	require.Equal(t, []sentMessage{{chatID: 42, text: "hello"}}, transport.messages())

	h.cancel()
	require.NoError(t, h.wait())
}

func TestGatewayServiceE2EBusyWhileAwaiting(t *testing.T) {
	transport := newFakeTransport()
	h := startGateway(t, testConfig(), transport)
	waitStarted(t, transport)

	h.call(4, "request_user_input", `{"chatId":42,"prompt":"first?"}`)
	require.Eventually(t, func() bool { return h.svc.bridge.Awaiting(42) }, 3*time.Second, 5*time.Millisecond)

	h.call(5, "request_user_input", `{"chatId":42,"prompt":"second?"}`)
	busy := h.next()
	require.Equal(t, 5, busy.id)
	require.Equal(t, "Busy", errorKind(t, busy))

	transport.deliver(t, 42, "answer")
	first := h.next()
	require.Equal(t, 4, first.id)
	require.Equal(t, "answer", structured(t, first)["text"])

	h.cancel()
	require.NoError(t, h.wait())
}

func TestGatewayServiceE2EShutdownCancelsPendingRequests(t *testing.T) {
	transport := newFakeTransport()
	h := startGateway(t, testConfig(), transport)
	waitStarted(t, transport)

	h.call(6, "request_user_input", `{"chatId":42,"prompt":"a?"}`)
	h.call(7, "request_user_input", `{"chatId":43,"prompt":"b?"}`)
	require.Eventually(t, func() bool {
		return h.svc.bridge.Awaiting(42) && h.svc.bridge.Awaiting(43)
	}, 3*time.Second, 5*time.Millisecond)

	h.cancel()

	kinds := map[int]string{}
	for range 2 {
		outcome := h.next()
		kinds[outcome.id] = errorKind(t, outcome)
	}
	require.Equal(t, map[int]string{6: "Cancelled", 7: "Cancelled"}, kinds)

	require.NoError(t, h.wait())
	select {
	case <-transport.stopped:
	default:
		t.Fatal("transport still running after service exit")
	}
}

func TestGatewayServiceE2EStopsWhenMCPClientDisconnects(t *testing.T) {
	transport := newFakeTransport()
	h := startGateway(t, testConfig(), transport)
	waitStarted(t, transport)

	h.call(8, "request_user_input", `{"chatId":42,"prompt":"still there?"}`)
	require.Eventually(t, func() bool { return h.svc.bridge.Awaiting(42) }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, h.connErr)
	require.NoError(t, h.session.Close())

	require.NoError(t, h.wait())
	require.Zero(t, h.svc.bridge.PendingCount())
	require.False(t, h.svc.bridge.Awaiting(42))
	select {
	case <-transport.stopped:
	default:
		t.Fatal("transport still running after service exit")
	}
}

func TestGatewayServiceE2ETransportFailureStopsService(t *testing.T) {
	transport := newFakeTransport()
	transport.runErr = errors.New("poll failed")
	h := startGateway(t, testConfig(), transport)

	err := h.wait()
	require.Error(t, err)
	require.Contains(t, err.Error(), "poll failed")
}

func TestGatewayServiceReadyzReportsComponents(t *testing.T) {
	port := freeTCPPort(t)
	cfg := testConfig()
	cfg.Gateway = config.GatewayConfig{Enabled: true, Host: "127.0.0.1", Port: port}

	transport := newFakeTransport()
	h := startGateway(t, cfg, transport)
	waitStarted(t, transport)

	readyURL := fmt.Sprintf("http://127.0.0.1:%d/readyz", port)
	require.Equal(t, http.StatusOK, waitHTTPStatus(t, readyURL, 3*time.Second))

	response, err := http.Get(readyURL)
	require.NoError(t, err)
	defer response.Body.Close()

	var body statusResponse
	require.NoError(t, json.NewDecoder(response.Body).Decode(&body))
	require.Equal(t, "ready", body.Status)
	require.True(t, body.Components["fake"].Running)
	require.True(t, body.Components[componentMCP].Running)
	require.Zero(t, body.PendingRequests)

	h.cancel()
	require.NoError(t, h.wait())
}

func waitHTTPStatus(t *testing.T, url string, timeout time.Duration) int {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for {
		response, err := http.Get(url)
		if err == nil {
			statusCode := response.StatusCode
			require.NoError(t, response.Body.Close())
			return statusCode
		}

		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s: %v", url, err)
		}

		time.Sleep(25 * time.Millisecond)
	}
}

func freeTCPPort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	addr, ok := listener.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}
