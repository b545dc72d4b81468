// Package gateway wires the transport, the bridge and the MCP server into one
// running process and owns its ordered shutdown.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"humanloop/pkg/access"
	"humanloop/pkg/bridge"
	"humanloop/pkg/bus"
	"humanloop/pkg/channel"
	"humanloop/pkg/config"
	"humanloop/pkg/mcp"
	"humanloop/pkg/tools"
)

const (
	defaultHealthHost = "127.0.0.1"
	defaultHealthPort = 18790

	componentMCP = "mcp"
)

// Options are the collaborators of a Service.
type Options struct {
	Config       *config.Config
	Transport    channel.Transport
	MCPTransport mcpsdk.Transport
	Version      string
	Logger       *slog.Logger
}

// Service runs one transport, the correlation bridge and the MCP server.
type Service struct {
	cfg       *config.Config
	log       *slog.Logger
	eventLog  *slog.Logger
	bus       *bus.MessageBus
	bridge    *bridge.Bridge
	allowed   *access.Filter
	transport channel.Transport
	mcp       *mcp.Server

	mu         sync.RWMutex
	startedAt  time.Time
	components map[string]componentState

	stopOnce sync.Once
	stopping chan struct{}
}

type componentState struct {
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

type statusResponse struct {
	Status          string                    `json:"status"`
	UptimeSeconds   int64                     `json:"uptime_seconds"`
	PendingRequests int                       `json:"pending_requests"`
	Components      map[string]componentState `json:"components"`
}

// NewService validates configuration and assembles the runtime graph.
func NewService(opts Options) (*Service, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	if opts.Transport == nil {
		return nil, errors.New("transport is required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	chatIDs, err := opts.Config.Telegram.ChatIDs()
	if err != nil {
		return nil, err
	}
	if len(chatIDs) == 0 {
		return nil, errors.New("at least one allowed chat id is required")
	}

	allowed := access.NewFilter(chatIDs)
	messageBus := bus.NewMessageBus()
	b, err := bridge.New(opts.Transport, allowed, bridge.Options{
		ReplyTimeout: opts.Config.Bridge.ReplyTimeout(),
		EchoPrefix:   opts.Config.Bridge.EchoPrefix,
		Events:       messageBus,
		Logger:       log,
	})
	if err != nil {
		return nil, fmt.Errorf("initialize bridge: %w", err)
	}

	server, err := mcp.NewServer(tools.NewDispatcher(b, log), opts.MCPTransport, mcp.Info{Name: "humanloop", Version: opts.Version}, log)
	if err != nil {
		return nil, fmt.Errorf("initialize mcp server: %w", err)
	}

	return &Service{
		cfg:       opts.Config,
		log:       log.With("component", "gateway.service"),
		eventLog:  log.With("component", "bus.events"),
		bus:       messageBus,
		bridge:    b,
		allowed:   allowed,
		transport: opts.Transport,
		mcp:       server,
		components: map[string]componentState{
			opts.Transport.Name(): {},
			componentMCP:          {},
		},
		stopping: make(chan struct{}),
	}, nil
}

// Run serves until ctx is cancelled, the MCP input closes or a component
// fails. Pending requests are cancelled and their responses written before
// the transport stops.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	s.startedAt = time.Now().UTC()
	s.mu.Unlock()

	// Components outlive ctx so shutdown can run in order.
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelRun()
	mcpCtx, cancelMCP := context.WithCancel(runCtx)
	defer cancelMCP()

	var g errgroup.Group

	g.Go(func() error {
		observeEvents(runCtx, s.bus, s.eventLog)
		return nil
	})

	g.Go(func() error {
		s.pumpInbound(runCtx)
		return nil
	})

	transportName := s.transport.Name()
	s.setComponentState(transportName, componentState{Running: true})
	g.Go(func() error {
		err := s.transport.Run(runCtx, s.bus.PublishInbound)
		s.setComponentState(transportName, componentState{Error: errorString(err)})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.requestStop("transport failed")
			return fmt.Errorf("run %s transport: %w", transportName, err)
		}
		s.requestStop("transport stopped")
		return nil
	})

	mcpDone := make(chan struct{})
	s.setComponentState(componentMCP, componentState{Running: true})
	g.Go(func() error {
		defer close(mcpDone)
		err := s.mcp.Serve(mcpCtx)
		s.setComponentState(componentMCP, componentState{Error: errorString(err)})
		if err != nil {
			s.requestStop("mcp server failed")
			return fmt.Errorf("serve mcp: %w", err)
		}
		s.requestStop("mcp input closed")
		return nil
	})

	if s.cfg.Gateway.Enabled {
		g.Go(func() error {
			if err := s.runHealthServer(runCtx); err != nil {
				s.requestStop("status server failed")
				return err
			}
			return nil
		})
	}

	s.log.Info("Gateway running", "transport", transportName, "reply_timeout", s.bridge.ReplyTimeout().String(), "status_server", s.cfg.Gateway.Enabled)

	select {
	case <-ctx.Done():
		s.log.Info("Shutdown requested", "reason", "signal")
	case <-s.stopping:
	}

	cancelled := s.bridge.Close()
	s.log.Info("Draining", "cancelled_requests", cancelled)

	cancelMCP()
	<-mcpDone

	cancelRun()
	s.bus.Close()

	err := g.Wait()
	s.log.Info("Gateway stopped")
	return err
}

// AllowedChats returns the number of distinct chats allowed to use the bridge.
func (s *Service) AllowedChats() int {
	return s.allowed.Len()
}

func (s *Service) requestStop(reason string) {
	s.stopOnce.Do(func() {
		s.log.Info("Shutdown requested", "reason", reason)
		close(s.stopping)
	})
}

// pumpInbound feeds queued transport events to the bridge one at a time, in
// arrival order.
func (s *Service) pumpInbound(ctx context.Context) {
	for {
		msg, ok := s.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		s.bridge.OnInboundMessage(ctx, msg.ChatID, msg.Text)
	}
}

func (s *Service) runHealthServer(ctx context.Context) error {
	host := strings.TrimSpace(s.cfg.Gateway.Host)
	if host == "" {
		host = defaultHealthHost
	}

	port := s.cfg.Gateway.Port
	if port <= 0 {
		port = defaultHealthPort
	}

	addr := host + ":" + strconv.Itoa(port)
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.log.Info("Gateway status server started", "address", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start status server: %w", err)
	}

	return nil
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.respondStatus(w, http.StatusOK, "ok")
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	statusCode := http.StatusOK
	status := "ready"
	if !s.isReady() {
		statusCode = http.StatusServiceUnavailable
		status = "not_ready"
	}

	s.respondStatus(w, statusCode, status)
}

func (s *Service) respondStatus(w http.ResponseWriter, statusCode int, status string) {
	payload := s.currentStatus(status)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("Failed to write status response", "error", err)
	}
}

func (s *Service) currentStatus(status string) statusResponse {
	pending := 0
	if s.bridge != nil {
		pending = s.bridge.PendingCount()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	uptime := int64(0)
	if !s.startedAt.IsZero() {
		uptime = int64(time.Since(s.startedAt).Seconds())
	}

	components := make(map[string]componentState, len(s.components))
	for name, state := range s.components {
		components[name] = state
	}

	return statusResponse{
		Status:          status,
		UptimeSeconds:   uptime,
		PendingRequests: pending,
		Components:      components,
	}
}

// isReady reports whether every component is running.
func (s *Service) isReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.components) == 0 {
		return false
	}

	for _, state := range s.components {
		if !state.Running {
			return false
		}
	}

	return true
}

func (s *Service) setComponentState(name string, state componentState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.components[name] = state
}

func errorString(err error) string {
	if err == nil {
		return ""
	}

	return err.Error()
}
