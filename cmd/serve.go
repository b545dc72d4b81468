package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"humanloop/pkg/channel/telegram"
	"humanloop/pkg/config"
	"humanloop/pkg/gateway"
	"humanloop/pkg/logger"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the tools over MCP stdio",
	Long:  "Connects to Telegram, then serves send_message and request_user_input to an MCP client on stdin/stdout until the client disconnects or the process is interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runServe(ctx, serveConfigPath, &mcpsdk.StdioTransport{})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "path to a JSON or YAML config file")
}

// runServe loads configuration and runs the gateway until ctx ends. Logs go
// to stderr; stdout belongs to the MCP protocol.
func runServe(ctx context.Context, configPath string, mcpTransport mcpsdk.Transport) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	slog.SetDefault(appLogger)
	log := appLogger.With("component", "cmd.serve")

	transport, err := telegram.NewAdapter(cfg.Telegram, appLogger)
	if err != nil {
		return fmt.Errorf("configure telegram transport: %w", err)
	}

	svc, err := gateway.NewService(gateway.Options{
		Config:       cfg,
		Transport:    transport,
		MCPTransport: mcpTransport,
		Version:      version,
		Logger:       appLogger,
	})
	if err != nil {
		return fmt.Errorf("initialize gateway: %w", err)
	}

	log.Info("humanloop started", "version", version, "transport", transport.Name(), "allowed_chats", svc.AllowedChats())
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Gateway runtime failed", "error", err)
		return err
	}

	return nil
}
