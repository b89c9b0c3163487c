// CoreIOT device gateway.
//
// The gateway connects one device to the CoreIOT platform over MQTT. It
// answers platform RPCs, mirrors shared attributes, and exposes an HTTP and
// WebSocket API through which local callers command the device.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/coreiot-gateway/internal/api"
	"github.com/nerrad567/coreiot-gateway/internal/device"
	"github.com/nerrad567/coreiot-gateway/internal/gateway"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/config"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/logging"
	"github.com/nerrad567/coreiot-gateway/internal/infrastructure/mqtt"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree: the root command runs the gateway.
func newRootCmd() *cobra.Command {
	var configFlag string

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "CoreIOT device gateway",
		Long:          "Connects a device to the CoreIOT platform over MQTT and serves a local HTTP and WebSocket API.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), resolveConfigPath(configFlag))
		},
	}
	root.Flags().StringVarP(&configFlag, "config", "c", "", "path to config.yaml (default $GATEWAY_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gateway %s (commit %s, built %s)\n", version, commit, date)
		},
	})
	return root
}

// run wires the gateway together and blocks until ctx is cancelled.
//
// Returns:
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting coreiot gateway",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"broker", cfg.MQTT.BrokerAddress(),
		"session_policy", cfg.Gateway.SessionPolicy,
	)
	if cfg.MQTT.Auth.Token == "" {
		log.Warn("no device token configured, the broker will refuse the connection")
	}

	// Attribute store
	store := device.NewStore()
	store.SetLogger(log.Component("store"))

	// Broker session and gateway facade
	session := mqtt.NewSession(cfg.MQTT, gateway.Subscriptions(byte(cfg.MQTT.QoS))...) //nolint:gosec // QoS validated to 0..2
	session.SetLogger(log.Component("mqtt"))

	gw := gateway.New(cfg.Gateway, session, store)
	gw.SetLogger(log.Component("gateway"))
	session.AddObserver(gw)

	sessionCtx, stopSession := context.WithCancel(ctx)
	defer stopSession()
	go session.Run(sessionCtx)
	defer func() {
		log.Info("closing broker session")
		if closeErr := session.Close(); closeErr != nil && !errors.Is(closeErr, mqtt.ErrClosed) {
			log.Error("error closing broker session", "error", closeErr)
		}
	}()

	if cfg.Gateway.SessionPolicy == config.SessionPersistent {
		connectPersistent(ctx, session, log)
	}

	// HTTP API
	if cfg.API.Enabled {
		srv, srvErr := api.New(api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log.Component("api"),
			Gateway:  gw,
			Store:    store,
			Broker:   session,
			Version:  version,
		})
		if srvErr != nil {
			return fmt.Errorf("creating api server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting api server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing api server", "error", closeErr)
			}
		}()
	}

	log.Info("coreiot gateway started", "status", gw.Status())

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// connectPersistent opens the long-lived session at startup. A failure is
// not fatal: every command retries the connect.
func connectPersistent(ctx context.Context, session *mqtt.Session, log *logging.Logger) {
	connectCtx, cancel := context.WithTimeout(ctx, startupConnectTimeout)
	defer cancel()

	if err := session.Connect(connectCtx); err != nil {
		log.Warn("initial broker connect failed, commands will retry", "error", err)
		return
	}
	log.Info("broker session established", "client_id", session.ClientID())
}

// startupConnectTimeout bounds the initial persistent connect.
const startupConnectTimeout = 15 * time.Second

// resolveConfigPath returns the configuration file path: the --config
// flag, then GATEWAY_CONFIG, then the default.
func resolveConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("GATEWAY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
