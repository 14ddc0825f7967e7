package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/zeroksync/0k-sync/internal/config"
	"github.com/zeroksync/0k-sync/internal/logging"
	"github.com/zeroksync/0k-sync/internal/metrics"
	"github.com/zeroksync/0k-sync/internal/relaycoord"
	"github.com/zeroksync/0k-sync/internal/relayhttp"
	"github.com/zeroksync/0k-sync/internal/relayidentity"
	"github.com/zeroksync/0k-sync/internal/relayserver"
	"github.com/zeroksync/0k-sync/internal/relaysession"
	"github.com/zeroksync/0k-sync/internal/relaystore"
	"github.com/zeroksync/0k-sync/internal/transport"
)

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as a relay",
		Long: `serve runs this device as a relay, accepting connections from
devices in any number of groups. The relay stores only ciphertext and
never holds a group secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadServeConfig(configPath)
			if err != nil {
				return err
			}

			logger := logging.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

			cert, err := relayidentity.LoadOrCreateFromKeyPath(cfg.Server.SecretKeyPath)
			if err != nil {
				return fmt.Errorf("loading relay identity: %w", err)
			}

			store := relaystore.New()
			sweeper := relaystore.NewSweeper(store, time.Duration(cfg.Cleanup.IntervalSecs)*time.Second, logger)
			coord := relaycoord.New(relaycoord.LimiterConfig{
				ConnectionsPerMinutePerEndpoint: cfg.Limits.ConnectionsPerIP,
				MessagesPerMinutePerDevice:      cfg.Limits.MessagesPerMinute,
				GlobalMessagesPerSecond:         cfg.Limits.GlobalRequestsPerSecond,
			}, logger)
			m := metrics.NewMetrics()

			srv := relayserver.New(store, coord, relayserver.Config{
				MaxConcurrentSessions: cfg.Limits.MaxConcurrentSessions,
				SessionConfig: relaysession.Config{
					HelloTimeout:     time.Duration(cfg.Limits.HelloTimeoutSecs) * time.Second,
					DefaultTTL:       cfg.Storage.DefaultTTL,
					MaxBlobSize:      cfg.Storage.MaxBlobSize,
					MaxGroupStorage:  cfg.Storage.MaxGroupStorage,
					MaxDeviceNameLen: cfg.Limits.MaxDeviceNameLen,
					MaxPullLimit:     cfg.Limits.MaxPullLimit,
					DefaultPullLimit: relaysession.DefaultConfig().DefaultPullLimit,
				},
			}, logger, m)

			tr := transport.NewQUICTransport()
			ln, err := tr.Listen(cfg.Server.BindAddress, transport.ListenOptions{
				TLSConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
			})
			if err != nil {
				return fmt.Errorf("listening on %s: %w", cfg.Server.BindAddress, err)
			}

			httpSrv := relayhttp.NewServer(relayhttp.Config{
				Address:        cfg.HTTP.BindAddress,
				MetricsEnabled: cfg.HTTP.MetricsEnabled,
			}, coord, nil)
			if err := httpSrv.Start(); err != nil {
				return fmt.Errorf("starting http server: %w", err)
			}

			if cfg.Cleanup.Enabled {
				sweeper.Start()
			}

			go func() {
				if err := srv.Serve(ln); err != nil {
					logger.Error("relay accept loop exited", logging.KeyError, err)
				}
			}()

			fmt.Printf("Relay listening on %s (quic), http on %s\n", cfg.Server.BindAddress, cfg.HTTP.BindAddress)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			sig := <-sigCh
			fmt.Printf("\nReceived signal %v, shutting down...\n", sig)

			srv.Stop()
			ln.Close()
			if cfg.Cleanup.Enabled {
				sweeper.Stop()
			}
			if err := httpSrv.Stop(); err != nil {
				fmt.Printf("http shutdown error: %v\n", err)
			}

			fmt.Println("Relay stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./relay.yaml", "Path to relay configuration file")

	return cmd
}

func loadServeConfig(path string) (*config.ServerConfig, error) {
	if _, err := os.Stat(path); err != nil {
		return config.DefaultServerConfig(), nil
	}
	return config.LoadServerConfig(path)
}
