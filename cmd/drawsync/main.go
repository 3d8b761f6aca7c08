// Command drawsync runs the object synchronization hub, or joins one as a
// headless client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/drawspace/drawsync/pkg/board"
	"github.com/drawspace/drawsync/pkg/config"
	"github.com/drawspace/drawsync/pkg/transport"
	"github.com/drawspace/drawsync/pkg/util"
)

func main() {
	logger := zap.Must(zap.NewProduction())
	if os.Getenv("APP_ENV") != "production" {
		logger = zap.Must(zap.NewDevelopment())
	}
	defer logger.Sync()

	var useIpv6 bool

	rootCmd := &cobra.Command{
		Use:           "drawsync",
		Short:         "Networked object synchronization for shared drawing sessions",
		SilenceUsage:  false,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().BoolVar(&useIpv6, "ipv6", false, "Use IPv6 instead of IPv4")

	serveCmd := &cobra.Command{
		Use:   "serve <port>",
		Short: "Host a session, accepting client connections on the given port",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[0])
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), logger, port, useIpv6)
		},
	}

	connectCmd := &cobra.Command{
		Use:   "connect <host> <port>",
		Short: "Join a session hosted at the given address",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port, err := parsePort(args[1])
			if err != nil {
				return err
			}
			return runConnect(cmd.Context(), logger, args[0], port, useIpv6)
		},
	}

	rootCmd.AddCommand(serveCmd, connectCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logger.Error("Command failed", zap.Error(err))
		os.Exit(1)
	}
}

func parsePort(arg string) (int, error) {
	port, err := strconv.Atoi(arg)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port %q", arg)
	}
	return port, nil
}

func loadSession(logger *zap.Logger) (*config.Config, *board.Board, *logNotifier, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}

	userName := cfg.UserName
	if userName == "" {
		userName = util.CreateRandomStringGenerator(time.Now().UnixMicro()).DefaultUserName()
	}
	logger.Info("Session identity", zap.String("userName", userName))

	notifier := createLogNotifier(logger)
	b := board.CreateBoard(board.BoardParams{
		UserName:               userName,
		CursorThrottleInterval: cfg.Cursor.ThrottleInterval,
		Notifier:               notifier,
		Logger:                 logger,
	})
	return cfg, b, notifier, nil
}

func runServe(ctx context.Context, logger *zap.Logger, port int, useIpv6 bool) error {
	cfg, b, _, err := loadSession(logger)
	if err != nil {
		return err
	}

	session, err := board.CreateServerSession(b, transport.ServerParams{
		Port:                     port,
		UseIpv6:                  useIpv6,
		MaxPeers:                 cfg.Transport.MaxPeers,
		MaxFrameSize:             cfg.Transport.MaxFrameSize,
		OutgoingQueueLength:      cfg.Transport.OutgoingQueueLength,
		WriteTimeout:             cfg.Transport.WriteTimeout,
		HeartbeatInterval:        cfg.Heartbeat.Interval,
		MissedHeartbeatThreshold: cfg.Heartbeat.MissedThreshold,
		WebsocketListenAddress:   cfg.Websocket.ListenAddress,
		WebsocketEndpoint:        cfg.Websocket.Endpoint,
		AllowAllHosts:            true,
		Logger:                   logger,
	})
	if err != nil {
		return err
	}

	return session.Start(ctx)
}

func runConnect(ctx context.Context, logger *zap.Logger, host string, port int, useIpv6 bool) error {
	cfg, b, notifier, err := loadSession(logger)
	if err != nil {
		return err
	}

	session, err := board.CreateClientSession(b, transport.ClientParams{
		Host:                host,
		Port:                port,
		UseIpv6:             useIpv6,
		MaxFrameSize:        cfg.Transport.MaxFrameSize,
		OutgoingQueueLength: cfg.Transport.OutgoingQueueLength,
		WriteTimeout:        cfg.Transport.WriteTimeout,
		PingInterval:        cfg.Heartbeat.Interval,
		Logger:              logger,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := session.Start(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-notifier.connectionLost:
			logger.Info("Redialing hub", zap.String("host", host), zap.Int("port", port))
			if err := session.Reconnect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}
