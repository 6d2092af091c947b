package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"ringkv/internal/config"
	"ringkv/internal/logging"
	"ringkv/internal/node"
)

const serveShortDescription = `Run a ringkv node`
const serveLongDescription = `Command "serve"

Start a node: the replica service on --port and the public HTTP API on
--http-addr. Every flag can also be set with a RINGKV_<FLAG> environment
variable (dashes become underscores) or in the file given by --config.
`

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "ringkv",
		Short:         "Quorum replicated key-value store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(serveCommand())
	return root
}

func serveCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDescription,
		Long:  serveLongDescription,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}

			logger, err := logging.New(cfg.LogConfig())
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	self, err := cfg.Self()
	if err != nil {
		return err
	}
	logger = logging.ForNode(logger, self.String())

	n, err := node.New(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := n.Close(); err != nil {
			logger.Warn("failed to close node", zap.Error(err))
		}
	}()

	var lc net.ListenConfig
	grpcLis, err := lc.Listen(ctx, "tcp", cfg.GRPCListenAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCListenAddr(), err)
	}
	httpLis, err := lc.Listen(ctx, "tcp", cfg.HTTPAddr)
	if err != nil {
		_ = grpcLis.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.HTTPAddr, err)
	}

	logger.Info("node starting",
		zap.String("grpc_addr", grpcLis.Addr().String()),
		zap.String("http_addr", httpLis.Addr().String()),
		zap.Int("replication_factor", cfg.ReplicationFactor),
		zap.Int("read_count", cfg.ReadCount),
		zap.Int("write_count", cfg.WriteCount),
	)
	return n.Serve(ctx, grpcLis, httpLis)
}
