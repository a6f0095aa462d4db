package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielpatrickdp/affect-mpc/internal/config"
	"github.com/danielpatrickdp/affect-mpc/internal/gate"
	"github.com/danielpatrickdp/affect-mpc/internal/logging"
	"github.com/danielpatrickdp/affect-mpc/internal/mpc"
	"github.com/danielpatrickdp/affect-mpc/internal/plant"
	"github.com/danielpatrickdp/affect-mpc/internal/state"
	"github.com/danielpatrickdp/affect-mpc/internal/transport"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	cfgFile string
	addr    string
	dbPath  string
)

var rootCmd = &cobra.Command{
	Use:   "controller",
	Short: "Serve the affect plant over gRPC",
	Long: `controller owns one plant and its sampling controller and serves
affect.v1.PlantService (Optimize, Step, Tick, State, ForceState, SetInertia).

Calls are serialized; every tick and perturbation is recorded when a store
path is configured.`,
	SilenceUsage: true,
	RunE:         serve,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "config file (default ./affect.yaml)")
	rootCmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "SQLite path (overrides config, empty config disables)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// #region serve
func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("addr") {
		cfg.Server.Addr = addr
	}
	if cmd.Flags().Changed("db") {
		cfg.Store.Path = dbPath
	}

	logger := logging.New(cfg.Logging, os.Stderr)

	p, err := plant.New(cfg.Plant)
	if err != nil {
		return fmt.Errorf("build plant: %w", err)
	}
	ctrl, err := mpc.New(cfg.Controller.Config, p, mpc.NewSource(cfg.Controller.Seed))
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}
	session := transport.NewSession(p, ctrl, gate.NewGate(cfg.Gate), logger)

	if cfg.Store.Path != "" {
		store, err := state.NewStore(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		scenario := cfg.Scenario()
		scenario.Ticks = 0
		scenario.Events = nil
		cfgJSON, err := scenario.ConfigJSON()
		if err != nil {
			return err
		}
		rec, err := store.CreateRun(state.RunRecord{Seed: cfg.Controller.Seed, ConfigJSON: cfgJSON})
		if err != nil {
			return err
		}
		session.Persist(store, rec.RunID)
		logger.Info().Str("run_id", rec.RunID).Str("db", cfg.Store.Path).Msg("recording session")
	}

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}

	srv := grpc.NewServer(grpc.UnaryInterceptor(logUnary(logger)))
	transport.Register(srv, transport.NewServer(session))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down")
		srv.GracefulStop()
	}()

	logger.Info().Str("addr", lis.Addr().String()).Msg("PlantService ready")
	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// #endregion serve

// logUnary logs every RPC with its latency and outcome.
func logUnary(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := logger.Debug()
		if err != nil {
			ev = logger.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("rpc")
		return resp, err
	}
}
