package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/config"
	"github.com/sushant-115/policytxn/core/auth"
	"github.com/sushant-115/policytxn/core/coordinator"
	"github.com/sushant-115/policytxn/core/directory"
	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/core/server"
	internaltelemetry "github.com/sushant-115/policytxn/internal/telemetry"
	"github.com/sushant-115/policytxn/pkg/connection"
	"github.com/sushant-115/policytxn/pkg/logger"
	"github.com/sushant-115/policytxn/pkg/telemetry"
)

var (
	configPath     string
	nodeID         int
	directoryPath  string
	listenAddr     string
	validationMode int
	pushMode       int
	proof          string
	sleepMode      string
	seed           int64
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "txnode_server",
		Short:        "Policy-aware transaction node",
		SilenceUsage: true,
		RunE:         run,
	}
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "yaml config file")
	f.IntVar(&nodeID, "node_id", 0, "node id (overrides config)")
	f.StringVar(&directoryPath, "directory", "", "node directory file (overrides config)")
	f.StringVar(&listenAddr, "listen", "", "listen address (default: this node's directory entry)")
	f.IntVar(&validationMode, "validation_mode", 0, "0=2pc 1=view-strict 2=view-relaxed 3=global-strict 4=global-relaxed")
	f.IntVar(&pushMode, "push_mode", 0, "0=none 1=one 2=all 3=silent")
	f.StringVar(&proof, "proof", "", "punctual | incremental | continuous | deferred")
	f.StringVar(&sleepMode, "sleep_mode", "", "real | logical")
	f.Int64Var(&seed, "seed", 0, "seed of the authorization gates")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Node, error) {
	cfg := config.DefaultNode()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadNode(configPath); err != nil {
			return cfg, err
		}
	}
	f := cmd.Flags()
	if f.Changed("node_id") {
		cfg.NodeID = nodeID
	}
	if f.Changed("directory") {
		cfg.Directory = directoryPath
	}
	if f.Changed("listen") {
		cfg.Listen = listenAddr
	}
	if f.Changed("validation_mode") {
		cfg.ValidationMode = validationMode
	}
	if f.Changed("push_mode") {
		cfg.PushMode = pushMode
	}
	if f.Changed("proof") {
		cfg.Proof = proof
	}
	if f.Changed("sleep_mode") {
		cfg.SleepMode = sleepMode
	}
	if f.Changed("seed") {
		cfg.Seed = seed
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	zlogger, err := logger.New(cfg.Logger, "txnode", zap.Int("node", cfg.NodeID))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zlogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tel, shutdownTelemetry, err := telemetry.New(cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			zlogger.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()
	metrics, err := internaltelemetry.NewEngineMetrics(tel.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	dir, err := directory.Load(cfg.Directory)
	if err != nil {
		return err
	}
	addr := cfg.Listen
	if addr == "" {
		if addr, err = dir.Resolve(cfg.NodeID); err != nil {
			return err
		}
	}

	authority, err := newAuthority(cfg, dir, zlogger)
	if err != nil {
		return err
	}

	node, err := coordinator.NewNode(coordinator.Options{
		ID:           cfg.NodeID,
		Authority:    authority,
		Checker:      auth.NewProbabilistic(cfg.Seed, cfg.Auth, cfg.Integrity),
		Dialer:       connection.NewTCPDialer(dir.Resolve, cfg.DialTimeout),
		Params:       cfg.Parameters(),
		SleepMode:    cfg.Mode(),
		Latency:      cfg.CoordinatorLatency(),
		InitialFloor: policy.Version(cfg.InitialPolicyVersion),
		PeerTimeout:  cfg.PeerTimeout,
		Logger:       zlogger,
		Metrics:      metrics,
		Tracer:       tel.Tracer,
	})
	if err != nil {
		return err
	}

	srv := server.New(node, cfg.AcceptRate, zlogger)
	if err := srv.Listen(addr); err != nil {
		return err
	}
	zlogger.Info("Starting transaction node",
		zap.Int("nodeID", cfg.NodeID),
		zap.String("addr", addr),
		zap.Stringer("params", cfg.Parameters()),
		zap.Stringer("sleepMode", cfg.Mode()),
		zap.Int64("seed", cfg.Seed))

	if err := srv.Serve(ctx); err != nil {
		return err
	}
	zlogger.Info("Transaction node shut down gracefully")
	return nil
}

// newAuthority connects to the directory's authority. Without one the node
// keeps its own counter, which only stands in for a global version when the
// node is alone in the fleet.
func newAuthority(cfg config.Node, dir *directory.Directory, zlogger *zap.Logger) (policy.Authority, error) {
	if ep, ok := dir.Authority(); ok {
		zlogger.Info("Using remote policy authority", zap.String("addr", ep.HostPort()))
		return policy.NewClient(ep.HostPort(), cfg.DialTimeout), nil
	}
	if n := len(dir.IDs()); n > 1 {
		if cfg.Parameters().ValidationMode.IsGlobal() {
			return nil, fmt.Errorf("validation mode %s needs a shared authority but the directory of %d nodes has none",
				cfg.Parameters().ValidationMode, n)
		}
		zlogger.Warn("No authority in directory; each node keeps its own policy counter",
			zap.Int("nodes", n))
	} else {
		zlogger.Info("No authority in directory, using an in-process one")
	}
	notifier := policy.NewTCPNotifier(dir.Resolve, cfg.DialTimeout)
	return policy.NewLocal(policy.Version(cfg.InitialPolicyVersion), notifier, dir.IDs(), zlogger.Named("authority")), nil
}
