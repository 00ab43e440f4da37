package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sushant-115/policytxn/config"
	"github.com/sushant-115/policytxn/core/directory"
	"github.com/sushant-115/policytxn/core/policy"
	"github.com/sushant-115/policytxn/pkg/logger"
)

var (
	configPath     string
	listenAddr     string
	directoryPath  string
	initialVersion uint64
	bumpInterval   time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "policy_authority",
		Short:        "Policy version authority",
		SilenceUsage: true,
		RunE:         run,
	}
	f := rootCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "yaml config file")
	f.StringVar(&listenAddr, "listen", "", "listen address (default: the directory's authority entry)")
	f.StringVar(&directoryPath, "directory", "", "node directory file (overrides config)")
	f.Uint64Var(&initialVersion, "initial_version", 1, "starting policy version")
	f.DurationVar(&bumpInterval, "bump_interval", 0, "bump the version periodically; 0 disables")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (config.Authority, error) {
	cfg := config.DefaultAuthority()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadAuthority(configPath); err != nil {
			return cfg, err
		}
	}
	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.Listen = listenAddr
	}
	if f.Changed("directory") {
		cfg.Directory = directoryPath
	}
	if f.Changed("initial_version") {
		cfg.InitialVersion = initialVersion
	}
	if f.Changed("bump_interval") {
		cfg.BumpInterval = bumpInterval
	}
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	zlogger, err := logger.New(cfg.Logger, "authority")
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer zlogger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		nodes   []int
		resolve = func(id int) (string, error) { return "", fmt.Errorf("%w: %d", directory.ErrUnknownNode, id) }
		addr    = cfg.Listen
	)
	if cfg.Directory != "" {
		dir, err := directory.Load(cfg.Directory)
		if err != nil {
			return err
		}
		nodes, resolve = dir.IDs(), dir.Resolve
		if ep, ok := dir.Authority(); ok && addr == "" {
			addr = ep.HostPort()
		}
	}
	if addr == "" {
		return fmt.Errorf("no listen address and no authority entry in %s", cfg.Directory)
	}

	authority := policy.NewLocal(policy.Version(cfg.InitialVersion),
		policy.NewTCPNotifier(resolve, cfg.NotifyTimeout), nodes, zlogger)
	srv := policy.NewServer(authority, zlogger)
	if err := srv.Listen(addr); err != nil {
		return err
	}
	zlogger.Info("Starting policy authority",
		zap.String("addr", addr),
		zap.Uint64("initialVersion", cfg.InitialVersion),
		zap.Duration("bumpInterval", cfg.BumpInterval),
		zap.Ints("nodes", nodes))

	go authority.Run(ctx, cfg.BumpInterval)
	if err := srv.Serve(ctx); err != nil {
		return err
	}
	zlogger.Info("Policy authority shut down gracefully")
	return nil
}
