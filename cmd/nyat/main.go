package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/uchouT/nyat/app/batch"
	"github.com/uchouT/nyat/app/config"
	"github.com/uchouT/nyat/app/hooks"
	"github.com/uchouT/nyat/pkg/mapper"
	"github.com/uchouT/nyat/pkg/netx"
)

var (
	stunServer string
	bindAddr   string
	keepalive  uint
	preferV4   bool
	preferV6   bool
	remoteAddr string
	probeCount int
	execCmd    string
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "nyat",
		Short: "Keep NAT mappings open and report the public address",
	}

	runCmd = &cobra.Command{
		Use:   "run {tcp|udp}",
		Short: "Run a single mapping task",
		Args:  cobra.ExactArgs(1),
		RunE:  runSingle,
	}

	batchCmd = &cobra.Command{
		Use:   "batch",
		Short: "Run multiple mapping tasks from a config file",
		RunE:  runBatch,
	}
)

// restartDelay separates restarts after a recoverable failure.
const restartDelay = 5 * time.Second

func init() {
	rootCmd.AddCommand(runCmd, batchCmd)
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace|debug|info|warn|error)")

	runCmd.Flags().StringVarP(&stunServer, "stun", "s", "", "STUN server (ADDR[:PORT], default port 3478)")
	runCmd.Flags().StringVarP(&bindAddr, "bind", "b", "0", "local bind (PORT or ADDR:PORT)")
	runCmd.Flags().UintVarP(&keepalive, "keepalive", "k", 0, "keepalive interval in seconds (tcp: 30, udp: 5)")
	runCmd.Flags().BoolVarP(&preferV4, "ipv4", "4", false, "prefer IPv4 for DNS resolution")
	runCmd.Flags().BoolVarP(&preferV6, "ipv6", "6", false, "prefer IPv6 for DNS resolution")
	runCmd.Flags().StringVarP(&remoteAddr, "remote", "r", "", "HTTP server for keepalive (tcp only, ADDR[:PORT], default port 80)")
	runCmd.Flags().IntVarP(&probeCount, "count", "c", 0, "probe every N keepalive intervals (udp only, default 5)")
	runCmd.Flags().StringVarP(&execCmd, "exec", "e", "", "shell command run on every mapping change")
	runCmd.MarkFlagRequired("stun")
	runCmd.MarkFlagsMutuallyExclusive("ipv4", "ipv6")
	addPlatformFlags(runCmd)

	batchCmd.Flags().StringVarP(&configFile, "config", "c", "", "TOML config file")
	batchCmd.MarkFlagRequired("config")
}

func runSingle(cmd *cobra.Command, args []string) error {
	cfg, err := singleConfig(args[0])
	if err != nil {
		return err
	}
	m, err := cfg.BuildMapper()
	if err != nil {
		return err
	}

	handler := stdoutHandler()
	if cfg.Exec != "" {
		handler = hooks.Chain(handler, hooks.NewExec(cfg.Exec))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		err := m.Run(ctx, handler)
		if ctx.Err() != nil {
			return nil
		}
		if !mapper.Recoverable(err) {
			return err
		}
		logrus.Warnf("%s, retrying in %s", err.Error(), restartDelay)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(restartDelay):
		}
	}
}

func singleConfig(mode string) (*config.RunConfig, error) {
	prefer := netx.PreferNone
	switch {
	case preferV6:
		prefer = netx.PreferIPv6
	case preferV4:
		prefer = netx.PreferIPv4
	}

	bind, err := config.ParseBind(bindAddr, preferV6)
	if err != nil {
		return nil, err
	}
	stun, err := config.ParseServer(stunServer, config.DefaultStunPort, prefer)
	if err != nil {
		return nil, err
	}

	cfg := &config.RunConfig{
		Bind:      bind,
		Stun:      stun,
		Keepalive: time.Duration(keepalive) * time.Second,
		Exec:      execCmd,
	}

	switch config.Mode(mode) {
	case config.ModeTCP:
		if probeCount != 0 {
			return nil, fmt.Errorf("--count is only valid in udp mode")
		}
		if remoteAddr == "" {
			return nil, fmt.Errorf("tcp mode requires --remote")
		}
		remote, err := config.ParseServer(remoteAddr, config.DefaultRemotePort, prefer)
		if err != nil {
			return nil, err
		}
		cfg.Mode = config.ModeTCP
		cfg.Remote = remote
	case config.ModeUDP:
		if remoteAddr != "" {
			return nil, fmt.Errorf("--remote is only valid in tcp mode")
		}
		cfg.Mode = config.ModeUDP
		cfg.Count = probeCount
	default:
		return nil, fmt.Errorf("invalid mode %q: expected tcp or udp", mode)
	}

	if err := applyPlatformFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadBatch(configFile)
	if err != nil {
		return err
	}
	if cfg.LogLevel != "" {
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("log-level: %w", err)
		}
		logrus.SetLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return batch.Run(ctx, cfg, os.Stdout)
}

func stdoutHandler() mapper.MappingHandler {
	return mapper.HandlerFunc(func(info mapper.MappingInfo) {
		fmt.Printf("%s %d %s %d\n",
			info.PubAddr.Addr(), info.PubAddr.Port(),
			info.LocalAddr.Addr(), info.LocalAddr.Port())
	})
}

func main() {
	cobra.OnInitialize(func() {
		lvl, err := logrus.ParseLevel(logLevel)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		logrus.SetLevel(lvl)
	})

	if err := rootCmd.Execute(); err != nil {
		logrus.Error(err.Error())
		os.Exit(1)
	}
}
