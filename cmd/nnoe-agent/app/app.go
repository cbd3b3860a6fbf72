// Package app wires the agent's cobra commands (spec §6's CLI:
// `run`/`validate`/`version`, global `--config`/`--debug` flags) to the
// component constructors in internal/ and plugins/. Grounded on
// zicongmei-gke-mcp's cmd/root.go (package-level cobra.Command vars, an
// Execute() entrypoint called once from main) and spec §4.11's startup
// order directly.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	rtdebug "runtime/debug"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	v1alpha1 "github.com/nnoe/node-agent/internal/apis/config/v1alpha1"
	"github.com/nnoe/node-agent/internal/cache"
	"github.com/nnoe/node-agent/internal/config"
	"github.com/nnoe/node-agent/internal/dbus"
	"github.com/nnoe/node-agent/internal/ha"
	"github.com/nnoe/node-agent/internal/httpapi"
	"github.com/nnoe/node-agent/internal/kvdb"
	"github.com/nnoe/node-agent/internal/log"
	"github.com/nnoe/node-agent/internal/metrics"
	"github.com/nnoe/node-agent/internal/orchestrator"
	"github.com/nnoe/node-agent/internal/plugin"
	"github.com/nnoe/node-agent/internal/process"
	"github.com/nnoe/node-agent/plugins/auditor"
	"github.com/nnoe/node-agent/plugins/dhcp"
	"github.com/nnoe/node-agent/plugins/dns"
	"github.com/nnoe/node-agent/plugins/filter"
	"github.com/nnoe/node-agent/plugins/pdp"
)

// version is overridden at build time via -ldflags, falling back to
// build-info when unset, the same pattern zicongmei-gke-mcp's root.go
// uses.
var version = "dev"

var (
	configPath string
	debugLog   bool

	rootCmd = &cobra.Command{
		Use:   "nnoe-agent",
		Short: "NNOE node agent: reconciles local network daemons against the KVDB",
	}

	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the agent (default command)",
		RunE:  runRun,
	}

	validateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Parse and validate the configuration file, then exit",
		RunE:  runValidate,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		RunE:  runVersion,
	}
)

func init() {
	if bi, ok := rtdebug.ReadBuildInfo(); ok && version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		version = bi.Main.Version
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/nnoe/agent.yaml", "path to the agent configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd, validateCmd, versionCmd)
	rootCmd.RunE = runRun // `nnoe-agent` with no subcommand behaves like `nnoe-agent run`
}

// Execute runs the root command. Exit codes follow spec §6: 0 on clean
// or signal-initiated shutdown, non-zero on unrecoverable startup
// failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runVersion(cmd *cobra.Command, args []string) error {
	fmt.Fprintln(cmd.OutOrStdout(), version)
	return nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	if _, err := config.Load(configPath); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "configuration is valid")
	return nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := log.New(debugLog)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return runAgent(ctx, cfg, logger)
}

// runAgent performs spec §4.11's startup order, runs every background
// loop in an errgroup bound to ctx, and returns once shutdown completes
// (triggered by ctx cancellation — a received signal, or a failure from
// any member of the group).
func runAgent(ctx context.Context, cfg *v1alpha1.Config, logger logr.Logger) error {
	m := metrics.New()

	c, err := cache.Open(cfg.Cache.Path, int64(cfg.Cache.MaxSizeMB)<<20, time.Duration(cfg.Cache.DefaultTTLSecs)*time.Second, logger)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer c.Close()

	kv, err := kvdb.New(cfg.KVDB, logger)
	if err != nil {
		return fmt.Errorf("constructing kvdb client: %w", err)
	}
	defer kv.Close()
	m.KVDBConnected.Set(1)

	fsys := afero.NewOsFs()
	registry := plugin.NewRegistry()
	var vpnSup *process.Supervisor
	var haCoord *ha.Coordinator
	var auditDriver *auditor.Driver
	var dhcpDriver *dhcp.Driver
	var dnsDriver *dns.Driver

	if cfg.Node.Role != v1alpha1.RoleDBOnly {
		if cfg.VPN.Enabled {
			vpnSup = process.New(process.Spec{
				Name:       "vpn",
				BinaryPath: cfg.VPN.BinaryPath,
				Args:       []string{"-config", cfg.VPN.ConfigPath},
			}, logger)
		}

		var db dbus.Dbus
		if cfg.Services.DNS.Enabled || cfg.Services.Filter.Enabled {
			db, err = dbus.New(ctx)
			if err != nil {
				return fmt.Errorf("connecting to system dbus: %w", err)
			}
		}

		if cfg.Services.DNS.Enabled {
			dnsDriver = dns.New(cfg.Services.DNS, fsys, db, m, logger)
			registry.Register(dnsDriver)
		}
		if cfg.Services.DHCP.Enabled {
			dhcpDriver = dhcp.New(cfg.Services.DHCP, cfg.KVDB.Prefix, fsys, kv, m, logger)
			registry.Register(dhcpDriver)
			if cfg.Services.DHCP.HAPairID != "" && cfg.Services.DHCP.PeerNode != "" {
				haCoord = ha.New(cfg.KVDB.Prefix, cfg.Services.DHCP.HAPairID, cfg.Node.Name,
					cfg.Services.DHCP.PeerNode, cfg.Services.DHCP.SharedAddress,
					time.Duration(cfg.Services.DHCP.ProbeIntervalSecs)*time.Second,
					kv, dhcpDriver, m, logger, nil)
			}
		}
		if cfg.Services.Filter.Enabled {
			registry.Register(filter.New(cfg.Services.Filter, fsys, db, m, logger))
		}
		if cfg.Services.PDP.Enabled {
			registry.Register(pdp.NewDriver(pdp.New(cfg.Services.PDP, logger)))
		}
		if cfg.Services.Audit.Enabled {
			auditDriver = auditor.New(cfg.Services.Audit, cfg.Node.Name, cfg.KVDB.Prefix, fsys, kv, logger)
			registry.Register(auditDriver)
		}
	}

	orch := orchestrator.New(cfg, kv, c, m, registry, vpnSup, logger)
	httpSrv := httpapi.New(cfg.HTTP, m, registry, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error {
		if err := httpSrv.Run(gctx); err != nil {
			logger.Error(err, "http api stopped")
		}
		return nil
	})

	if haCoord != nil {
		g.Go(func() error { haCoord.Run(gctx); return nil })
	}
	if auditDriver != nil {
		g.Go(func() error { auditDriver.Run(gctx); return nil })
	}
	if dhcpDriver != nil {
		g.Go(func() error {
			dhcpDriver.RunLeaseMetricsLoop(gctx, 30*time.Second)
			return nil
		})
	}
	if dnsDriver != nil {
		g.Go(func() error {
			runKeySweepLoop(gctx, dnsDriver, time.Hour)
			return nil
		})
	}

	return g.Wait()
}

// runKeySweepLoop periodically removes retired DNS signing keys whose
// grace period has elapsed, by calling dns.Driver.SweepRetiredKeys on
// every tick.
func runKeySweepLoop(ctx context.Context, d *dns.Driver, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			d.SweepRetiredKeys()
		case <-ctx.Done():
			return
		}
	}
}
