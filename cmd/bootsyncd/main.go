package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/schaermu/bootsyncd/internal/activation"
	"github.com/schaermu/bootsyncd/internal/config"
	"github.com/schaermu/bootsyncd/internal/metrics"
	"github.com/schaermu/bootsyncd/internal/netsvc"
	"github.com/schaermu/bootsyncd/internal/pxegen"
	"github.com/schaermu/bootsyncd/internal/reconcile"
	"github.com/schaermu/bootsyncd/internal/rsyncgen"
	"github.com/schaermu/bootsyncd/internal/server"
	"github.com/schaermu/bootsyncd/internal/store"
	"github.com/schaermu/bootsyncd/internal/sync"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/schaermu/bootsyncd/internal/trigger"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "bootsyncd",
	Short: "Synchronize network-boot trees with a declarative object model",
	Long: `bootsyncd reconciles distros, profiles, systems, repos and images kept in a
store directory against the deployed boot-service tree (pxelinux entries, kernels,
initrds, boot images), the web mirroring root, the rsync daemon configuration and,
optionally, DHCP and DNS service files.

It can run as a oneshot sync (via systemd timer or from a hook) or as a long-running
daemon that syncs on HTTP requests and store changes.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Perform a one-time sync",
	Long: `Sync runs the pre-sync triggers, re-reads the object model, cleans the web and
boot trees, copies bootloaders, kernels, initrds and images, writes per-host boot
entries, regenerates DHCP/DNS files when managed, renders the rsync configuration,
builds the boot menu and finally runs the post-sync and change triggers.

The first failing phase aborts the run. Re-running converges.`,
	RunE: runSync,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the sync server",
	Long: `Serve performs an initial sync and then listens for POST /sync requests
(optionally HMAC signed) and store changes, running at most one sync at a time.
It exposes /healthz and /metrics and supports systemd socket activation.`,
	RunE: runServe,
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration, object model and templates",
	RunE:  runCheck,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printVersion(cmd.OutOrStdout())
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/bootsyncd/config.yaml, then /etc/bootsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(versionCmd)
}

func printVersion(w io.Writer) {
	_, _ = fmt.Fprintf(w, "bootsyncd %s\n", version)
	_, _ = fmt.Fprintf(w, "  commit: %s\n", commit)
	_, _ = fmt.Fprintf(w, "  built:  %s\n", date)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine := newEngine(cfg, afero.NewOsFs(), logger, sync.Options{DryRun: dryRun}, nil)

	if _, err := engine.Run(ctx); err != nil {
		logger.Error("sync failed", "error", err)
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	fs := afero.NewOsFs()
	m := metrics.New()
	engine := newEngine(cfg, fs, logger, sync.Options{}, m)
	st := store.NewDirStore(fs, cfg.Paths.StoreDir)

	srv, err := server.NewServer(cfg, engine, m.Handler(), st.WatchDirs(), logger)
	if err != nil {
		return err
	}

	ln, err := activation.Listener(cfg.Serve.ListenAddr)
	if err != nil {
		return err
	}

	return srv.Start(ctx, ln)
}

func runCheck(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := check(cfg, afero.NewOsFs()); err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			for _, e := range merr.Errors {
				logger.Error("check failed", "error", e)
			}
			return fmt.Errorf("%d problem(s) found", len(merr.Errors))
		}
		return err
	}

	logger.Info("configuration and object model are valid")
	return nil
}

// check validates the object model and that every template the next sync
// needs is readable
func check(cfg *config.Config, fs afero.Fs) error {
	st := store.NewDirStore(fs, cfg.Paths.StoreDir)

	var result *multierror.Error
	if err := store.Check(st); err != nil {
		var merr *multierror.Error
		if errors.As(err, &merr) {
			result = multierror.Append(result, merr.Errors...)
		} else {
			result = multierror.Append(result, err)
		}
	}

	templates := []string{
		cfg.RsyncTemplatePath(),
		cfg.TemplatePath(config.PXESystemTemplateName),
		cfg.TemplatePath(config.PXELocalTemplateName),
		cfg.TemplatePath(config.PXEMenuTemplateName),
	}
	if settings, err := st.Settings(); err == nil {
		if settings.ManageDHCP {
			templates = append(templates, cfg.TemplatePath(cfg.DHCP.Template))
		}
		if settings.ManageDNS {
			templates = append(templates, cfg.TemplatePath(cfg.DNS.Template))
		}
		if ok, _ := afero.DirExists(fs, settings.TFTPBoot); !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %s", sync.ErrBootRootMissing, settings.TFTPBoot))
		}
	}
	for _, path := range templates {
		if _, err := afero.ReadFile(fs, path); err != nil {
			result = multierror.Append(result, fmt.Errorf("template %s: %w", path, err))
		}
	}

	for _, path := range cfg.Bootloaders {
		if ok, _ := afero.Exists(fs, path); !ok {
			result = multierror.Append(result, fmt.Errorf("bootloader %s does not exist", path))
		}
	}

	return result.ErrorOrNil()
}

// newEngine wires the sync engine and its collaborators
func newEngine(cfg *config.Config, fs afero.Fs, logger *slog.Logger, opts sync.Options, recorder sync.Recorder) *sync.Engine {
	renderer := templar.New(fs)

	deps := sync.Deps{
		FS:         fs,
		Store:      store.NewDirStore(fs, cfg.Paths.StoreDir),
		Triggers:   trigger.NewExecRunner(logger, cfg.Triggers.Timeout),
		Reconciler: reconcile.New(fs, reconcile.DefaultPolicy(), logger),
		Boot: pxegen.NewTemplateGenerator(fs, renderer, cfg.Bootloaders, pxegen.Templates{
			System: cfg.TemplatePath(config.PXESystemTemplateName),
			Local:  cfg.TemplatePath(config.PXELocalTemplateName),
			Menu:   cfg.TemplatePath(config.PXEMenuTemplateName),
		}, logger),
		DHCP: netsvc.NewDHCP(fs, renderer, netsvc.DHCPFiles{
			Template: cfg.TemplatePath(cfg.DHCP.Template),
			Config:   cfg.DHCP.Config,
			Ethers:   cfg.DHCP.Ethers,
		}, logger),
		DNS: netsvc.NewDNS(fs, renderer, netsvc.DNSFiles{
			Template: cfg.TemplatePath(cfg.DNS.Template),
			Config:   cfg.DNS.Config,
			Hosts:    cfg.DNS.Hosts,
		}, logger),
		Mirror:   rsyncgen.NewGenerator(fs, renderer, cfg.RsyncTemplatePath(), cfg.Paths.RsyncConfig, logger),
		Recorder: recorder,
	}

	return sync.NewEngine(cfg, deps, logger, opts)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	configPath := cfgFile
	if configPath == "" {
		configPath = config.DefaultPath()
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"store_dir", cfg.Paths.StoreDir,
		"trigger_dir", cfg.Paths.TriggerDir,
		"template_dir", cfg.Paths.TemplateDir,
		"rsync_config", cfg.Paths.RsyncConfig)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
