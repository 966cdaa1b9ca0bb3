package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/config"
	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/nkthebass/XenoCPUUtility-legacy/systeminfo"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

func Execute() error {
	a := newApp()
	return a.execute(context.Background(), newRootCmd(a))
}

// execute runs root and closes the log whether or not the command failed,
// since cobra skips post-run hooks after an error.
func (a *app) execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	return multierr.Append(err, a.close())
}

// app is what every command shares once the root has loaded the configuration.
type app struct {
	configPath string
	hw         systeminfo.HardwareInfo

	v        *viper.Viper
	cfg      config.Config
	settings config.Settings
	logger   *utils.Logger
	sink     utils.LogSink
}

func newApp() *app {
	return &app{hw: systeminfo.NewProvider()}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "xeno",
		Short:         "CPU and memory stress and benchmark tool",
		Long:          "xeno runs timed CPU benchmarks, CPU stress and instability checks, and RAM pattern stress tests.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (json or toml); default searches ./config.* and ~/.xeno/config.*")
	flags.Bool("debug", false, "enable debug logging")
	flags.String("log-file", utils.DefaultLogFile, `log file, "-" to disable`)
	flags.String("socket", config.DefaultSocket, "control socket path")

	rootCmd.AddCommand(
		newBenchCmd(a),
		newStressCmd(a),
		newRunCmd(a),
		newCtlCmd(a),
		newInfoCmd(a),
		newConfigCmd(a),
	)
	return rootCmd
}

// load reads the configuration with cmd's flags layered on top and opens the log.
func (a *app) load(cmd *cobra.Command) error {
	a.v = config.NewViper()
	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || bindErr != nil {
			return
		}
		bindErr = a.v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	if bindErr != nil {
		return fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := config.Load(a.v, a.configPath)
	if err != nil {
		return err
	}
	settings, err := cfg.Parse()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.settings = settings

	logger, err := utils.NewLogger(utils.LogOptions{Debug: settings.Debug, File: settings.LogFile})
	if err != nil {
		return err
	}
	a.logger = logger
	a.sink = utils.NewZapSink(logger.Logger)
	logger.Debug("Configuration loaded", zap.String("file", a.v.ConfigFileUsed()), zap.Any("settings", settings))
	return nil
}

func (a *app) close() error {
	if a.logger == nil {
		return nil
	}
	err := a.logger.Close()
	a.logger = nil
	return err
}

// threads resolves the worker count: the configured value, else every logical core.
func (a *app) threads() int {
	if a.settings.Threads > 0 {
		return a.settings.Threads
	}
	return a.hw.LogicalCoreCount()
}

func (a *app) startOptions() engine.StartOptions {
	s := a.settings
	return engine.StartOptions{
		Duration:        s.Duration,
		PhaseDuration:   s.PhaseDuration,
		PassThrottle:    s.PassThrottle,
		GracePeriod:     s.GracePeriod,
		PinWorkers:      s.Pin,
		RamTypeOverride: s.RamType,
		RamBudgetBytes:  s.RamBudgetBytes,
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func (a *app) signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigch)
		select {
		case sig := <-sigch:
			a.logger.Info("Received signal, shutting down", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// reportProgress logs a snapshot of eng every interval until ctx is done.
func reportProgress(ctx context.Context, eng *engine.Engine, sink utils.LogSink, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := eng.Snapshot()
			if snap.State == engine.Idle {
				return
			}
			utils.Emitf(sink, "Progress: %s", snap)
		}
	}
}
