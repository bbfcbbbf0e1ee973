// cmd/nutriscan/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nutriscan/internal/config"
	"nutriscan/internal/display"
	"nutriscan/internal/logging"
	"nutriscan/internal/notify"
	"nutriscan/internal/scan"
	"nutriscan/internal/server"
	"nutriscan/internal/storage"
)

var (
	configPath string
	logLevel   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "nutriscan",
	Short: "Barcode scanning with nutrition analysis",
	Long: `nutriscan captures a frame from a camera, decodes a barcode from it and
shows the nutrition analysis of the product. Every successful scan is kept
in a newest-first history for the lifetime of the process.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.JSON)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scanner tool server",
	RunE:  runServe,
}

var lookupCmd = &cobra.Command{
	Use:   "lookup [barcode]",
	Short: "Show the nutrition analysis for a barcode without recording it",
	Args:  cobra.ExactArgs(1),
	RunE:  runLookup,
}

var scanCmd = &cobra.Command{
	Use:   "scan [barcode...]",
	Short: "Scan with the camera, or record typed barcodes",
	Long: `Without arguments, scan opens the configured camera, captures one frame
and waits for the simulated decode. With arguments, each barcode is entered
manually. The history is printed at the end.`,
	RunE: runScan,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nutriscan version %s\n", server.Version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	serveCmd.Flags().String("host", "", "Host address (overrides config)")
	serveCmd.Flags().Int("port", 0, "Port for HTTP transport (overrides config)")

	scanCmd.Flags().String("code", "", "Barcode the camera decodes (random digits when empty)")

	rootCmd.AddCommand(serveCmd, lookupCmd, scanCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.Server.Host = host
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Server.Port = port
	}

	l, err := buildLookup(cfg)
	if err != nil {
		return err
	}
	cam, err := buildCamera(cfg, logger)
	if err != nil {
		return err
	}
	delay, err := cfg.ScanDelay()
	if err != nil {
		return err
	}

	srvCfg := &server.Config{
		Host:        cfg.Server.Host,
		Port:        cfg.Server.Port,
		Storage:     cfg.Storage.Backend,
		ScanDelay:   delay,
		Constraints: constraints(cfg),
	}
	srv, err := server.NewScanServer(srvCfg, server.Deps{
		Lookup:   l,
		Device:   cam.device,
		Surface:  cam.surface,
		Notifier: notify.NewLogNotifier(logger),
		Logger:   logger,
		Closers:  cam.closers,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", zap.Error(serveErr))
		}
	}

	logger.Info("shutting down")
	cancel()
	if err := srv.Stop(); err != nil {
		logger.Warn("error during shutdown", zap.Error(err))
	}
	return serveErr
}

func runLookup(cmd *cobra.Command, args []string) error {
	l, err := buildLookup(cfg)
	if err != nil {
		return err
	}
	record, err := l.Lookup(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return display.RenderAnalysis(cmd.OutOrStdout(), record)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	l, err := buildLookup(cfg)
	if err != nil {
		return err
	}
	history, err := storage.New(cfg.Storage.Backend)
	if err != nil {
		return err
	}
	defer history.Close()

	toasts := &notify.Recorder{}
	notifier := notify.Multi{toasts, notify.NewLogNotifier(logger)}
	pipeline := scan.NewPipeline(l, history, display.NewAnalysis(out, display.WithLogger(logger)), notifier, scan.WithLogger(logger))

	if len(args) > 0 {
		for _, code := range args {
			if _, err := pipeline.SubmitManual(ctx, code); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipping %q: %v\n", code, err)
			}
		}
	} else {
		code, _ := cmd.Flags().GetString("code")
		if err := cameraScan(ctx, cfg, pipeline, notifier, code); err != nil {
			printNotifications(cmd, toasts)
			return err
		}
	}

	printNotifications(cmd, toasts)
	scans, err := pipeline.History(ctx)
	if err != nil {
		return err
	}
	return display.RenderHistory(out, scans)
}

func printNotifications(cmd *cobra.Command, toasts *notify.Recorder) {
	for _, n := range toasts.Drain() {
		fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", n.Title, n.Description)
	}
}
