package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/schedadmin/schedadmin/internal/backend"
	"github.com/schedadmin/schedadmin/internal/config"
	"github.com/schedadmin/schedadmin/internal/health"
	"github.com/schedadmin/schedadmin/internal/metrics"
	"github.com/schedadmin/schedadmin/internal/session"
	"github.com/schedadmin/schedadmin/internal/sheet"
	"github.com/schedadmin/schedadmin/internal/web"
	"github.com/schedadmin/schedadmin/internal/workbook"
)

const (
	shutdownTimeout = 30 * time.Second
	reapInterval    = 5 * time.Minute
)

var (
	configPath string
	envFile    string
	debug      bool
	sheetType  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "schedadmin",
		Short: "Web admin for monthly schedule sheets",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetLogLoggerLevel(slog.LevelDebug)
			}
			// Variables from the file fill in ${VAR} references in the config.
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
			return nil
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/schedadmin.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web UI",
		Args:  cobra.NoArgs,
		RunE:  serve,
	}

	checkCmd := &cobra.Command{
		Use:   "check-import FILE.xlsx",
		Short: "Check that a workbook has the headers an import expects",
		Args:  cobra.ExactArgs(1),
		RunE:  checkImport,
	}
	checkCmd.Flags().StringVarP(&sheetType, "sheet-type", "t", "", "sheet type whose headers are expected (default: the configured default type)")

	rootCmd.AddCommand(serveCmd, checkCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, args []string) error {
	slog.Info("schedadmin starting...")

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	slog.Info("configuration loaded",
		"path", configPath,
		"backend", cfg.Backend.BaseURL,
		"sheet_types", len(cfg.Sheets.Types),
		"session", cfg.Session.Redacted())

	m := metrics.New()

	client, err := backend.New(cfg.Backend.BaseURL, cfg.Backend.Timeout, m)
	if err != nil {
		return err
	}

	sessions, err := session.NewStore(cfg.Session, m)
	if err != nil {
		return err
	}
	sessions.StartReaper(reapInterval)

	hc := health.NewChecker(client, cfg.Backend.HealthPath, m, cfg.HealthCheck)
	hc.Start()

	srv := web.NewServer(client, sessions, hc, m, cfg)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("starting web server: %w", err)
	}

	// Set up config hot-reload
	configWatcher, err := config.NewWatcher(configPath, func(newCfg *config.Config) {
		slog.Info("reloading configuration...")
		srv.Reload(newCfg)
	})
	if err != nil {
		slog.Warn("config hot-reload not available", "err", err)
	}

	if !cfg.Server.WritesAllowed() {
		slog.Warn("modifications are disabled by configuration")
	}
	slog.Info("schedadmin ready", "bind", cfg.Listen.Bind, "port", cfg.Listen.Port)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("received signal, shutting down...", "signal", sig)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		if configWatcher != nil {
			configWatcher.Stop()
		}
		if err := srv.Stop(ctx); err != nil {
			slog.Error("web server shutdown", "err", err)
		}
		hc.Stop()
		sessions.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("schedadmin stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timed out after %s", shutdownTimeout)
	}
}

// checkImport runs the upload preflight against a local workbook.
func checkImport(cmd *cobra.Command, args []string) error {
	var cat *sheet.Catalog
	cfg, err := config.Load(configPath)
	switch {
	case err == nil:
		cat = sheet.NewCatalog(cfg.Sheets)
	case errors.Is(err, fs.ErrNotExist):
		cat = sheet.DefaultCatalog()
	default:
		return err
	}

	st := sheetType
	if st == "" {
		st = cat.Defaults().SheetType
	}
	if cat.Validate(sheet.Criteria{SheetType: st, Month: "01", Year: cat.Defaults().Year}) != nil {
		return fmt.Errorf("unknown sheet type %q (known: %v)", st, cat.SheetTypes())
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	rep, err := workbook.Check(f, cat.HeadersFor(st))
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: ok\n", args[0])
	fmt.Fprintf(out, "  sheet:      %s\n", rep.Sheet)
	fmt.Fprintf(out, "  header row: %d\n", rep.HeaderRow)
	fmt.Fprintf(out, "  columns:    %d\n", len(rep.Headers))
	fmt.Fprintf(out, "  data rows:  %d\n", rep.DataRows)
	return nil
}
