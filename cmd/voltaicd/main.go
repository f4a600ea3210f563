// Command voltaicd brings up the reactor-based HTTP server: flag
// parsing, resource-directory discovery, and a signal-driven graceful
// shutdown. CLI surface grounded on the corpus's cobra+pflag convention
// (github.com/spf13/cobra, github.com/spf13/pflag), binding every
// constructor parameter spec.md §6 names.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yourusername/voltaic/internal/asynclog"
	"github.com/yourusername/voltaic/internal/auth"
	"github.com/yourusername/voltaic/internal/config"
	"github.com/yourusername/voltaic/internal/reactor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := config.Default()

	cmd := &cobra.Command{
		Use:   "voltaicd",
		Short: "single-host HTTP/1.1 server on an epoll reactor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cfg)
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&cfg.Port, "port", cfg.Port, "listen port, (1024,65535]")
	flags.IntVar((*int)(&cfg.TrigMode), "trig-mode", int(cfg.TrigMode), "trigger mode 0..3 (bit0: conn ET, bit1: listen ET)")
	flags.IntVar(&cfg.TimeoutMS, "timeout-ms", cfg.TimeoutMS, "idle connection timeout in milliseconds, 0 disables")
	flags.BoolVar(&cfg.OptLinger, "opt-linger", cfg.OptLinger, "enable SO_LINGER{1,1} on the listener")

	flags.StringVar(&cfg.SQL.Host, "sql-host", cfg.SQL.Host, "MySQL host")
	flags.IntVar(&cfg.SQL.Port, "sql-port", cfg.SQL.Port, "MySQL port")
	flags.StringVar(&cfg.SQL.User, "sql-user", cfg.SQL.User, "MySQL user")
	flags.StringVar(&cfg.SQL.Password, "sql-pwd", cfg.SQL.Password, "MySQL password")
	flags.StringVar(&cfg.SQL.DBName, "db-name", cfg.SQL.DBName, "MySQL database name")
	flags.IntVar(&cfg.SQL.ConnPoolSize, "conn-pool-size", cfg.SQL.ConnPoolSize, "MySQL connection pool size")

	flags.IntVar(&cfg.ThreadNum, "thread-num", cfg.ThreadNum, "worker pool size")
	flags.BoolVar(&cfg.OpenLog, "open-log", cfg.OpenLog, "enable async logging")
	flags.IntVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level 0..3 (debug..error)")
	flags.IntVar(&cfg.LogQueueSize, "log-queue-size", cfg.LogQueueSize, "log queue capacity")

	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	if err := resolveResourceDir(&cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var logger *asynclog.Logger
	if cfg.OpenLog {
		l, err := asynclog.Open(asynclog.Level(cfg.LogLevel), "./log", ".log", cfg.LogQueueSize)
		if err != nil {
			return fmt.Errorf("voltaicd: open log: %w", err)
		}
		logger = l
		defer logger.Close()
	}

	backend, err := auth.NewMySQLBackend(cfg.SQL)
	if err != nil {
		return fmt.Errorf("voltaicd: auth backend: %w", err)
	}
	defer backend.Close()

	r, err := reactor.New(cfg, backend, logger)
	if err != nil {
		return fmt.Errorf("voltaicd: start reactor: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	return r.Run(ctx)
}

// resolveResourceDir fills in cfg.ResourceDir as "<cwd>/resources" when
// it isn't already an absolute path, matching the source's
// getcwd()+"/resources/" discovery in WebServer's constructor.
func resolveResourceDir(cfg *config.Config) error {
	if filepath.IsAbs(cfg.ResourceDir) {
		return nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("voltaicd: getwd: %w", err)
	}
	cfg.ResourceDir = filepath.Join(cwd, cfg.ResourceDir)
	return nil
}
