package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set by build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "examai: %v\n", err)
		return exitCode(err, ExitConfigError)
	}
	return ExitSuccess
}

// app carries state shared by every subcommand.
type app struct {
	configPath string
	config     *Config
	logger     *slog.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "examai",
		Short:         "Exam paper generation backend",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to config file")

	root.AddCommand(
		a.serveCommand(),
		a.workerCommand(),
		a.imageCommand(),
		a.versionCommand(),
	)
	return root
}

func (a *app) load() error {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		return &ServerError{Op: "LoadConfig", Err: err, ExitCode: ExitConfigError}
	}
	a.config = cfg
	a.logger = SetupLogger(cfg)
	return nil
}

func (a *app) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API on $PORT",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a.logger.Info("starting examai",
				"version", Version,
				"config", a.configPath,
			)

			server, err := NewServer(cmd.Context(), a.config, a.logger)
			if err != nil {
				a.logger.Error("failed to create server", "error", err)
				return err
			}
			if err := server.Start(cmd.Context()); err != nil {
				a.logger.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}
}

func (a *app) workerCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process queued upload jobs without serving HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			d, err := OpenDeps(ctx, a.config, a.logger)
			if err != nil {
				a.logger.Error("failed to open dependencies", "error", err)
				return err
			}
			defer d.Close(a.logger)

			runner := NewJobRunner(a.config, d, a.logger)
			runner.Start()
			a.logger.Info("worker started", "version", Version)

			<-ctx.Done()
			a.logger.Info("received shutdown signal")
			runner.Stop()
			return nil
		},
	}
}

func (a *app) versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "examai %s (built %s)\n", Version, BuildTime)
			return nil
		},
	}
}
