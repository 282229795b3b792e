package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"sigs.k8s.io/yaml"

	"github.com/lutraconsulting/gdbsync/pkg/config"
	"github.com/lutraconsulting/gdbsync/pkg/notify"
	"github.com/lutraconsulting/gdbsync/pkg/orchestrator"
	"github.com/lutraconsulting/gdbsync/pkg/synclog"
)

// cliFlags mirrors dbsync_daemon.py's argparse flags, plus the
// --test-notification-email and --show-config flags the original lacks.
type cliFlags struct {
	skipInit              bool
	singleRun             bool
	forceInit             bool
	logFile               string
	logVerbosity          string
	testNotificationEmail bool
	showConfig            bool
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	cmd := &cobra.Command{
		Use:     "dbsyncd [config_file]",
		Short:   "Synchronization tool between a project store project and a database",
		Long:    "dbsyncd keeps a PostGIS database schema and a Mergin Maps style project in sync via a geodiff-based three-way reconciliation engine.",
		Args:    cobra.MaximumNArgs(1),
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			configFile := "config.yaml"
			if len(args) > 0 {
				configFile = args[0]
			}
			return run(cmd.Context(), configFile, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.skipInit, "skip-init", false,
		"Skip the init step to start faster. Not recommended unless you are sure the initial sanity checks can be skipped.")
	cmd.Flags().BoolVar(&flags.singleRun, "single-run", false,
		"Run just once performing a single pull and push, instead of running in an infinite loop.")
	cmd.Flags().BoolVar(&flags.forceInit, "force-init", false,
		"Force removing the working directory and schemas from the database to initialize from scratch.")
	cmd.Flags().StringVar(&flags.logFile, "log-file", "", "Also write logging output to this file.")
	cmd.Flags().StringVar(&flags.logVerbosity, "log-verbosity", "messages", `Log verbosity: "messages" or "errors".`)
	cmd.Flags().BoolVar(&flags.testNotificationEmail, "test-notification-email", false,
		"Send a one-off test notification email using the configured SMTP settings, then exit.")
	cmd.Flags().BoolVar(&flags.showConfig, "show-config", false,
		"Print the fully merged and validated configuration (with passwords redacted), then exit.")

	return cmd
}

func run(ctx context.Context, configFile string, flags cliFlags) error {
	logLevel := synclog.LevelInfo
	if flags.logVerbosity == "messages" {
		logLevel = synclog.LevelDebug
	}
	out := io.Writer(os.Stdout)
	if flags.logFile != "" {
		f, err := os.OpenFile(flags.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file %q: %w", flags.logFile, err)
		}
		defer f.Close()
		out = io.MultiWriter(os.Stdout, f)
	}
	log := synclog.New(out, logLevel)
	log.Debug(fmt.Sprintf("== starting dbsyncd == version %s ==", version))

	cfg, err := config.Load(configFile)
	if err != nil {
		log.Error("loading configuration", "error", err)
		return err
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}

	if flags.showConfig {
		return printRedactedConfig(*cfg)
	}

	if cfg.Mergin.Password == "" {
		password, err := promptPassword(cfg.Mergin.Username)
		if err != nil {
			return err
		}
		cfg.Mergin.Password = password
	}

	if flags.testNotificationEmail {
		return sendTestNotification(*cfg)
	}

	opts := orchestrator.Options{
		SkipInit:  flags.skipInit,
		SingleRun: flags.singleRun,
		ForceInit: flags.forceInit,
	}
	return orchestrator.Run(ctx, cfg, opts, log)
}

// promptPassword asks for the project-store password on the controlling
// TTY, ported from dbsync.py's _check_has_password (getpass.getpass).
func promptPassword(username string) (string, error) {
	fmt.Fprintf(os.Stderr, "Password for %q: ", username)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(password), nil
}

func printRedactedConfig(cfg config.Config) error {
	body, err := yaml.Marshal(cfg.Redacted())
	if err != nil {
		return fmt.Errorf("rendering configuration: %w", err)
	}
	_, err = os.Stdout.Write(body)
	return err
}

func sendTestNotification(cfg config.Config) error {
	if cfg.Notification == nil {
		return fmt.Errorf("no `notification` block is configured; nothing to test")
	}
	n := notify.New(*cfg.Notification)
	if err := n.SendTest(); err != nil {
		return fmt.Errorf("sending test notification: %w", err)
	}
	fmt.Fprintln(os.Stdout, "test notification sent")
	return nil
}
