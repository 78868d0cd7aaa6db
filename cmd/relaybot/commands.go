package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"relaybot/internal/app"
	"relaybot/internal/config"
	"relaybot/internal/storage"
	logx "relaybot/pkg/logx"
)

// version is set with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgPath string

	rootCmd = &cobra.Command{
		Use:           "relaybot",
		Short:         "Telegram support relay between end users and operators",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBot,
	}

	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage migrations and exit",
		RunE:  runMigrate,
	}

	checkCmd = &cobra.Command{
		Use:   "check-config",
		Short: "Validate the config file and print a summary",
		RunE:  runCheck,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./config.yaml", "path to config (yaml or json)")
	rootCmd.AddCommand(migrateCmd, checkCmd, versionCmd)
}

func runBot(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := app.New(ctx, cfgPath)
	if err != nil {
		return err
	}
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return fmt.Errorf("start: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	reason := app.StopUnknown
	select {
	case s := <-sigs:
		reason = app.StopSIGINT
		if s == syscall.SIGTERM {
			reason = app.StopSIGTERM
		}
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	stopErr := a.Stop(stopCtx, reason)
	if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return stopErr
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	log := logx.NewConsole("info").With(logx.String("comp", "migrate"))
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
	defer cancel()
	// Open migrates SQL drivers before returning.
	st, err := storage.Open(ctx, storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, log)
	if err != nil {
		return err
	}
	log.Info("storage up to date", logx.String("driver", cfg.Storage.Driver))
	return st.Close()
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := config.NewConfigManager(cfgPath).Load()
	if err != nil {
		return err
	}
	ttl, err := cfg.Relay.TTL()
	if err != nil {
		return err
	}
	mode := cfg.Relay.Mode()
	driver := cfg.Storage.Driver
	if driver == "" {
		driver = "memory"
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: %s\n", cfgPath)
	fmt.Fprintf(out, "  operators:       %d\n", len(cfg.Telegram.OwnerUserIDs))
	fmt.Fprintf(out, "  default mode:    %s\n", mode)
	fmt.Fprintf(out, "  group chat:      %d\n", cfg.Relay.GroupChatID)
	fmt.Fprintf(out, "  correlation ttl: %s\n", ttl)
	fmt.Fprintf(out, "  prune schedule:  %s\n", cfg.Relay.Schedule())
	fmt.Fprintf(out, "  storage:         %s\n", driver)
	fmt.Fprintf(out, "  ops server:      %t\n", cfg.Ops.Enabled)
	return nil
}
