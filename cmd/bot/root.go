package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"predictbot/internal/app"
	"predictbot/internal/config"
)

type rootFlags struct {
	configPath string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "predictbot",
		Short:         "Daily prediction dispatcher for a Telegram chat",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(f.envFiles...)
		},
	}
	rootCmd.PersistentFlags().StringVar(&f.configPath, "config", "./config.json", "path to config (json or yaml)")
	rootCmd.PersistentFlags().StringSliceVar(&f.envFiles, "env", []string{".env"}, "dotenv files to load before reading config")

	rootCmd.AddCommand(newRunCmd(f), newCheckCmd(f))
	return rootCmd
}

func newRunCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot and the daily dispatch trigger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f.configPath)
		},
	}
}

func newCheckCmd(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Print startup diagnostics and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			d, err := app.Diagnose(cmd.Context(), f.configPath, time.Now())
			d.Print(cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("config invalid: %w", err)
			}
			return nil
		},
	}
}

func run(parent context.Context, cfgPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := app.NewApp(cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background(), app.StopFatalError)
		return err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	reason := app.StopUnknown
	select {
	case sig := <-sigs:
		reason = app.ReasonFromSignal(sig)
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx, reason)
	if reason == app.StopFatalError {
		return a.Err()
	}
	return nil
}
