package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"kwork/internal/app"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the work queue host until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfgPath, _ := cmd.Flags().GetString("config")
			stopTimeout, _ := cmd.Flags().GetDuration("stop-timeout")

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.NewApp(cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
				defer scancel()
				_ = a.Stop(sctx, app.StopFatalError)
				return err
			}

			select {
			case <-ctx.Done():
			case <-a.Done():
			}
			reason := app.StopSignal
			if ctx.Err() == nil {
				reason = app.StopFatalError
			}

			sctx, scancel := context.WithTimeout(context.Background(), stopTimeout)
			defer scancel()
			stopErr := a.Stop(sctx, reason)
			if err := a.Err(); err != nil {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().String("config", "./kworkd.yaml", "path to config file (json or yaml)")
	cmd.Flags().Duration("stop-timeout", 10*time.Second, "upper bound for graceful shutdown")
	return cmd
}
