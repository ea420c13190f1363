package main

import (
	"context"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/dalbodeule/calmesh/internal/clock"
	"github.com/dalbodeule/calmesh/internal/idgen"
	"github.com/dalbodeule/calmesh/internal/meshstate"
	"github.com/dalbodeule/calmesh/internal/reconciler"
)

func newRunCmd() *cobra.Command {
	var icsSources []string
	var schedule string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run reconciliation on a recurring schedule until interrupted",
		Long: `run loads the stored calendar selection once, then reconciles it on
the given cron schedule (default every 15 minutes, matching spec section
5's operating cadence) until SIGINT or SIGTERM. Ticks never overlap: if a
pass is still running when the next tick fires, the tick is skipped and
logged rather than run concurrently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := resolvePaths()
			if err != nil {
				return err
			}
			log := newLogger(p)

			cfg, err := loadOrRequireConfig(p, log)
			if err != nil {
				return err
			}

			fake, calendars, err := backendForConfig(cfg, icsSources)
			if err != nil {
				log.Error("backend-init-failed", err)
				return err
			}

			store := meshstate.NewStore(p.statePath, p.backupDir, clock.Real, log)
			if err := store.Load(); err != nil {
				log.Error("state-load-failed", err)
				return err
			}

			rec := reconciler.New(fake, store, log, clock.Real, idgen.UUID, calendars)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				log.Info("signal-received", "signal", sig.String())
				cancel()
			}()

			var running int32
			c := cron.New()
			_, err = c.AddFunc(schedule, func() {
				if !atomic.CompareAndSwapInt32(&running, 0, 1) {
					log.Warn("tick-skipped-overlap")
					return
				}
				defer atomic.StoreInt32(&running, 0)

				log.Info("reconcile-start")
				if err := rec.Run(); err != nil {
					log.Error("reconcile-failed", err)
					return
				}
				log.Info("reconcile-complete")
			})
			if err != nil {
				return err
			}

			c.Start()
			log.Info("scheduler-started", "schedule", schedule)

			<-ctx.Done()
			stopCtx := c.Stop()
			<-stopCtx.Done()
			log.Info("scheduler-stopped")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&icsSources, "ics", nil, "id:name:path of an .ics file to expose as a calendar (repeatable)")
	cmd.Flags().StringVar(&schedule, "schedule", "@every 15m", "cron schedule for reconciliation passes")
	return cmd
}
