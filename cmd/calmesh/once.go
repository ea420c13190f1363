package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dalbodeule/calmesh/internal/backend"
	"github.com/dalbodeule/calmesh/internal/clock"
	appconfig "github.com/dalbodeule/calmesh/internal/config"
	"github.com/dalbodeule/calmesh/internal/idgen"
	"github.com/dalbodeule/calmesh/internal/meshstate"
	"github.com/dalbodeule/calmesh/internal/reconciler"
)

func newOnceCmd() *cobra.Command {
	var icsSources []string

	cmd := &cobra.Command{
		Use:   "once",
		Short: "Run a single headless reconciliation pass and exit",
		Long: `once loads the stored calendar selection, validates it against the
live backend, and runs exactly one reconciliation pass. It exits with
status 1 if no configuration exists or none of the configured calendars
still resolve, per spec section 6/7.`,
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

			liveCalendars, err := fake.ListCalendars()
			if err != nil {
				return err
			}
			liveIDs := make([]string, 0, len(liveCalendars))
			for _, c := range liveCalendars {
				liveIDs = append(liveIDs, c.ID)
			}
			if err := cfg.ValidateAgainstCalendars(liveIDs); err != nil {
				log.Error("config-invalid", err)
				return err
			}

			store := meshstate.NewStore(p.statePath, p.backupDir, clock.Real, log)
			if err := store.Load(); err != nil {
				log.Error("state-load-failed", err)
				return err
			}

			rec := reconciler.New(fake, store, log, clock.Real, idgen.UUID, calendars)
			if err := rec.Run(); err != nil {
				log.Error("reconcile-failed", err)
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), "reconciliation complete")
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&icsSources, "ics", nil, "id:name:path of an .ics file to expose as a calendar (repeatable)")
	return cmd
}

// backendForConfig builds the writable backend for the configured calendar
// selection, and returns the backend.Calendar values the Reconciler needs.
// The real platform calendar backend is out of scope for this repository
// (spec section 1); backend.Fake seeded from --ics is the stand-in.
func backendForConfig(cfg *appconfig.Config, icsSources []string) (*backend.Fake, []backend.Calendar, error) {
	now := time.Now
	windowStart := now().Add(-30 * 24 * time.Hour)
	windowEnd := now().Add(365 * 24 * time.Hour)

	fake, err := buildFakeFromICS(icsSources, now, windowStart, windowEnd)
	if err != nil {
		return nil, nil, err
	}

	all, err := fake.ListCalendars()
	if err != nil {
		return nil, nil, err
	}
	selected := make(map[string]bool, len(cfg.SelectedCalendarIDs))
	for _, id := range cfg.SelectedCalendarIDs {
		selected[id] = true
	}

	var calendars []backend.Calendar
	for _, c := range all {
		if selected[c.ID] {
			calendars = append(calendars, c)
		}
	}
	return fake, calendars, nil
}
