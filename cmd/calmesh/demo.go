package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/dalbodeule/calmesh/internal/clock"
	"github.com/dalbodeule/calmesh/internal/idgen"
	"github.com/dalbodeule/calmesh/internal/meshstate"
	"github.com/dalbodeule/calmesh/internal/reconciler"
)

func newDemoCmd() *cobra.Command {
	var icsSources []string

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run one reconciliation pass against local .ics files and print the result",
		Long: `demo seeds an in-memory backend from one or more --ics files, runs a
single reconciliation pass against a throwaway state file, and prints the
resulting mesh state. It never touches ~/.calendarsync/config.json,
making it safe to run without prior calendar selection.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(icsSources) < 2 {
				return fmt.Errorf("calmesh: demo needs at least two --ics sources")
			}

			p, err := resolvePaths()
			if err != nil {
				return err
			}
			log := newLogger(p)

			now := time.Now
			windowStart := now().Add(-30 * 24 * time.Hour)
			windowEnd := now().Add(365 * 24 * time.Hour)

			fake, err := buildFakeFromICS(icsSources, now, windowStart, windowEnd)
			if err != nil {
				return err
			}

			calendars, err := fake.ListCalendars()
			if err != nil {
				return err
			}

			statePath := p.root + "/demo_state.json"
			backupDir := p.root + "/demo_backups"
			store := meshstate.NewStore(statePath, backupDir, clock.Real, log)
			if err := store.Load(); err != nil {
				return err
			}

			rec := reconciler.New(fake, store, log, clock.Real, idgen.UUID, calendars)
			if err := rec.Run(); err != nil {
				return err
			}

			groups := store.Groups()
			sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })

			fmt.Fprintf(cmd.OutOrStdout(), "%d sync groups after reconciliation:\n", len(groups))
			for _, g := range groups {
				src := "none"
				if g.HasSource() {
					src = fmt.Sprintf("%s/%s", *g.SourceCalendarID, *g.SourceEventID)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "  group %s (source: %s)\n", g.ID, src)
				for _, ref := range g.References {
					status := "live"
					if ref.IsDeleted {
						status = "tombstoned"
					}
					fmt.Fprintf(cmd.OutOrStdout(), "    - %s/%s [%s]\n", ref.CalendarID, ref.EventID, status)
				}
			}

			return nil
		},
	}

	cmd.Flags().StringArrayVar(&icsSources, "ics", nil, "id:name:path of an .ics file to expose as a calendar (repeatable, at least 2 required)")
	return cmd
}
