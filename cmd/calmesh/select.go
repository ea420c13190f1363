package main

import (
	"bufio"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appconfig "github.com/dalbodeule/calmesh/internal/config"
)

func newSelectCmd() *cobra.Command {
	var icsSources []string

	cmd := &cobra.Command{
		Use:   "select",
		Short: "Interactively choose which calendars to keep in mesh agreement",
		Long: `select prints the writable calendars the backend currently reports,
reads a comma-separated list of indices from stdin, and persists the
selection to config.json. At least two calendars must be selected. This is
the interactive first-run flow described in spec section 6.`,
		RunE: func(cmd *cobra.Command, args []string) error {
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
			if len(calendars) == 0 {
				return fmt.Errorf("calmesh: no calendars available; pass --ics id:name:path at least twice")
			}
			sort.Slice(calendars, func(i, j int) bool { return calendars[i].ID < calendars[j].ID })

			fmt.Fprintln(cmd.OutOrStdout(), "Available calendars:")
			for i, c := range calendars {
				fmt.Fprintf(cmd.OutOrStdout(), "  [%d] %s (%s)\n", i+1, c.Name, c.ID)
			}
			fmt.Fprint(cmd.OutOrStdout(), "Select at least two, comma-separated (e.g. 1,3): ")

			reader := bufio.NewReader(cmd.InOrStdin())
			line, _ := reader.ReadString('\n')

			indices, err := parseIndexList(line, len(calendars))
			if err != nil {
				return err
			}
			if len(indices) < 2 {
				return fmt.Errorf("calmesh: at least two calendars must be selected")
			}

			ids := make([]string, 0, len(indices))
			for _, idx := range indices {
				ids = append(ids, calendars[idx-1].ID)
			}

			cfg := &appconfig.Config{SelectedCalendarIDs: ids}
			if err := appconfig.Save(p.configPath, cfg); err != nil {
				log.Error("config-save-failed", err, "config_path", p.configPath)
				return err
			}
			log.Info("config-saved", "config_path", p.configPath, "calendar_count", len(ids))
			fmt.Fprintf(cmd.OutOrStdout(), "Saved selection of %d calendars to %s\n", len(ids), p.configPath)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&icsSources, "ics", nil, "id:name:path of an .ics file to expose as a calendar (repeatable)")
	return cmd
}

func parseIndexList(line string, max int) ([]int, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("calmesh: no selection provided")
	}

	seen := make(map[int]bool)
	var out []int
	for _, part := range strings.Split(line, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("calmesh: invalid selection %q", part)
		}
		if n < 1 || n > max {
			return nil, fmt.Errorf("calmesh: selection %d out of range 1..%d", n, max)
		}
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out, nil
}
