// Command calmesh is the local, periodically executed mesh calendar
// synchronizer described by this repository. The select subcommand picks
// calendars interactively and saves the selection; once and run reconcile
// headlessly against the saved selection and exit with an error when none
// has been saved, without falling back to an interactive prompt.
package main

import (
	"os"

	"github.com/spf13/cobra"

	appconfig "github.com/dalbodeule/calmesh/internal/config"
	"github.com/dalbodeule/calmesh/internal/synclog"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// paths bundles the on-disk locations described in spec section 6, all
// rooted at ~/.calendarsync/.
type paths struct {
	root       string
	statePath  string
	backupDir  string
	configPath string
	logPath    string
}

func resolvePaths() (paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return paths{}, err
	}
	root := home + "/.calendarsync"
	return paths{
		root:       root,
		statePath:  root + "/calendar_state.json",
		backupDir:  root + "/backups",
		configPath: root + "/config.json",
		logPath:    root + "/logs/calmesh.log",
	}, nil
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calmesh",
		Short: "Keep a mesh of calendars in bidirectional agreement",
		Long: `calmesh reconciles a user-selected set of calendars so that every
tracked event is materialized once in every participating calendar, with
one calendar holding the authoritative copy and the rest holding derived
copies.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(newSelectCmd())
	cmd.AddCommand(newOnceCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newDemoCmd())
	cmd.AddCommand(newLogsCmd())

	return cmd
}

func newLogger(p paths) *synclog.Logger {
	return synclog.New(os.Stderr, p.logPath)
}

func loadOrRequireConfig(p paths, log *synclog.Logger) (*appconfig.Config, error) {
	if !appconfig.Exists(p.configPath) {
		log.Error("no-config", nil, "config_path", p.configPath)
		return nil, errNoConfig
	}
	cfg, err := appconfig.Load(p.configPath)
	if err != nil {
		log.Error("config-load-failed", err, "config_path", p.configPath)
		return nil, err
	}
	return cfg, nil
}
