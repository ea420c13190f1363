package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Inspect the operational log",
	}
	cmd.AddCommand(newLogsDumpCmd())
	return cmd
}

func newLogsDumpCmd() *cobra.Command {
	var format string
	var out string

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Export the operational log, optionally re-encoded as YAML",
		Long: `dump writes the operational log to --out. The on-disk log is always
the JSON-lines shape from spec section 6; --log-format=yaml re-encodes it
as a single YAML document for operators who want a more readable export,
via the same debug affordance as the teacher's own config dump.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("calmesh: --out is required")
			}

			p, err := resolvePaths()
			if err != nil {
				return err
			}
			log := newLogger(p)

			switch format {
			case "yaml":
				return log.DumpYAML(out)
			case "jsonl":
				return copyFile(p.logPath, out)
			default:
				return fmt.Errorf("calmesh: unknown --log-format %q, want jsonl or yaml", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "log-format", "jsonl", "output format: jsonl or yaml")
	cmd.Flags().StringVar(&out, "out", "", "destination file for the exported log")
	return cmd
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	outFile, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer outFile.Close()

	_, err = io.Copy(outFile, in)
	return err
}
