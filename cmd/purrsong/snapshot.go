package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nerrad567/purrsong-bridge/internal/lavviebot"
	"github.com/nerrad567/purrsong-bridge/internal/snapshot"
)

// snapshotOutput is what `purrsong snapshot` prints.
type snapshotOutput struct {
	EntryID   string        `json:"entry_id" yaml:"entry_id"`
	Email     string        `json:"email" yaml:"email"`
	FetchedAt time.Time     `json:"fetched_at" yaml:"fetched_at"`
	Devices   int           `json:"devices" yaml:"devices"`
	Data      snapshot.Data `json:"data" yaml:"data"`
}

func newSnapshotCmd(opts *rootOptions) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "snapshot <entry-id>",
		Short: "Fetch one snapshot for an account and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if format != "yaml" && format != "json" {
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}

			env, err := opts.openEnv(cmd.Context(), cmd)
			if err != nil {
				return err
			}
			defer env.Close() //nolint:errcheck // CLI exit

			e, err := env.repo.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			client := lavviebot.NewClient(e.Credentials(), gatewayOptions(env.cfg))
			defer client.Close() //nolint:errcheck // CLI exit

			snap, err := client.FetchSnapshot(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetching snapshot: %w", err)
			}

			out := snapshotOutput{
				EntryID:   e.ID,
				Email:     e.LoginEmail(),
				FetchedAt: snap.FetchedAt(),
				Devices:   snap.DeviceCount(),
				Data:      snap.Data(),
			}

			w := cmd.OutOrStdout()
			if format == "json" {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			enc := yaml.NewEncoder(w)
			enc.SetIndent(2)
			if err := enc.Encode(out); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format: yaml or json")
	return cmd
}
