package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	reconcileSources []string
	reconcileOut     string
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Run one reconciliation pass and emit the diff report",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("reconcile"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		sources := reconcileSources
		if len(sources) == 0 {
			sources = activeSources()
		}

		resp, err := env.Pipeline.BuildDiffData(ctx, sources)
		if err != nil {
			return eris.Wrap(err, "build diff data")
		}

		zap.L().Info("reconciliation complete",
			zap.Strings("enabled_sources", resp.EnabledSources),
			zap.Int("canonical_items", len(resp.CanonicalItems)),
		)

		out := os.Stdout
		if reconcileOut != "" {
			f, err := os.Create(reconcileOut)
			if err != nil {
				return eris.Wrapf(err, "create %s", reconcileOut)
			}
			defer f.Close()
			out = f
		}

		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(resp), "encode diff data")
	},
}

func init() {
	reconcileCmd.Flags().StringSliceVar(&reconcileSources, "sources", nil, "provider ids to reconcile (default from config)")
	reconcileCmd.Flags().StringVar(&reconcileOut, "out", "", "write JSON output to file instead of stdout")
	rootCmd.AddCommand(reconcileCmd)
}
