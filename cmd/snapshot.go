package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var snapshotForce bool

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage the persisted snapshot of the slow provider",
}

var snapshotSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Resync the snapshot store from the live provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("snapshot"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		state, err := env.Syncer.EnsureFresh(ctx, snapshotForce)
		if err != nil {
			return eris.Wrap(err, "snapshot sync")
		}

		zap.L().Info("snapshot synced",
			zap.Time("last_synced_at", state.LastSyncedAt),
			zap.String("version", state.Version),
			zap.Int("item_count", state.ItemCount),
		)
		return nil
	},
}

var snapshotItemsCmd = &cobra.Command{
	Use:   "items",
	Short: "Resolve and print the snapshotted items without querying other providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("snapshot"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		items, summary, err := env.Syncer.BuildFromStore(ctx, cfg.Resolve.FuzzyThreshold)
		if err != nil {
			return eris.Wrap(err, "snapshot items")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"source": summary,
			"items":  items,
		})
	},
}

var snapshotStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show snapshot sync state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("snapshot"); err != nil {
			return err
		}

		store, err := initSnapshotStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		state, err := store.State(ctx)
		if err != nil {
			return eris.Wrap(err, "read sync state")
		}

		out := map[string]any{"synced": false}
		if state != nil {
			out = map[string]any{
				"synced":         true,
				"last_synced_at": state.LastSyncedAt.UTC().Format(time.RFC3339),
				"version":        state.Version,
				"item_count":     state.ItemCount,
				"age_mins":       int(time.Since(state.LastSyncedAt).Minutes()),
				"stale":          time.Since(state.LastSyncedAt) >= cfg.Snapshot.SyncInterval(),
			}
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	snapshotSyncCmd.Flags().BoolVar(&snapshotForce, "force", false, "resync even if the snapshot is fresh")
	snapshotCmd.AddCommand(snapshotSyncCmd)
	snapshotCmd.AddCommand(snapshotItemsCmd)
	snapshotCmd.AddCommand(snapshotStatusCmd)
	rootCmd.AddCommand(snapshotCmd)
}
