package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arc-tools/reconcile-cli/internal/memo"
	"github.com/arc-tools/reconcile-cli/internal/model"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve reconciliation results over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		cache := memo.New[*model.DiffDataResponse]()
		mux := buildMux(env, cache, activeSources(), cfg.Cache.TTL())

		return startServer(ctx, mux, resolvePort(servePort, cfg.Server.Port))
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
