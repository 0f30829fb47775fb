package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		enabled := make(map[string]bool)
		for _, id := range activeSources() {
			enabled[id] = true
		}

		for _, id := range env.Registry.List() {
			status := "disabled"
			if enabled[id] {
				status = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", id, status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
