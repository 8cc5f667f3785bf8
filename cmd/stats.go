package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show suspect ledger statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		stats, err := env.Engine.Stats(ctx)
		if err != nil {
			return eris.Wrap(err, "ledger stats")
		}

		return printJSON(cmd, stats)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
