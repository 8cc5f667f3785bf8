package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every ledger record",
	Long:  "Deletes all suspect records. When a backup directory is configured a JSON snapshot is written first; otherwise the delete is irreversible.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if !clearYes {
			return eris.New("refusing to clear without --yes")
		}

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		n, backupPath, err := env.Engine.ClearLedger(ctx)
		if err != nil {
			return eris.Wrap(err, "clear ledger")
		}

		msg := fmt.Sprintf("cleared %d records", n)
		if backupPath != "" {
			msg += ", snapshot at " + backupPath
			zap.L().Info("snapshot written", zap.String("path", backupPath))
		}

		return printJSON(cmd, map[string]string{
			"status":  "cleared",
			"message": msg,
		})
	},
}

func init() {
	clearCmd.Flags().BoolVar(&clearYes, "yes", false, "confirm deletion")
	rootCmd.AddCommand(clearCmd)
}
