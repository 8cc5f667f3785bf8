package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forensics-cli/internal/model"
)

var (
	matchesFingerprint string
	matchesThreshold   float64
)

var matchesCmd = &cobra.Command{
	Use:   "matches",
	Short: "List all ledger records matching a fingerprint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		matches, err := env.Engine.MatchingRecords(ctx, matchesFingerprint, matchesThreshold)
		if err != nil {
			return eris.Wrap(err, "matching records")
		}

		return printJSON(cmd, map[string]any{
			"query_fingerprint": matchesFingerprint,
			"threshold":         matchesThreshold,
			"matches_found":     len(matches),
			"matches":           matches,
		})
	},
}

func init() {
	matchesCmd.Flags().StringVar(&matchesFingerprint, "fingerprint", "", "fingerprint to search for (required)")
	matchesCmd.Flags().Float64Var(&matchesThreshold, "threshold", model.FingerprintMatchThreshold, "minimum composite similarity")
	_ = matchesCmd.MarkFlagRequired("fingerprint")
	rootCmd.AddCommand(matchesCmd)
}
