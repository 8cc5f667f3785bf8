package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forensics-cli/internal/engine"
)

var (
	xrefSampleID    string
	xrefFingerprint string
	xrefScore       float64
	xrefSource      string
	xrefMetadata    string
)

var xrefCmd = &cobra.Command{
	Use:   "xref",
	Short: "Cross-reference a fingerprint against the suspect ledger",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		metadata, err := parseMetadata(xrefMetadata)
		if err != nil {
			return err
		}

		res, err := env.Engine.CrossReference(ctx, engine.XRefRequest{
			SampleID:     xrefSampleID,
			Fingerprint:  xrefFingerprint,
			Score:        xrefScore,
			SourcePlugin: xrefSource,
			Metadata:     metadata,
		})
		if err != nil {
			return eris.Wrap(err, "cross-reference")
		}

		return printJSON(cmd, res)
	},
}

func init() {
	xrefCmd.Flags().StringVar(&xrefSampleID, "sample-id", "", "unique sample identifier (required)")
	xrefCmd.Flags().StringVar(&xrefFingerprint, "fingerprint", "", "model fingerprint to compare (required)")
	xrefCmd.Flags().Float64Var(&xrefScore, "score", 0, "combined anomaly score in [0,1]")
	xrefCmd.Flags().StringVar(&xrefSource, "source", "cli", "source plugin tag")
	xrefCmd.Flags().StringVar(&xrefMetadata, "metadata", "", "metadata as a JSON object")
	_ = xrefCmd.MarkFlagRequired("sample-id")
	_ = xrefCmd.MarkFlagRequired("fingerprint")
	rootCmd.AddCommand(xrefCmd)
}

func parseMetadata(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, eris.Wrap(err, "parse metadata")
	}
	return m, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal output")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}
