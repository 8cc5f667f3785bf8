package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/forensics-cli/internal/engine"
)

var (
	addSampleID    string
	addFingerprint string
	addScore       float64
	addSource      string
	addMetadata    string
)

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a suspect record without cross-referencing it",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		metadata, err := parseMetadata(addMetadata)
		if err != nil {
			return err
		}

		if err := env.Engine.AddRecord(ctx, engine.XRefRequest{
			SampleID:     addSampleID,
			Fingerprint:  addFingerprint,
			Score:        addScore,
			SourcePlugin: addSource,
			Metadata:     metadata,
		}); err != nil {
			return eris.Wrap(err, "add record")
		}

		return printJSON(cmd, map[string]string{
			"status":    "recorded",
			"sample_id": addSampleID,
		})
	},
}

func init() {
	addCmd.Flags().StringVar(&addSampleID, "sample-id", "", "unique sample identifier (required)")
	addCmd.Flags().StringVar(&addFingerprint, "fingerprint", "", "model fingerprint (required)")
	addCmd.Flags().Float64Var(&addScore, "score", 0, "combined anomaly score in [0,1]")
	addCmd.Flags().StringVar(&addSource, "source", "cli", "source plugin tag")
	addCmd.Flags().StringVar(&addMetadata, "metadata", "", "metadata as a JSON object")
	_ = addCmd.MarkFlagRequired("sample-id")
	_ = addCmd.MarkFlagRequired("fingerprint")
	rootCmd.AddCommand(addCmd)
}
