package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/forensics-cli/internal/engine"
)

var importFile string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Bulk import suspect records from a JSONL file",
	Long:  "Reads one record per line ({sample_id, fingerprint, score, source_plugin, metadata}) and inserts each without cross-referencing.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEngine(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		f, err := os.Open(importFile)
		if err != nil {
			return eris.Wrapf(err, "open %s", importFile)
		}
		defer f.Close() //nolint:errcheck

		imported, failed, err := importRecords(ctx, env.Engine, f, cfg.Import.Concurrency, cfg.Import.RatePerSec)
		if err != nil {
			return eris.Wrap(err, "import")
		}

		zap.L().Info("import complete",
			zap.String("file", importFile),
			zap.Int64("imported", imported),
			zap.Int64("failed", failed),
		)
		return nil
	},
}

func init() {
	importCmd.Flags().StringVar(&importFile, "file", "", "path to JSONL file (required)")
	_ = importCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(importCmd)
}

// importRecords streams JSONL submissions into the ledger with a
// bounded worker pool and a write-rate cap. Individual bad lines are
// logged and counted, not fatal.
func importRecords(ctx context.Context, eng *engine.Engine, r io.Reader, concurrency int, ratePerSec float64) (int64, int64, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var imported, failed atomic.Int64
	lineNo := 0

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		no := lineNo
		var req engine.XRefRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			failed.Add(1)
			zap.L().Warn("skipping malformed line",
				zap.Int("line", no),
				zap.Error(err),
			)
			continue
		}

		g.Go(func() error {
			if err := limiter.Wait(gctx); err != nil {
				return err
			}
			if err := eng.AddRecord(gctx, req); err != nil {
				failed.Add(1)
				zap.L().Warn("record rejected",
					zap.Int("line", no),
					zap.String("sample_id", req.SampleID),
					zap.Error(err),
				)
				return nil // don't abort the batch on individual failure
			}
			imported.Add(1)
			return nil
		})
	}

	if err := scanner.Err(); err != nil {
		_ = g.Wait()
		return imported.Load(), failed.Load(), eris.Wrap(err, "read input")
	}
	if err := g.Wait(); err != nil {
		return imported.Load(), failed.Load(), eris.Wrap(err, "import workers")
	}
	return imported.Load(), failed.Load(), nil
}
