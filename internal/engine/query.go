package engine

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forensics-cli/internal/model"
	"github.com/sells-group/forensics-cli/internal/similarity"
)

// MatchingRecords compares the fingerprint against every ledger record
// and returns all matches at or above the threshold, sorted by
// confidence descending. Ties keep ledger scan order. A threshold of 0
// lists every record; callers supply the contract default when the
// parameter is absent.
func (e *Engine) MatchingRecords(ctx context.Context, fingerprint string, threshold float64) ([]model.MatchResult, error) {
	if fingerprint == "" {
		return nil, eris.Wrap(model.ErrValidation, "fingerprint is required")
	}
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return nil, eris.Wrapf(model.ErrValidation, "threshold %v outside [0,1]", threshold)
	}

	recs, err := e.ledger.ListAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: scan ledger")
	}

	matches := make([]model.MatchResult, 0)
	for i := range recs {
		sim := similarity.Composite(fingerprint, recs[i].Fingerprint)
		if sim < threshold {
			continue
		}
		matches = append(matches, model.MatchResult{
			IsMatch:            true,
			MatchConfidence:    model.Clamp01(sim),
			MatchedSampleID:    recs[i].SampleID,
			MatchedFingerprint: recs[i].Fingerprint,
			AnomalyScore:       recs[i].AnomalyScore,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].MatchConfidence > matches[j].MatchConfidence
	})
	return matches, nil
}

// Stats returns the read-only ledger aggregate.
func (e *Engine) Stats(ctx context.Context) (*model.LedgerStats, error) {
	stats, err := e.ledger.Stats(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: ledger stats")
	}
	return stats, nil
}

// ClearLedger deletes every record and returns the removed count.
// When a backup directory is configured the rows are snapshotted to a
// JSON file first; the returned path is empty when snapshots are
// disabled. The delete itself is irreversible.
func (e *Engine) ClearLedger(ctx context.Context) (int, string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	backupPath := ""
	if e.backupDir != "" {
		recs, err := e.ledger.ListAll(ctx)
		if err != nil {
			return 0, "", eris.Wrap(err, "engine: snapshot before clear")
		}
		backupPath, err = writeSnapshot(e.backupDir, recs)
		if err != nil {
			return 0, "", err
		}
	}

	n, err := e.ledger.Clear(ctx)
	if err != nil {
		return 0, "", eris.Wrap(err, "engine: clear ledger")
	}

	zap.L().Info("ledger cleared",
		zap.Int("records_removed", n),
		zap.String("backup", backupPath),
	)
	return n, backupPath, nil
}

func writeSnapshot(dir string, recs []model.SuspectRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "engine: create backup dir")
	}

	name := "ledger-" + time.Now().UTC().Format("20060102T150405Z") + "-" + uuid.New().String() + ".json"
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "engine: marshal snapshot")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", eris.Wrap(err, "engine: write snapshot")
	}
	return path, nil
}
