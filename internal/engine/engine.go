// Package engine implements the fingerprint cross-referencing policy:
// it is the only component that both reads and writes the ledger
// within one logical operation.
package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/forensics-cli/internal/ledger"
	"github.com/sells-group/forensics-cli/internal/model"
	"github.com/sells-group/forensics-cli/internal/similarity"
)

// Engine cross-references incoming fingerprints against the suspect
// ledger.
//
// Concurrency contract: CrossReference and AddRecord are serialized by
// a single engine-level mutex. The scan+insert sequence is a
// read-modify-write over the whole ledger; without the lock, two
// concurrent submissions with mutually similar fingerprints could both
// scan before either inserts and miss each other. Read-only queries
// take no lock and may observe in-flight state.
//
// Atomicity of the recurring flag: when a high-confidence match is
// found, mark-recurring runs before the insert of the new record. The
// insert is at-least-once; the flag is best-effort. If the insert
// fails after the flag was set, the error is surfaced and the flag may
// reference a sample_id that never landed.
type Engine struct {
	ledger    ledger.Ledger
	backupDir string

	mu sync.Mutex
}

// New creates an Engine over the given ledger. backupDir is where
// ClearLedger writes its pre-delete snapshot; empty disables snapshots.
func New(l ledger.Ledger, backupDir string) *Engine {
	return &Engine{ledger: l, backupDir: backupDir}
}

// XRefRequest is one submission to cross-reference or record.
type XRefRequest struct {
	SampleID     string         `json:"sample_id"`
	Fingerprint  string         `json:"fingerprint"`
	Score        float64        `json:"score"`
	SourcePlugin string         `json:"source_plugin"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

func (r XRefRequest) validate() error {
	if r.SampleID == "" {
		return eris.Wrap(model.ErrValidation, "sample_id is required")
	}
	if r.Fingerprint == "" {
		return eris.Wrap(model.ErrValidation, "fingerprint is required")
	}
	// The range check alone lets NaN through (both comparisons are
	// false), and a stored NaN breaks snapshot serialization.
	if r.Score < 0 || r.Score > 1 || math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		return eris.Wrapf(model.ErrValidation, "score %v outside [0,1]", r.Score)
	}
	return nil
}

// CrossReference compares the submission against every ledger record,
// decides the action, and always inserts the submission as a new
// record regardless of the outcome.
func (e *Engine) CrossReference(ctx context.Context, req XRefRequest) (*model.XRefResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	isHighConfidence := req.Score >= model.MinAnomalyScore

	// The scan must run before the insert or the submission could
	// match itself.
	match, err := e.bestMatch(ctx, req.Fingerprint)
	if err != nil {
		return nil, err
	}

	result := &model.XRefResult{
		SampleID:         req.SampleID,
		Fingerprint:      req.Fingerprint,
		Score:            req.Score,
		IsHighConfidence: isHighConfidence,
		MatchFound:       match.IsMatch,
		MatchConfidence:  match.MatchConfidence,
		Action:           model.ActionNone,
	}

	if match.IsMatch {
		result.MatchedSampleID = match.MatchedSampleID
		prev := match.AnomalyScore
		result.PreviousAnomalyScore = &prev

		if isHighConfidence {
			result.Action = model.ActionRecurringDetected
			if err := e.ledger.MarkRecurring(ctx, match.MatchedSampleID, req.SampleID); err != nil {
				return nil, eris.Wrap(err, "engine: mark recurring")
			}
			zap.L().Info("recurring adversarial pattern detected",
				zap.String("sample_id", req.SampleID),
				zap.String("matched_sample_id", match.MatchedSampleID),
				zap.Float64("confidence", match.MatchConfidence),
			)
		} else {
			result.Action = model.ActionMatchLowConfidence
		}
	}

	if err := e.insert(ctx, req); err != nil {
		return nil, err
	}

	zap.L().Debug("cross-reference complete",
		zap.String("sample_id", req.SampleID),
		zap.Bool("match_found", result.MatchFound),
		zap.String("action", string(result.Action)),
	)
	return result, nil
}

// AddRecord inserts a submission without cross-referencing it.
func (e *Engine) AddRecord(ctx context.Context, req XRefRequest) error {
	if err := req.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.insert(ctx, req)
}

// bestMatch scans all records and returns the argmax of composite
// similarity, gated by the match threshold. Ties keep the first record
// in scan order; scan order is backend-dependent, so tie outcomes are
// not deterministic across backends.
func (e *Engine) bestMatch(ctx context.Context, fingerprint string) (*model.MatchResult, error) {
	recs, err := e.ledger.ListAll(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: scan ledger")
	}

	result := &model.MatchResult{}
	for i := range recs {
		sim := similarity.Composite(fingerprint, recs[i].Fingerprint)
		if sim > result.MatchConfidence {
			result.MatchConfidence = sim
			result.MatchedSampleID = recs[i].SampleID
			result.MatchedFingerprint = recs[i].Fingerprint
			result.AnomalyScore = recs[i].AnomalyScore
		}
	}

	if result.MatchConfidence >= model.FingerprintMatchThreshold {
		result.IsMatch = true
	} else {
		// Near misses are not matches; drop the argmax so callers
		// cannot act on it.
		*result = model.MatchResult{MatchConfidence: result.MatchConfidence}
	}
	result.MatchConfidence = model.Clamp01(result.MatchConfidence)
	return result, nil
}

func (e *Engine) insert(ctx context.Context, req XRefRequest) error {
	rec := model.SuspectRecord{
		SampleID:     req.SampleID,
		Fingerprint:  req.Fingerprint,
		AnomalyScore: model.Clamp01(req.Score),
		Timestamp:    time.Now().UTC(),
		SourcePlugin: req.SourcePlugin,
		Metadata:     req.Metadata,
	}
	if err := e.ledger.Upsert(ctx, rec); err != nil {
		return eris.Wrap(err, "engine: insert record")
	}
	return nil
}
