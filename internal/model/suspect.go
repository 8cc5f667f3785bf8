package model

import (
	"math"
	"time"
)

// XRefAction describes what the cross-reference engine decided to do
// with a submission after comparing it against the ledger.
type XRefAction string

const (
	// ActionNone means no existing record matched above the threshold.
	ActionNone XRefAction = "none"

	// ActionMatchLowConfidence means a record matched but the new
	// submission's own anomaly score was below the high-confidence bar,
	// so the matched record was left untouched.
	ActionMatchLowConfidence XRefAction = "MATCH_FOUND_LOW_CONFIDENCE"

	// ActionRecurringDetected means a high-confidence submission matched
	// an existing record, which was flagged as a recurring pattern.
	ActionRecurringDetected XRefAction = "RECURRING_ADVERSARIAL_PATTERN_DETECTED"
)

// Contract constants. These are part of the external API surface and
// must not drift; callers and dashboards depend on the exact values.
const (
	// FingerprintMatchThreshold is the minimum composite similarity for
	// two fingerprints to be considered the same pattern.
	FingerprintMatchThreshold = 0.90

	// MinAnomalyScore is the minimum combined anomaly score for a
	// submission to count as high confidence.
	MinAnomalyScore = 0.70
)

// SuspectRecord is one observation in the ledger. SampleID is the
// caller-supplied unique key; resubmitting the same SampleID replaces
// the prior row.
type SuspectRecord struct {
	SampleID      string         `json:"sample_id"`
	Fingerprint   string         `json:"model_fingerprint"`
	AnomalyScore  float64        `json:"combined_anomaly_score"`
	Timestamp     time.Time      `json:"timestamp"`
	SourcePlugin  string         `json:"source_plugin"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	IsRecurring   bool           `json:"is_recurring"`
	RecurringWith string         `json:"recurring_with,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// MatchResult is the outcome of comparing one fingerprint against the
// ledger. It is never persisted. AnomalyScore is the matched record's
// own score, not the query's.
type MatchResult struct {
	IsMatch            bool    `json:"is_match"`
	MatchConfidence    float64 `json:"match_confidence"`
	MatchedSampleID    string  `json:"matched_sample_id,omitempty"`
	MatchedFingerprint string  `json:"matched_fingerprint,omitempty"`
	AnomalyScore       float64 `json:"anomaly_score"`
}

// XRefResult is the structured response of a cross-reference call.
type XRefResult struct {
	SampleID         string     `json:"sample_id"`
	Fingerprint      string     `json:"fingerprint"`
	Score            float64    `json:"score"`
	IsHighConfidence bool       `json:"is_high_confidence"`
	MatchFound       bool       `json:"match_found"`
	MatchConfidence  float64    `json:"match_confidence"`
	Action           XRefAction `json:"action"`
	MatchedSampleID  string     `json:"matched_sample_id,omitempty"`
	// PreviousAnomalyScore is the matched record's own score, present
	// only when a match was found.
	PreviousAnomalyScore *float64 `json:"previous_anomaly_score,omitempty"`
}

// LedgerStats is the read-only aggregate over the whole ledger.
type LedgerStats struct {
	TotalRecords          int            `json:"total_records"`
	HighConfidenceRecords int            `json:"high_confidence_records"`
	RecurringPatterns     int            `json:"recurring_patterns"`
	PluginDistribution    map[string]int `json:"plugin_distribution"`
	FingerprintThreshold  float64        `json:"fingerprint_threshold"`
	MinAnomalyScore       float64        `json:"min_anomaly_score"`
}

// Clamp01 clamps a score into [0, 1]. Scores outside the range are a
// caller bug upstream of validation; stored values must never escape
// the interval regardless. NaN maps to 0 so a stored score can always
// be serialized.
func Clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
