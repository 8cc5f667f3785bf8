package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXRefActionValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		action XRefAction
		want   string
	}{
		{ActionNone, "none"},
		{ActionMatchLowConfidence, "MATCH_FOUND_LOW_CONFIDENCE"},
		{ActionRecurringDetected, "RECURRING_ADVERSARIAL_PATTERN_DETECTED"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, string(tt.action))
		})
	}
}

func TestContractConstants(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.90, FingerprintMatchThreshold)
	assert.Equal(t, 0.70, MinAnomalyScore)
}

func TestClamp01(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   float64
		want float64
	}{
		{"below range", -0.5, 0},
		{"zero", 0, 0},
		{"mid", 0.42, 0.42},
		{"one", 1, 1},
		{"above range", 1.7, 1},
		{"nan", math.NaN(), 0},
		{"positive inf", math.Inf(1), 1},
		{"negative inf", math.Inf(-1), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Clamp01(tt.in))
		})
	}
}
