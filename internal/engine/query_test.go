package engine

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/forensics-cli/internal/ledger"
	"github.com/sells-group/forensics-cli/internal/model"
)

func TestClearLedger_WritesSnapshot(t *testing.T) {
	backupDir := filepath.Join(t.TempDir(), "backups")

	l, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, l.Migrate(ctx))

	e := New(l, backupDir)
	require.NoError(t, e.AddRecord(ctx, XRefRequest{SampleID: "a", Fingerprint: "fa", Score: 0.8}))
	require.NoError(t, e.AddRecord(ctx, XRefRequest{SampleID: "b", Fingerprint: "fb", Score: 0.3}))

	n, backupPath, err := e.ClearLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NotEmpty(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)

	var recs []model.SuspectRecord
	require.NoError(t, json.Unmarshal(data, &recs))
	require.Len(t, recs, 2)

	ids := map[string]bool{}
	for _, rec := range recs {
		ids[rec.SampleID] = true
	}
	assert.True(t, ids["a"])
	assert.True(t, ids["b"])
}

func TestClearLedger_AfterRejectedNaNScore(t *testing.T) {
	backupDir := filepath.Join(t.TempDir(), "backups")

	l, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, l.Migrate(ctx))

	e := New(l, backupDir)
	require.NoError(t, e.AddRecord(ctx, XRefRequest{SampleID: "a", Fingerprint: "fa", Score: 0.8}))

	// A NaN score never reaches the ledger, so the JSON snapshot on
	// clear cannot be poisoned by an unserializable value.
	_, err = e.CrossReference(ctx, XRefRequest{SampleID: "b", Fingerprint: "fb", Score: math.NaN()})
	assert.ErrorIs(t, err, model.ErrValidation)

	n, backupPath, err := e.ClearLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.FileExists(t, backupPath)
}

func TestClearLedger_EmptyLedgerStillSnapshots(t *testing.T) {
	backupDir := filepath.Join(t.TempDir(), "backups")

	l, err := ledger.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, l.Migrate(ctx))

	e := New(l, backupDir)
	n, backupPath, err := e.ClearLedger(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.FileExists(t, backupPath)
}
