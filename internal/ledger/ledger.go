// Package ledger persists suspect records. It is the only durable
// state in the system; everything above it is pure computation.
package ledger

import (
	"context"

	"github.com/sells-group/forensics-cli/internal/model"
)

// Ledger defines the persistence contract for suspect records.
//
// Upsert replaces the whole row when the sample_id already exists; the
// ledger never holds two rows for one sample_id. MarkRecurring is a
// no-op (not an error) when the target row has been replaced or
// cleared in the meantime.
type Ledger interface {
	Upsert(ctx context.Context, rec model.SuspectRecord) error
	ListAll(ctx context.Context) ([]model.SuspectRecord, error)
	MarkRecurring(ctx context.Context, originalSampleID, newSampleID string) error
	// Clear deletes every row and returns how many were removed.
	// Irreversible at this layer; callers wanting a trail snapshot the
	// rows first (see engine.ClearLedger).
	Clear(ctx context.Context) (int, error)
	Stats(ctx context.Context) (*model.LedgerStats, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
