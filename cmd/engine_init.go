package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/forensics-cli/internal/engine"
	"github.com/sells-group/forensics-cli/internal/ledger"
)

// engineEnv holds the ledger and engine shared by the CLI and serve
// commands.
type engineEnv struct {
	Ledger ledger.Ledger
	Engine *engine.Engine
}

// Close releases the ledger connection.
func (ee *engineEnv) Close() {
	if ee.Ledger != nil {
		_ = ee.Ledger.Close()
	}
}

// initLedger opens the configured ledger backend.
func initLedger(ctx context.Context) (ledger.Ledger, error) {
	switch cfg.Store.Driver {
	case "sqlite", "":
		l, err := ledger.NewSQLite(cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init sqlite ledger")
		}
		return l, nil
	case "postgres":
		l, err := ledger.NewPostgres(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, eris.Wrap(err, "init postgres ledger")
		}
		return l, nil
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// initEngine sets up the ledger, applies the schema, and builds the
// engine. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	l, err := initLedger(ctx)
	if err != nil {
		return nil, err
	}

	if err := l.Migrate(ctx); err != nil {
		_ = l.Close()
		return nil, eris.Wrap(err, "migrate ledger")
	}

	return &engineEnv{
		Ledger: l,
		Engine: engine.New(l, cfg.Backup.Dir),
	}, nil
}
