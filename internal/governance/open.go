package governance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Rogers-F/mutation-governor/internal/config"
	"github.com/Rogers-F/mutation-governor/internal/store"
	"github.com/Rogers-F/mutation-governor/internal/store/local"
)

// Runtime is a Loop together with the stores it owns.
type Runtime struct {
	Loop  *Loop
	DB    *sql.DB
	Local *local.Store
	Audit *store.AuditLog
}

// Open opens the SQLite database at cfg.DBPath and, when configured, the
// local fallback store, and builds a Loop over them.
func Open(cfg *config.Config, logger *zap.Logger) (*Runtime, error) {
	db, err := store.NewDB(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{DB: db, Audit: store.NewAuditLog(db, cfg.InstanceID)}
	stores := Stores{
		State:     store.NewStateStore(db, cfg.InstanceID),
		Snapshots: store.NewSnapshotStore(db, cfg.InstanceID),
		Audit:     rt.Audit,
	}

	if cfg.LocalStorePath != "" {
		ls, err := local.Open(local.Config{Path: cfg.LocalStorePath, SyncWrites: true, Logger: logger})
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open local store: %w", err)
		}
		rt.Local = ls
		stores.Local = ls
	}

	loop, err := New(cfg, stores, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Loop = loop
	return rt, nil
}

// Close releases the stores.
func (r *Runtime) Close() error {
	var errs []error
	if r.Local != nil {
		errs = append(errs, r.Local.Close())
	}
	if r.DB != nil {
		errs = append(errs, r.DB.Close())
	}
	return errors.Join(errs...)
}

// FallbackPrefix is the key prefix the healer writes storage fallbacks under.
const FallbackPrefix = "fallback/"

// FallbackEntries lists writes parked in the local store by the
// STORAGE_FAILURE fallback, waiting for an operator to replay them.
func (r *Runtime) FallbackEntries(ctx context.Context) ([]local.Entry, error) {
	if r.Local == nil {
		return nil, nil
	}
	return r.Local.List(ctx, FallbackPrefix)
}
