package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/biome-cli/internal/store"
)

// initStore opens and migrates the configured run ledger. It returns nil when
// the ledger is disabled.
func initStore(ctx context.Context) (store.Store, error) {
	return store.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
}

// requireStore is initStore for commands that cannot work without a ledger.
func requireStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("run ledger is disabled (store.driver=none)")
	}
	return st, nil
}
