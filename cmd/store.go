package cmd

import (
	"fmt"

	"github.com/marcus/trail/internal/config"
	"github.com/marcus/trail/internal/hub"
	"github.com/marcus/trail/internal/store"
)

// openStore opens the activity database for a one-shot query command.
// WAL mode lets these readers coexist with a running recorder.
func openStore() (*store.Store, error) {
	cfg, err := config.Load(getBaseDir())
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg.StorePath, hub.New(1), config.DefaultWriterCapacity)
	if err != nil {
		return nil, fmt.Errorf("open activity database: %w", err)
	}
	return st, nil
}
