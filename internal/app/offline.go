package app

import (
	"fmt"

	"mycelium/internal/config"
	"mycelium/internal/storage"
	logx "mycelium/pkg/logx"
)

// OpenStorage loads cfgPath and opens its record store without building the
// rest of the app. The schema is applied on open. Used by offline commands.
func OpenStorage(cfgPath string, log logx.Logger) (storage.Store, *config.Config, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, nil, err
	}
	st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, nil, fmt.Errorf("storage: %w", err)
	}
	return st, cfg, nil
}
