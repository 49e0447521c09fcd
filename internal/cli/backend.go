package cli

import (
	"context"
	"fmt"

	"github.com/roach88/autoreply/internal/config"
	"github.com/roach88/autoreply/internal/filestore"
	"github.com/roach88/autoreply/internal/kvstore"
	"github.com/roach88/autoreply/internal/rule"
	"github.com/roach88/autoreply/internal/store"
)

// openStore opens the configured rule store. The returned close function is
// never nil.
func openStore(ctx context.Context, cfg config.StoreConfig) (rule.Store, func() error, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		st, err := store.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	case config.BackendFile:
		return filestore.New(cfg.Path), func() error { return nil }, nil

	case config.BackendNATS:
		st, err := kvstore.Open(ctx, cfg.NATSURL, cfg.Bucket)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// describeStore names the store location for logs and messages.
func describeStore(cfg config.StoreConfig) string {
	if cfg.Backend == config.BackendNATS {
		return fmt.Sprintf("nats %s bucket %s", cfg.NATSURL, cfg.Bucket)
	}
	return fmt.Sprintf("%s %s", cfg.Backend, cfg.Path)
}
