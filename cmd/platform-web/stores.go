// ABOUTME: Session and contact store selection for platform-web
// ABOUTME: memory, sqlite or redis sessions; contacts follow the database when one is configured

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/platform-engine/internal/config"
	"github.com/2389/platform-engine/internal/store"
)

// webStores holds the stores platform-web uses and what to close on shutdown.
type webStores struct {
	sessions store.SessionStore
	contacts store.ContactStore
	closers  []func() error
}

// Close closes every opened store.
func (s *webStores) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStores builds the stores for cfg.Session.Backend.
func openStores(ctx context.Context, cfg *config.Config) (*webStores, error) {
	if cfg.Session.Backend == config.SessionBackendMemory {
		mem := store.NewMemoryStore()
		return &webStores{sessions: mem, contacts: mem, closers: []func() error{mem.Close}}, nil
	}

	sealer, err := store.NewSealer([]byte(cfg.Session.Secret))
	if err != nil {
		return nil, fmt.Errorf("creating token sealer: %w", err)
	}

	stores := &webStores{}

	if cfg.Database.Path != "" {
		db, err := store.NewSQLiteStore(cfg.Database.Path, sealer)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		stores.sessions = db
		stores.contacts = db
		stores.closers = append(stores.closers, db.Close)
	} else {
		mem := store.NewMemoryStore()
		stores.contacts = mem
	}

	if cfg.Session.Backend == config.SessionBackendRedis {
		rs, err := store.NewRedisSessionStore(ctx, store.RedisOptions{
			Addr:     cfg.Session.RedisAddr,
			Password: cfg.Session.RedisPassword,
			DB:       cfg.Session.RedisDB,
		}, sealer)
		if err != nil {
			_ = stores.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		stores.sessions = rs
		stores.closers = append(stores.closers, rs.Close)
	}

	return stores, nil
}
