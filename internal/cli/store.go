package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/threadline/internal/config"
	"github.com/aretw0/threadline/pkg/adapters/file"
	"github.com/aretw0/threadline/pkg/adapters/memory"
	"github.com/aretw0/threadline/pkg/adapters/redis"
	"github.com/aretw0/threadline/pkg/adapters/sqlite"
	"github.com/aretw0/threadline/pkg/persistence/middleware"
	"github.com/aretw0/threadline/pkg/ports"
)

// Store is an opened checkpoint backend and, for shared backends, the
// matching thread leaser.
type Store struct {
	ports.StateStore
	Leaser ports.Leaser

	closer io.Closer
}

// Close releases the backend connection, if any.
func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// OpenStore opens the configured backend and wraps it with the configured
// redaction and encryption.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	s := &Store{}
	switch cfg.Driver {
	case config.StoreMemory, "":
		s.StateStore = memory.NewStore()
	case config.StoreFile:
		s.StateStore = file.New(cfg.Path)
	case config.StoreSQLite:
		db, err := sqlite.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		s.StateStore, s.closer = db, db
	case config.StoreRedis:
		rc := cfg.Redis
		rdb := redis.New(rc.Addr, rc.Password, rc.DB, redis.WithPrefix(rc.Prefix), redis.WithTTL(rc.TTL))
		if err := rdb.Ping(ctx); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", rc.Addr, err)
		}
		s.StateStore, s.closer = rdb, rdb
		s.Leaser = redis.NewLeaser(rdb.Client(), rc.Prefix)
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", config.ErrInvalid, cfg.Driver)
	}

	mws, err := storeMiddlewares(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}
	s.StateStore = middleware.Wrap(s.StateStore, mws...)
	return s, nil
}

// storeMiddlewares orders redaction outside encryption so masking sees plain text.
func storeMiddlewares(cfg config.StoreConfig) ([]middleware.Middleware, error) {
	var mws []middleware.Middleware

	if len(cfg.Redact) > 0 {
		var patterns []string
		for _, p := range cfg.Redact {
			if strings.EqualFold(p, "default") {
				patterns = append(patterns, middleware.DefaultPIIPatterns...)
				continue
			}
			patterns = append(patterns, p)
		}
		pii, err := middleware.NewPIIMiddleware(patterns)
		if err != nil {
			return nil, fmt.Errorf("store.redact: %w", err)
		}
		mws = append(mws, pii)
	}

	enc, err := encryptionConfig(cfg)
	if err != nil {
		return nil, err
	}
	if enc != nil {
		mw, err := middleware.NewEncryptionMiddleware(*enc)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	return mws, nil
}

// encryptionConfig resolves the active key from a base64 key or a
// passphrase. It returns nil when encryption is disabled.
func encryptionConfig(cfg config.StoreConfig) (*middleware.EncryptionConfig, error) {
	var enc middleware.EncryptionConfig
	switch {
	case cfg.EncryptionKey != "":
		active, err := middleware.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("store.encryption_key: %w", err)
		}
		enc.ActiveKey = active
	case cfg.Passphrase != "":
		active, err := middleware.DeriveKey(cfg.Passphrase, []byte(cfg.Salt))
		if err != nil {
			return nil, fmt.Errorf("store.passphrase: %w", err)
		}
		enc.ActiveKey = active
	default:
		return nil, nil
	}

	for i, k := range cfg.FallbackKeys {
		key, err := middleware.ParseKey(k)
		if err != nil {
			return nil, fmt.Errorf("store.fallback_keys[%d]: %w", i, err)
		}
		enc.FallbackKeys = append(enc.FallbackKeys, key)
	}
	return &enc, nil
}
