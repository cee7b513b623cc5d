package store

import (
	"context"
	"fmt"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// New 根据配置创建存储
func New(ctx context.Context, cfg *Config, opts ...Option) (injctx.Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case "", StoreTypeMemory:
		return NewMemoryStore(opts...), nil
	case StoreTypeSQLite:
		s, err := NewSQLiteStore(cfg.SQLitePath, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreTypeNeo4j:
		s, err := NewNeo4jStore(ctx, Neo4jConfig{
			URI:      cfg.Neo4jURI,
			Username: cfg.Neo4jUsername,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		}, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store type %q", errors.ErrInvalidConfig, cfg.Type)
	}
}
