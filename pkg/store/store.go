// Package store 提供上下文存储的实现。
//
// 本包包含内存（Memory）、SQLite 与 Neo4j 三种后端，
// 均满足 context.Store 接口，可以互换使用。
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/easyops/contextinject-go/pkg/core/errors"
)

// 评分调整常量
const (
	// ReinforceIncrement 是每次强化增加的分数。
	ReinforceIncrement = 0.1
	// MaxRelevanceScore 是强化后的分数上限。
	MaxRelevanceScore = 1.0
	// DecayFactor 是强化时关联上下文分数的乘数，没有下限。
	DecayFactor = 0.9
	// MaxHierarchyDepth 是层级遍历的最大步数。
	MaxHierarchyDepth = 64
)

// StoreType 存储类型
type StoreType string

const (
	// StoreTypeMemory 内存存储
	StoreTypeMemory StoreType = "memory"
	// StoreTypeSQLite SQLite 存储
	StoreTypeSQLite StoreType = "sqlite"
	// StoreTypeNeo4j Neo4j 存储
	StoreTypeNeo4j StoreType = "neo4j"
)

// Config 存储配置
type Config struct {
	// Type 存储类型
	Type StoreType `koanf:"type" json:"type"`

	// SQLite 配置
	SQLitePath string `koanf:"sqlite_path" json:"sqlite_path,omitempty"`

	// Neo4j 配置
	Neo4jURI      string `koanf:"neo4j_uri" json:"neo4j_uri,omitempty"`
	Neo4jUsername string `koanf:"neo4j_username" json:"neo4j_username,omitempty"`
	Neo4jPassword string `koanf:"neo4j_password" json:"-"`
	Neo4jDatabase string `koanf:"neo4j_database" json:"neo4j_database,omitempty"`
}

// DefaultConfig 返回默认配置（内存存储）
func DefaultConfig() *Config {
	return &Config{
		Type:       StoreTypeMemory,
		SQLitePath: "contextinject.db",
		Neo4jURI:   "bolt://localhost:7687",
	}
}

// Validate 验证存储配置
func (c *Config) Validate() error {
	switch c.Type {
	case "", StoreTypeMemory:
	case StoreTypeSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite_path is required for sqlite store", errors.ErrInvalidConfig)
		}
	case StoreTypeNeo4j:
		if c.Neo4jURI == "" {
			return fmt.Errorf("%w: neo4j_uri is required for neo4j store", errors.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown store type %q", errors.ErrInvalidConfig, c.Type)
	}
	return nil
}

// Option 配置存储实现
type Option func(*options)

type options struct {
	now   func() time.Time
	newID func() string
}

// WithClock 设置存储使用的时钟
//
// 时钟用于 CreatedAt/UpdatedAt 以及过期判断。
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator 设置 ID 生成函数，Create 时 ID 为空才会调用
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
