// Package config 提供配置加载和管理功能
//
// 配置来源按优先级从低到高为：内置默认值、配置文件（YAML/JSON）、环境变量。
// 环境变量使用 CTXINJECT_ 前缀，双下划线表示层级，例如
// CTXINJECT_STORE__SQLITE_PATH 对应 store.sqlite_path。
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/otel"
	"github.com/easyops/contextinject-go/pkg/store"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "CTXINJECT_"

// Config 全局配置结构
type Config struct {
	// Injection 注入默认配置
	Injection injctx.InjectionConfig `koanf:"injection"`
	// Store 存储配置
	Store store.Config `koanf:"store"`
	// Observability 可观测性配置
	Observability otel.Config `koanf:"observability"`
}

// Default 返回默认配置
func Default() *Config {
	return &Config{
		Injection:     *injctx.DefaultInjectionConfig(),
		Store:         *store.DefaultConfig(),
		Observability: otel.DefaultConfig(),
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	return errors.Join(
		c.Injection.Validate(),
		c.Store.Validate(),
		c.Observability.Validate(),
	)
}

// Loader 配置加载器
type Loader struct {
	k *koanf.Koanf
}

// NewLoader 创建配置加载器
func NewLoader() *Loader {
	return &Loader{
		k: koanf.New("."),
	}
}

// LoadFile 从文件加载配置
func (l *Loader) LoadFile(path string) error {
	// 检查文件是否存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil // 文件不存在不报错，使用默认值
	}

	// 根据文件扩展名选择解析器
	var parser koanf.Parser
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if err := l.k.Load(file.Provider(path), parser); err != nil {
		return fmt.Errorf("load config file %s: %w", path, err)
	}
	return nil
}

// LoadEnv 从环境变量加载配置
func (l *Loader) LoadEnv(prefix string) error {
	return l.k.Load(env.Provider(prefix, ".", func(s string) string {
		// 转换环境变量名: CTXINJECT_STORE__SQLITE_PATH -> store.sqlite_path
		s = strings.TrimPrefix(s, prefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", ".")
		return s
	}), nil)
}

// Unmarshal 解析配置到结构体，未出现的键保留 cfg 中原有的值
func (l *Loader) Unmarshal(cfg *Config) error {
	return l.k.Unmarshal("", cfg)
}

// Get 获取配置值
func (l *Loader) Get(key string) interface{} {
	return l.k.Get(key)
}

// GetString 获取字符串配置值
func (l *Loader) GetString(key string) string {
	return l.k.String(key)
}

// GetInt 获取整数配置值
func (l *Loader) GetInt(key string) int {
	return l.k.Int(key)
}

// GetBool 获取布尔配置值
func (l *Loader) GetBool(key string) bool {
	return l.k.Bool(key)
}

// GetDuration 获取时间间隔配置值
func (l *Loader) GetDuration(key string) time.Duration {
	return l.k.Duration(key)
}

// Keys 返回已加载的全部键
func (l *Loader) Keys() []string {
	return l.k.Keys()
}

// LoadOption 配置 Load
type LoadOption func(*loadOptions)

type loadOptions struct {
	base *Config
}

// WithBase 指定文件和环境变量叠加其上的基础配置，默认为 Default()
func WithBase(base *Config) LoadOption {
	return func(o *loadOptions) {
		o.base = base
	}
}

// Load 加载完整配置（文件 + 环境变量）
func Load(configPath string, opts ...LoadOption) (*Config, error) {
	options := &loadOptions{}
	for _, opt := range opts {
		opt(options)
	}

	loader := NewLoader()

	// 加载配置文件
	if configPath != "" {
		if err := loader.LoadFile(configPath); err != nil {
			return nil, err
		}
	}

	// 加载环境变量（优先级更高）
	if err := loader.LoadEnv(EnvPrefix); err != nil {
		return nil, err
	}

	// 解析到基础配置之上
	cfg := Default()
	if options.base != nil {
		base := *options.base
		cfg = &base
	}
	if err := loader.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// 应用默认值
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults 补全被显式置空的字段
func applyDefaults(cfg *Config) {
	// Injection 默认值
	if cfg.Injection.ModelName == "" {
		cfg.Injection.ModelName = injctx.DefaultInjectionConfig().ModelName
	}

	// Store 默认值
	if cfg.Store.Type == "" {
		cfg.Store.Type = store.StoreTypeMemory
	}

	// Observability 默认值
	cfg.Observability = cfg.Observability.WithDefaults()
}
