package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	injctx "github.com/easyops/contextinject-go/pkg/context"
	"github.com/easyops/contextinject-go/pkg/core/config"
	ierrors "github.com/easyops/contextinject-go/pkg/core/errors"
	"github.com/easyops/contextinject-go/pkg/otel"
	"github.com/easyops/contextinject-go/pkg/store"
)

// app 保存一次命令执行期间共享的依赖
type app struct {
	configPath     string
	envFile        string
	storeType      string
	sqlitePath     string
	logLevel       string
	estimateTokens bool
	output         string

	cfg      *config.Config
	provider *otel.Provider
	store    injctx.Store
	injector *injctx.Injector
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "contextctl",
		Short: "contextctl - context injection engine CLI",
		Long: `contextctl manages a store of background contexts and selects the most
relevant ones for a query within a token budget.

Configuration is read from --config (YAML or JSON) and CTXINJECT_* environment
variables, e.g. CTXINJECT_STORE__TYPE=neo4j.

Contexts persist in the SQLite file ./contexts.db unless another store is
configured. The memory store only lasts for a single invocation.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.teardown(cmd.Context())
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file path (yaml or json)")
	flags.StringVar(&a.envFile, "env-file", "", "dotenv file with CTXINJECT_* variables (default: .env if present)")
	flags.StringVar(&a.storeType, "store", "", "store backend override: memory, sqlite or neo4j")
	flags.StringVar(&a.sqlitePath, "sqlite-path", "", "sqlite database path override (default ./"+defaultSQLitePath+")")
	flags.StringVar(&a.logLevel, "log-level", "", "log level override: debug, info, warn or error")
	flags.StringVarP(&a.output, "output", "o", outputJSON, "structured output format: json or yaml")
	flags.BoolVar(&a.estimateTokens, "estimate-tokens", false, "count tokens by character estimate instead of tiktoken")

	rootCmd.AddCommand(
		newAddCmd(a),
		newRelateCmd(a),
		newGetCmd(a),
		newHierarchyCmd(a),
		newSelectCmd(a),
		newReinforceCmd(a),
		newPruneCmd(a),
		newActivateCmd(a),
		newAnalyzeCmd(a),
		newStatsCmd(a),
	)

	return rootCmd
}

// defaultSQLitePath 是命令行默认使用的数据库文件
const defaultSQLitePath = "contexts.db"

// defaultConfig 返回命令行的基础配置：跨进程调用需要持久化存储
func defaultConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Type = store.StoreTypeSQLite
	cfg.Store.SQLitePath = defaultSQLitePath
	return cfg
}

// setup 加载配置并打开存储
func (a *app) setup(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if a.output != outputJSON && a.output != outputYAML {
		return fmt.Errorf("%w: unknown output format %q", ierrors.ErrInvalidConfig, a.output)
	}

	// 已存在的环境变量优先于 .env
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil {
			return fmt.Errorf("load env file: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	cfg, err := config.Load(a.configPath, config.WithBase(defaultConfig()))
	if err != nil {
		return err
	}
	if a.storeType != "" {
		cfg.Store.Type = store.StoreType(a.storeType)
	}
	if a.sqlitePath != "" {
		cfg.Store.SQLitePath = a.sqlitePath
	}
	if a.logLevel != "" {
		cfg.Observability.Logging.Level = a.logLevel
	}
	if err := errors.Join(cfg.Store.Validate(), cfg.Observability.Validate()); err != nil {
		return err
	}
	a.cfg = cfg

	// 遥测导出写到 stderr，stdout 只留给命令输出
	provider, err := otel.NewProvider(ctx, cfg.Observability,
		otel.WithLogWriter(os.Stderr),
		otel.WithExportWriter(os.Stderr),
	)
	if err != nil {
		return err
	}
	otel.SetGlobal(provider)
	a.provider = provider

	backend, err := store.New(ctx, &cfg.Store)
	if err != nil {
		return err
	}
	a.store = store.NewTracedStore(backend, cfg.Store.Type,
		store.WithStoreTracer(provider.Tracer()),
		store.WithStoreMetrics(provider.Metrics()),
	)

	var counter injctx.TokenCounter
	if a.estimateTokens {
		counter = injctx.NewEstimatedCounter()
	} else {
		counter = injctx.DefaultTokenCounter()
	}

	a.injector = injctx.NewInjector(a.store,
		injctx.WithTokenCounter(counter),
		injctx.WithTracer(provider.Tracer()),
		injctx.WithMetrics(provider.Metrics()),
		injctx.WithLogger(provider.Logger()),
	)
	return nil
}

// teardown 关闭存储并刷新遥测数据
func (a *app) teardown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
		a.store = nil
	}
	if a.provider != nil {
		errs = append(errs, a.provider.Shutdown(ctx))
		a.provider = nil
	}
	return errors.Join(errs...)
}
