// Package app はサブコマンドごとの依存関係の組み立てと起動を提供する。
package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"

	"github.com/hitoshi/feedsync/internal/category"
	"github.com/hitoshi/feedsync/internal/config"
	"github.com/hitoshi/feedsync/internal/database"
	"github.com/hitoshi/feedsync/internal/feed"
	"github.com/hitoshi/feedsync/internal/handler"
	"github.com/hitoshi/feedsync/internal/httpclient"
	"github.com/hitoshi/feedsync/internal/item"
	"github.com/hitoshi/feedsync/internal/logger"
	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/middleware"
	"github.com/hitoshi/feedsync/internal/opml"
	"github.com/hitoshi/feedsync/internal/repository"
	"github.com/hitoshi/feedsync/internal/worker/cleanup"
	fetchpkg "github.com/hitoshi/feedsync/internal/worker/fetch"
)

// dbReadyTimeout はDB起動待ちの上限。
const dbReadyTimeout = 30 * time.Second

// environment はサブコマンドが共有する初期化済みの設定とロガー。
type environment struct {
	cfg    *config.Config
	logger *slog.Logger
}

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。SIGINTまたはSIGTERMを受信するとcontextをキャンセルする。
func Run(w io.Writer, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return NewCLI(w).RunContext(ctx, append([]string{"feedsync"}, args...))
}

// runWithConfig は設定を読み込んでからactionを実行する。
func runWithConfig(c *cli.Context, w io.Writer, cmd Command, action func(*cli.Context, *environment) error) error {
	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	env := &environment{cfg: cfg, logger: slog.Default()}
	env.logger.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)
	return action(c, env)
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(ctx context.Context, env *environment) (*sql.DB, error) {
	db, err := database.Open(env.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := database.PingWithRetry(ctx, db, dbReadyTimeout, env.logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	env.logger.Info("database connection established")
	return db, nil
}

// newHTTPClient は外部サイト取得用のHTTPクライアントを生成する。
func newHTTPClient(cfg *config.Config) *httpclient.Client {
	hc := httpclient.Config{
		Timeout:     cfg.FetchTimeout,
		MaxBodySize: cfg.FetchMaxSize,
		UserAgent:   cfg.UserAgent,
	}
	if cfg.SSRFProtection {
		hc.Guard = httpclient.NewSSRFGuard()
	}
	return httpclient.New(hc)
}

// newResolver はフィード検出器を生成する。REDIS_URLが設定されていれば検出結果をキャッシュする。
// 返り値のcloseはキャッシュ接続を閉じる。
func newResolver(ctx context.Context, env *environment, client httpclient.Getter) (*feed.Resolver, func()) {
	validator := feed.NewCandidateValidator(client, env.logger)
	registry := feed.DefaultRegistry(client, validator, env.logger)

	var cache feed.ResolveCache
	closeCache := func() {}
	if env.cfg.RedisURL != "" {
		rc, err := feed.NewRedisCache(ctx, env.cfg.RedisURL, env.cfg.ResolveCacheTTL, env.logger)
		if err != nil {
			env.logger.Warn("検出キャッシュを使用せずに起動します", slog.String("error", err.Error()))
		} else {
			cache = rc
			closeCache = func() { rc.Close() }
		}
	}

	resolver := feed.NewResolver(client, registry, validator, cache, env.logger, feed.ResolverConfig{
		MaxDepth: env.cfg.ResolveMaxDepth,
	})
	return resolver, closeCache
}

// newMetrics はGoランタイムとプロセスのメトリクスを含むレジストリとCollectorを生成する。
func newMetrics() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// runServe はAPIサーバーモードで起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(c *cli.Context, env *environment) error {
	ctx := c.Context
	cfg := env.cfg

	db, err := openDB(ctx, env)
	if err != nil {
		return err
	}
	defer db.Close()

	feedRepo := repository.NewPostgresFeedRepo(db)
	categoryRepo := repository.NewPostgresCategoryRepo(db)

	client := newHTTPClient(cfg)
	resolver, closeCache := newResolver(ctx, env, client)
	defer closeCache()

	feedService := feed.NewService(feedRepo, categoryRepo, resolver, env.logger)
	importer := opml.NewImporter(feedService, env.logger)

	reg, collector := newMetrics()

	rateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(cfg.RateLimitGeneral), env.logger)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:         env.logger,
		RateLimiter:    rateLimiter,
		Resolver:       resolver,
		Subscriber:     feedService,
		Metrics:        collector,
		OPMLImporter:   importer,
		FeedLister:     feedRepo,
		DB:             db,
		MetricsHandler: metrics.Handler(reg),
	})

	return serveHTTP(ctx, env.logger, ":"+cfg.ServerPort, router)
}

// runWorker はワーカーモードで起動する。
// 定期更新スケジューラ、記事クリーンアップ、運用エンドポイント（/health, /metrics）を動かす。
func runWorker(c *cli.Context, env *environment) error {
	ctx := c.Context
	cfg := env.cfg

	db, err := openDB(ctx, env)
	if err != nil {
		return err
	}
	defer db.Close()

	feedRepo := repository.NewPostgresFeedRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	categoryRepo := repository.NewPostgresCategoryRepo(db)

	reg, collector := newMetrics()

	// 1. 更新処理
	client := newHTTPClient(cfg)
	inserter := item.NewInserter(itemRepo, item.NewSanitizer(), env.logger)
	updater := fetchpkg.NewUpdater(feedRepo, client, feed.NewParser(client), inserter, collector, env.logger, fetchpkg.UpdaterConfig{
		MinSpacing:     cfg.DomainMinSpacing,
		FetchTimeout:   cfg.FetchTimeout,
		MaxConcurrency: cfg.FetchMaxConcurrent,
	})

	// 2. 分類ルール
	rules := category.DefaultRules()
	if cfg.CategoryRulesFile != "" {
		rules, err = category.LoadRules(cfg.CategoryRulesFile)
		if err != nil {
			return fmt.Errorf("failed to load category rules: %w", err)
		}
	}
	categorizer := category.NewKeywordCategorizer(itemRepo, categoryRepo, rules, env.logger)

	// 3. スケジューラ
	scheduler, err := fetchpkg.NewScheduler(updater, categorizer, env.logger, fetchpkg.SchedulerConfig{
		Interval:       cfg.UpdateInterval,
		DriftThreshold: cfg.DriftThreshold,
	})
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	// 4. クリーンアップ
	cleanupJob := cleanup.NewCleanupJob(itemRepo, cfg.RetentionDays, env.logger)
	if err := cleanupJob.Start(ctx, cfg.CleanupSchedule); err != nil {
		return err
	}
	defer cleanupJob.Stop()

	// 5. 運用エンドポイント。起動に失敗した場合はワーカー全体を止める
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	opsErr := make(chan error, 1)
	go func() {
		err := serveHTTP(ctx, env.logger, ":"+cfg.ServerPort, newOpsRouter(db, reg, env.logger))
		if err != nil {
			cancel()
		}
		opsErr <- err
	}()

	env.logger.Info("worker starting",
		slog.Duration("update_interval", cfg.UpdateInterval),
		slog.Duration("domain_min_spacing", cfg.DomainMinSpacing),
		slog.Int("max_concurrent", cfg.FetchMaxConcurrent),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Run(ctx)

	if err := <-opsErr; err != nil {
		return err
	}
	env.logger.Info("worker stopped gracefully")
	return nil
}

// newOpsRouter はワーカー用の運用エンドポイントを構成する。
func newOpsRouter(db handler.Pinger, reg prometheus.Gatherer, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Get("/health", handler.NewHealthHandler(db, logger).Health)
	r.Handle("/metrics", metrics.Handler(reg))
	return r
}

// serveHTTP はctxがキャンセルされるまでHTTPサーバーを動かし、その後グレースフルシャットダウンする。
func serveHTTP(ctx context.Context, logger *slog.Logger, addr string, h http.Handler) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server starting", slog.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("HTTP server stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(_ *cli.Context, env *environment) error {
	env.logger.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(env.cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(env.cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	env.logger.Info("database migrations completed successfully")
	return nil
}

// runResolve は1つのURLからフィードを検出し、結果をJSONで書き出す。DBは使用しない。
func runResolve(c *cli.Context, env *environment, rawURL string) error {
	if _, ok := feed.NormalizeInput(rawURL); !ok {
		return fmt.Errorf("invalid url: %q", rawURL)
	}

	resolver, closeCache := newResolver(c.Context, env, newHTTPClient(env.cfg))
	defer closeCache()

	feeds := resolver.Resolve(c.Context, rawURL)
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(feeds)
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}

// Main はプロセスのエントリーポイント。終了コードを返す。
func Main() int {
	if err := Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	return 0
}
