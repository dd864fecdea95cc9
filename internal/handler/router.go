package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/feedsync/internal/metrics"
	"github.com/hitoshi/feedsync/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter

	// フィード
	Resolver   FeedResolver
	Subscriber FeedSubscriber
	Metrics    metrics.Recorder

	// OPML
	OPMLImporter OPMLImporter
	FeedLister   FeedLister

	// 運用
	DB             Pinger
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → RateLimit(General) → RateLimit(Discovery、検出系のみ)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	feedHandler := NewFeedHandler(deps.Resolver, deps.Subscriber, deps.Metrics, deps.Logger)
	opmlHandler := NewOPMLHandler(deps.OPMLImporter, deps.FeedLister, deps.Logger)
	healthHandler := NewHealthHandler(deps.DB, deps.Logger)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler.Health)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- API ---
	r.Route("/api", func(r chi.Router) {
		if deps.RateLimiter != nil {
			r.Use(deps.RateLimiter.GeneralMiddleware())
		}

		r.Get("/opml/export", opmlHandler.Export)

		// 外部サイトへのリクエストを伴う検出系
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.DiscoveryMiddleware())
			}
			r.Get("/links", feedHandler.Links)
			r.Post("/resolve", feedHandler.Resolve)
			r.Post("/feeds", feedHandler.Subscribe)
			r.Post("/opml/import", opmlHandler.Import)
		})
	})

	return r
}
