package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/kyuen/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// MetricsHandler はPrometheusメトリクスのエンドポイント。nilの場合はマウントしない。
	MetricsHandler http.Handler

	// 救援要請
	PinService         PinServiceInterface
	FulfillmentService FulfillmentServiceInterface

	// 物資カタログ
	ItemCatalog ItemCatalogInterface

	// 地域別集計
	AggregateService AggregateServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → SecurityHeaders → Recovery → Logging → ActorMiddleware → RateLimit(General)
//
// 匿名での要請報告を受け付けるため、認証必須のゲートは置かない。
// トラッカー権限が必要な操作はハンドラーとサービス層で判定する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	// CORS ミドルウェアを最上位に適用（全ルートに効く）
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))

	pinHandler := NewPinHandler(deps.PinService, deps.FulfillmentService)
	itemHandler := NewItemHandler(deps.ItemCatalog)
	aggregateHandler := NewAggregateHandler(deps.AggregateService)

	// ヘルスチェック（レート制限の外）
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Prometheusメトリクス（レート制限の外。公開時はインフラ側でアクセス制御する）
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---
	// ミドルウェアスタック: Actor → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewActorMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 救援要請
		r.Route("/api/pins", func(r chi.Router) {
			// POST /api/pins - 要請報告（報告専用レート制限を追加）
			r.With(deps.RateLimiter.ReportMiddleware()).Post("/", pinHandler.CreatePin)
			r.Get("/", pinHandler.ListPins)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", pinHandler.GetPin)
				r.Post("/confirm", pinHandler.Confirm)
				r.Post("/items", pinHandler.AttachItems)
				r.Post("/accept", pinHandler.Accept)
			})
		})

		// 物資カタログ
		r.Get("/api/items", itemHandler.ListItems)

		// 地域別集計
		r.Get("/api/needs/regions", aggregateHandler.ListRegionNeeds)
	})

	return r
}
