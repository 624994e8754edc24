package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/kyuen/internal/aggregate"
	"github.com/hitoshi/kyuen/internal/config"
	"github.com/hitoshi/kyuen/internal/database"
	"github.com/hitoshi/kyuen/internal/fulfillment"
	"github.com/hitoshi/kyuen/internal/geocode"
	"github.com/hitoshi/kyuen/internal/handler"
	"github.com/hitoshi/kyuen/internal/logger"
	"github.com/hitoshi/kyuen/internal/metrics"
	"github.com/hitoshi/kyuen/internal/middleware"
	"github.com/hitoshi/kyuen/internal/notify"
	"github.com/hitoshi/kyuen/internal/pin"
	"github.com/hitoshi/kyuen/internal/repository"
	"github.com/hitoshi/kyuen/internal/security"
	"github.com/hitoshi/kyuen/internal/worker/reconcile"
)

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
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. セキュリティサービスの初期化と設定の事前検証
	// ジオコーディングエンドポイントが差し替えられている場合、
	// 内部ネットワークを向いた設定値を起動時点で拒否する。
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	if cfg.GeocodeEndpoint != "" {
		if err := ssrfGuard.ValidateURL(cfg.GeocodeEndpoint); err != nil {
			return fmt.Errorf("invalid geocode endpoint: %w", err)
		}
	}

	// 2. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 3. リポジトリの初期化
	pinRepo := repository.NewPostgresPinRepo(db)
	pinItemRepo := repository.NewPostgresPinItemRepo(db)
	itemRepo := repository.NewPostgresItemRepo(db)
	membershipRepo := repository.NewPostgresMembershipRepo(db)
	notificationRepo := repository.NewPostgresNotificationRepo(db)

	// 4. メトリクスコレクターの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. ジオコーディングの初期化
	// 外部APIへのリクエストはSSRF防止付きクライアント経由で行う
	geocodeClient := geocode.NewClient(
		ssrfGuard.NewSafeClient(cfg.GeocodeTimeout),
		slog.Default(),
		geocode.ClientConfig{
			Endpoint:   cfg.GeocodeEndpoint,
			RatePerSec: cfg.GeocodeRatePerSec,
		},
	)
	regionCache := geocode.NewRegionCache(cfg.GeocodeCacheTTL)

	// 6. ドメインサービスの初期化
	notifyService := notify.NewService(membershipRepo, notificationRepo, slog.Default(), collector)
	pinService := pin.NewService(
		pinRepo, pinItemRepo, itemRepo, membershipRepo,
		notifyService, sanitizer, slog.Default(), collector,
		cfg.NotifyTimeout,
	)
	fulfillmentService := fulfillment.NewService(pinRepo, pinItemRepo, regionCache, slog.Default(), collector)
	aggregateService := aggregate.NewService(pinItemRepo, geocodeClient, regionCache, slog.Default(), collector)

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitReport),
	)
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		MetricsHandler:    metrics.SetupMetricsRoute(registry),

		PinService:         pinService,
		FulfillmentService: fulfillmentService,
		ItemCatalog:        itemRepo,
		AggregateService:   aggregateService,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、完了処理の回復ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	pinRepo := repository.NewPostgresPinRepo(db)
	pinItemRepo := repository.NewPostgresPinItemRepo(db)

	// 3. 回復サービスの初期化
	// ワーカーは地域キャッシュを持たないため、キャッシュ無効化はnilでよい。
	// キャッシュのTTL失効がAPI側の表示を追従させる。
	collector := metrics.NewCollector(prometheus.NewRegistry())
	fulfillmentService := fulfillment.NewService(pinRepo, pinItemRepo, nil, slog.Default(), collector)

	// 4. 回復ジョブの初期化
	job := reconcile.NewJob(pinRepo, fulfillmentService, slog.Default(), reconcile.JobConfig{
		Interval:    cfg.ReconcileInterval,
		OrphanGrace: cfg.ReconcileOrphanGrace,
	})

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("reconcile_interval", cfg.ReconcileInterval),
		slog.Duration("orphan_grace", cfg.ReconcileOrphanGrace),
	)

	// 回復ジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
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
