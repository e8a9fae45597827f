package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hitoshi/mockmarket/internal/auth"
	"github.com/hitoshi/mockmarket/internal/config"
	"github.com/hitoshi/mockmarket/internal/database"
	"github.com/hitoshi/mockmarket/internal/handler"
	"github.com/hitoshi/mockmarket/internal/logger"
	"github.com/hitoshi/mockmarket/internal/metrics"
	"github.com/hitoshi/mockmarket/internal/middleware"
	"github.com/hitoshi/mockmarket/internal/portfolio"
	"github.com/hitoshi/mockmarket/internal/quote"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/hitoshi/mockmarket/internal/security"
	"github.com/hitoshi/mockmarket/internal/session"
	"github.com/hitoshi/mockmarket/internal/trade"
	"github.com/hitoshi/mockmarket/internal/user"
	"github.com/hitoshi/mockmarket/internal/worker/cleanup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
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
	logger.SetLevel(cfg.LogLevel)

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
		slog.String("base_url", cfg.BaseURL),
		slog.String("session_store", cfg.SessionStore),
		slog.String("quote_provider", cfg.QuoteProvider),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandSweep:
		return runSweep(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")
	return db, nil
}

// newSessionStore は設定に応じたセッションストアを生成する。
// 返すclose関数はストアが保持する外部接続を閉じる。
func newSessionStore(cfg *config.Config, db *sql.DB) (repository.SessionRepository, func() error, error) {
	noop := func() error { return nil }

	switch cfg.SessionStore {
	case config.SessionStoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		slog.Info("redis connection established", slog.String("addr", cfg.RedisAddr))
		return session.NewRedisStore(client), client.Close, nil
	case config.SessionStoreFile:
		store, err := session.NewFileStore(cfg.SessionFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session file: %w", err)
		}
		return store, noop, nil
	default:
		return repository.NewPostgresSessionRepo(db), noop, nil
	}
}

// requireSharedSessionStore はserve以外のプロセスから掃除できるストアかを確認する。
// ファイルストアはserveプロセスが単独で所有し、掃除もserve内で行う。
// 別プロセスが起動時のスナップショットから書き戻すと、その後の作成やログアウトが失われる。
func requireSharedSessionStore(cfg *config.Config, cmd Command) error {
	if cfg.SessionStore == config.SessionStoreFile {
		return fmt.Errorf("SESSION_STORE=%s is owned by the serve process and cannot be used by %s; expired sessions are swept by serve", cfg.SessionStore, cmd)
	}
	return nil
}

// newQuoteProvider は設定に応じた株価プロバイダーを生成する。
// QuoteCacheTTLが正の場合はキャッシュで包む。
func newQuoteProvider(cfg *config.Config, recorder quote.Recorder) (quote.Provider, error) {
	var provider quote.Provider

	switch cfg.QuoteProvider {
	case config.QuoteProviderStatic:
		provider = quote.NewStatic(cfg.QuoteStaticPrices)
	default:
		var httpClient *http.Client
		if cfg.QuoteAllowPrivate {
			// ローカルのモックAPI向け。接続先の検証を行わない
			slog.Warn("outbound address validation is disabled for quote provider")
			httpClient = &http.Client{Timeout: cfg.QuoteTimeout}
		} else {
			if err := security.ValidateEndpoint(cfg.QuoteBaseURL); err != nil {
				return nil, fmt.Errorf("invalid QUOTE_BASE_URL: %w", err)
			}
			httpClient = security.NewOutboundClient(cfg.QuoteTimeout)
		}
		provider = quote.NewClient(httpClient, slog.Default(), quote.ClientConfig{
			BaseURL:   cfg.QuoteBaseURL,
			APIToken:  cfg.QuoteAPIToken,
			PricePath: cfg.QuotePricePath,
			TimePath:  cfg.QuoteTimePath,
		}, recorder)
	}

	if cfg.QuoteCacheTTL > 0 {
		provider = quote.NewCache(provider, cfg.QuoteCacheTTL, recorder)
	}
	return provider, nil
}

// services はrunServeで組み立てる依存関係。
type services struct {
	router      http.Handler
	sessions    *session.Manager
	rateLimiter *middleware.RateLimiter
}

// buildServices はDB接続とセッションストアから全依存関係をワイヤリングする。
func buildServices(cfg *config.Config, db *sql.DB, store repository.SessionRepository, reg *prometheus.Registry) (*services, error) {
	collector := metrics.NewCollector(reg)

	// 1. セッション
	sessions := session.NewManager(store, session.ManagerConfig{
		TTL:           cfg.SessionTTL,
		SweepInterval: cfg.SessionSweepInterval,
		Recorder:      collector,
	})

	// 2. 認証
	authService := auth.NewService(repository.NewPostgresUserRepo(db), sessions, auth.ServiceConfig{
		InitialBalance: cfg.InitialWalletBalance,
		BcryptCost:     cfg.BcryptCost,
	})

	// 3. 株価・台帳・売買
	quotes, err := newQuoteProvider(cfg, collector)
	if err != nil {
		return nil, err
	}

	books := trade.NewPostgresBooks(db, portfolio.NewClock(nil))
	tradeService := trade.NewService(quotes, books, trade.Config{
		QuoteTimeout: cfg.QuoteTimeout,
		Recorder:     collector,
	})

	ledgers := books.Ledgers()
	accountService := user.NewService(ledgers.Wallet, ledgers.Portfolio, sessions, cfg.Currency)

	// 4. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitTrade),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		HealthChecker:  db,
		MetricsHandler: metrics.SetupMetricsRoute(reg),
		StatusRecorder: collector,
		Logger:         slog.Default(),

		SessionValidator:  sessions,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		RateLimiter: rateLimiter,

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: int(sessions.TTL().Seconds()),
		},

		AccountService: accountService,
		TradeService:   tradeService,
		QuoteProvider:  quotes,
	})

	return &services{
		router:      router,
		sessions:    sessions,
		rateLimiter: rateLimiter,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, closeStore, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := buildServices(cfg, db, store, prometheus.NewRegistry())
	if err != nil {
		return err
	}
	defer svc.rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      svc.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("server listen error: %w", err)
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	// 実行中のバックグラウンド掃除を待ってからストアを閉じる
	svc.sessions.Wait()

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションの定期削除ジョブを実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if err := requireSharedSessionStore(cfg, CommandWorker); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, closeStore, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions := session.NewManager(store, session.ManagerConfig{
		TTL:      cfg.SessionTTL,
		Recorder: metrics.NewCollector(prometheus.NewRegistry()),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	job := cleanup.NewSessionSweepJob(sessions, slog.Default())
	job.Interval = cfg.SessionSweepJobInterval

	slog.Info("worker starting",
		slog.Duration("sweep_interval", job.Interval),
	)

	// メインgoroutineで実行（ブロッキング）
	job.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runSweep は期限切れセッションを1回削除して終了する。
func runSweep(cfg *config.Config) error {
	if err := requireSharedSessionStore(cfg, CommandSweep); err != nil {
		return err
	}

	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store, closeStore, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions := session.NewManager(store, session.ManagerConfig{TTL: cfg.SessionTTL})
	return cleanup.NewSessionSweepJob(sessions, slog.Default()).Run(context.Background())
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
