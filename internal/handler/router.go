package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mockmarket/internal/middleware"
	"github.com/hitoshi/mockmarket/internal/quote"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler
	StatusRecorder middleware.StatusRecorder
	Logger         *slog.Logger

	// ミドルウェア依存
	SessionValidator  middleware.SessionValidator
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 口座・売買・株価
	AccountService AccountServiceInterface
	TradeService   TradeServiceInterface
	QuoteProvider  quote.Provider
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS → Metrics → CSRF
//	認証が必要なルート: → Session → RateLimit(General) [→ RateLimit(Trade)]
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	if deps.StatusRecorder != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.StatusRecorder))
	}
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig)
	accountHandler := NewAccountHandler(deps.AccountService)
	tradeHandler := NewTradeHandler(deps.TradeService)
	quoteHandler := NewQuoteHandler(deps.QuoteProvider)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.Signup)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionValidator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/api/me", accountHandler.Overview)
		r.Get("/api/wallet", accountHandler.Wallet)
		r.Get("/api/portfolio", accountHandler.Portfolio)
		r.Get("/api/portfolio/{ticker}/lots", accountHandler.Lots)
		r.Get("/api/quotes/{ticker}", quoteHandler.GetQuote)

		r.Route("/api/trades", func(r chi.Router) {
			r.Use(deps.RateLimiter.TradeMiddleware())
			r.Post("/preview", tradeHandler.Preview)
			r.Post("/buy", tradeHandler.Buy)
			r.Post("/sell", tradeHandler.Sell)
		})
	})

	return r
}
