// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mockmarket/internal/model"
)

// SessionCookieName はセッショントークンを保持するCookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	usernameContextKey     = contextKey("username")
	sessionTokenContextKey = contextKey("session_token")
)

// SessionValidator はセッショントークンの検証に必要なインターフェース。
// session.Managerが満たす。
type SessionValidator interface {
	ValidateSession(ctx context.Context, token string) (string, bool, error)
}

// NewSessionMiddleware はCookieのセッショントークンを検証するミドルウェアを返す。
// 認証済みユーザー名とトークンをリクエストコンテキストに注入する。
// 未認証・期限切れのリクエストには401とSESSION_EXPIREDを返す。
func NewSessionMiddleware(validator SessionValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(SessionCookieName)
			if err != nil || cookie.Value == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
				return
			}

			username, ok, err := validator.ValidateSession(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to validate session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewSessionExpiredError())
				return
			}

			setRequestUsername(r.Context(), username)
			ctx := context.WithValue(r.Context(), usernameContextKey, username)
			ctx = context.WithValue(ctx, sessionTokenContextKey, cookie.Value)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UsernameFromContext はリクエストコンテキストからユーザー名を取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UsernameFromContext(ctx context.Context) (string, error) {
	username, ok := ctx.Value(usernameContextKey).(string)
	if !ok || username == "" {
		return "", fmt.Errorf("username not found in context")
	}
	return username, nil
}

// SessionTokenFromContext はリクエストコンテキストからセッショントークンを取得する。
func SessionTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenContextKey).(string)
	return token
}

// ContextWithUsername はコンテキストにユーザー名を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameContextKey, username)
}

// ContextWithSession はコンテキストにユーザー名とセッショントークンを注入する。
func ContextWithSession(ctx context.Context, username, token string) context.Context {
	ctx = context.WithValue(ctx, usernameContextKey, username)
	return context.WithValue(ctx, sessionTokenContextKey, token)
}
