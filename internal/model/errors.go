// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, ledger, quote, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeDuplicateUsername    = "DUPLICATE_USERNAME"
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeNoSuchWallet         = "NO_SUCH_WALLET"
	ErrCodeInsufficientFunds    = "INSUFFICIENT_FUNDS"
	ErrCodeInsufficientHoldings = "INSUFFICIENT_HOLDINGS"
	ErrCodeQuoteUnavailable     = "QUOTE_UNAVAILABLE"
	ErrCodeSessionExpired       = "SESSION_EXPIRED"
	ErrCodeValidation           = "VALIDATION_FAILED"
)

// HasCode はerrのチェーンに指定コードのAPIErrorが含まれるかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	return false
}

// NewDuplicateUsernameError はユーザー名重複エラーを生成する。
func NewDuplicateUsernameError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateUsername,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", username),
		Category: "auth",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewInvalidCredentialsError は認証失敗エラーを生成する。
// ユーザーの存在有無を推測されないよう、原因によらず同一の内容を返す。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "ユーザー名またはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度ログインしてください。",
	}
}

// NewNoSuchWalletError はウォレット未検出エラーを生成する。
func NewNoSuchWalletError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeNoSuchWallet,
		Message:  fmt.Sprintf("ウォレットが見つかりません: %s", username),
		Category: "ledger",
		Action:   "ログインし直してください。",
	}
}

// NewInsufficientFundsError は残高不足エラーを生成する。
func NewInsufficientFundsError() *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientFunds,
		Message:  "残高が不足しています。",
		Category: "ledger",
		Action:   "数量を減らすか、保有株を売却してから再度お試しください。",
	}
}

// NewInsufficientHoldingsError は保有株数不足エラーを生成する。
func NewInsufficientHoldingsError(ticker string) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientHoldings,
		Message:  fmt.Sprintf("保有株数が不足しています: %s", ticker),
		Category: "ledger",
		Action:   "保有数量以下の数量を指定してください。",
	}
}

// NewQuoteUnavailableError は株価取得失敗エラーを生成する。
func NewQuoteUnavailableError(ticker, reason string) *APIError {
	return &APIError{
		Code:     ErrCodeQuoteUnavailable,
		Message:  fmt.Sprintf("株価を取得できませんでした: %s (%s)", ticker, reason),
		Category: "quote",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSessionExpiredError はセッション期限切れ・不明エラーを生成する。
func NewSessionExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionExpired,
		Message:  "セッションが無効か、有効期限が切れています。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  fmt.Sprintf("入力内容が正しくありません: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}
