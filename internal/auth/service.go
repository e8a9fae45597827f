// Package auth はユーザー登録・パスワード認証とセッション発行を提供する。
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/hitoshi/mockmarket/internal/model"
	"github.com/hitoshi/mockmarket/internal/repository"
	"github.com/shopspring/decimal"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
	minPasswordLen = 8
	// bcryptは72バイトを超える入力を扱えない
	maxPasswordLen = 72
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// SessionIssuer はセッションの発行・参照・破棄を行うインターフェース。
type SessionIssuer interface {
	CreateSession(ctx context.Context, username string) (*model.Session, error)
	GetSessionData(ctx context.Context, token string) (*model.Session, error)
	LogoutSession(ctx context.Context, token string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	InitialBalance decimal.Decimal
	BcryptCost     int
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	userRepo repository.UserRepository
	sessions SessionIssuer
	hasher   *PasswordHasher
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。
func NewService(userRepo repository.UserRepository, sessions SessionIssuer, config ServiceConfig) *Service {
	return &Service{
		userRepo: userRepo,
		sessions: sessions,
		hasher:   NewPasswordHasher(config.BcryptCost),
		config:   config,
		now:      time.Now,
	}
}

// CreateUser はユーザーと初期残高のウォレットを作成する。
// ユーザー名が既に存在する場合はDUPLICATE_USERNAMEを返す。
func (s *Service) CreateUser(ctx context.Context, username, password string) error {
	if err := validateCredentials(username, password); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	user := &model.User{
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.userRepo.CreateWithWallet(ctx, user, s.config.InitialBalance); err != nil {
		if model.HasCode(err, model.ErrCodeDuplicateUsername) {
			return err
		}
		return fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("ユーザーを作成しました",
		slog.String("username", username),
		slog.String("initial_balance", s.config.InitialBalance.String()),
	)
	return nil
}

// VerifyUser はユーザー名とパスワードを照合する。
// ユーザーが存在しない場合もパスワード不一致と同じINVALID_CREDENTIALSを返す。
func (s *Service) VerifyUser(ctx context.Context, username, password string) error {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		s.hasher.CompareDummy(password)
		return model.NewInvalidCredentialsError()
	}

	ok, err := s.hasher.Compare(user.PasswordHash, password)
	if err != nil {
		return err
	}
	if !ok {
		return model.NewInvalidCredentialsError()
	}
	return nil
}

// Signup は入力を検証してユーザーを作成し、セッションを発行する。
func (s *Service) Signup(ctx context.Context, username, password, confirm string) (*model.Session, error) {
	if username == "" || password == "" || confirm == "" {
		return nil, model.NewValidationError("ユーザー名・パスワード・確認用パスワードは必須です")
	}
	if password != confirm {
		return nil, model.NewValidationError("確認用パスワードが一致しません")
	}

	if err := s.CreateUser(ctx, username, password); err != nil {
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// Login は認証に成功した場合にセッションを発行する。
func (s *Service) Login(ctx context.Context, username, password string) (*model.Session, error) {
	if username == "" || password == "" {
		return nil, model.NewValidationError("ユーザー名とパスワードは必須です")
	}

	if err := s.VerifyUser(ctx, username, password); err != nil {
		if model.HasCode(err, model.ErrCodeInvalidCredentials) {
			slog.Warn("ログインに失敗しました", slog.String("username", username))
		}
		return nil, err
	}

	session, err := s.sessions.CreateSession(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("ログインしました", slog.String("username", username))
	return session, nil
}

// Logout はセッションを破棄する。存在しないトークンでもエラーにしない。
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.LogoutSession(ctx, token); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// CurrentUser はセッションから現在のユーザーを取得する。
// セッションが無効な場合はSESSION_EXPIREDを返す。
func (s *Service) CurrentUser(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, model.NewSessionExpiredError()
	}

	session, err := s.sessions.GetSessionData(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewSessionExpiredError()
	}

	user, err := s.userRepo.FindByUsername(ctx, session.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewSessionExpiredError()
	}
	return user, nil
}

func validateCredentials(username, password string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen || !usernamePattern.MatchString(username) {
		return model.NewValidationError(fmt.Sprintf(
			"ユーザー名は%d〜%d文字の英数字・アンダースコア・ドット・ハイフンで指定してください",
			minUsernameLen, maxUsernameLen))
	}
	if len(password) < minPasswordLen {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で指定してください", minPasswordLen))
	}
	if len(password) > maxPasswordLen {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以下で指定してください", maxPasswordLen))
	}
	return nil
}
