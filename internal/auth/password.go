package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher はbcryptによるパスワードハッシュ化を行う。
type PasswordHasher struct {
	cost int
	// dummyHash は存在しないユーザーの照合に使うハッシュ。
	// 既存ユーザーと同じコストで比較を走らせ、応答時間からユーザーの有無を推測させない。
	dummyHash []byte
}

// NewPasswordHasher はPasswordHasherを生成する。
// costがbcryptの許容範囲外の場合はbcrypt.DefaultCostを使用する。
func NewPasswordHasher(cost int) *PasswordHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("mockmarket-dummy-password"), cost)
	if err != nil {
		// 許容範囲内のコストでは発生しない
		panic(fmt.Sprintf("failed to generate dummy hash: %v", err))
	}
	return &PasswordHasher{cost: cost, dummyHash: dummy}
}

// Hash はパスワードをソルト付きでハッシュ化する。
func (h *PasswordHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Compare はハッシュとパスワードを定数時間で照合する。
// 一致しない場合はfalseを返し、ハッシュ自体が壊れている場合のみエラーを返す。
func (h *PasswordHasher) Compare(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare password: %w", err)
}

// CompareDummy は存在しないユーザー向けにダミーハッシュとの照合を行う。
func (h *PasswordHasher) CompareDummy(password string) {
	_ = bcrypt.CompareHashAndPassword(h.dummyHash, []byte(password))
}
