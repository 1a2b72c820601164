// Package security はパスワードハッシュ、トークン生成、JWT、入力サニタイズを提供する。
package security

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost はbcryptのデフォルトコスト。
const DefaultBcryptCost = 12

// MinPasswordLength はパスワードの最小文字数。
const MinPasswordLength = 8

// MaxPasswordBytes はbcryptが扱える最大バイト数。
const MaxPasswordBytes = 72

// BcryptHasher はbcryptによるパスワードハッシュ化を行う。
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher はBcryptHasherを生成する。
// costが有効範囲外の場合はDefaultBcryptCostを使用する。
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultBcryptCost
	}
	return &BcryptHasher{cost: cost}
}

// Cost は使用中のコストを返す。
func (h *BcryptHasher) Cost() int {
	return h.cost
}

// Hash はパスワードをハッシュ化する。
func (h *BcryptHasher) Hash(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(b), nil
}

// Verify はパスワードがハッシュと一致するかを返す。
// 不一致はエラーではなくfalseとして返す。
func (h *BcryptHasher) Verify(hash, password string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to compare password: %w", err)
	}
	return true, nil
}

// ValidatePassword はパスワードポリシーを検証し、違反内容を返す。
// 違反が無ければ空文字列を返す。
func ValidatePassword(password string) string {
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return fmt.Sprintf("password must be at least %d characters", MinPasswordLength)
	}
	if len(password) > MaxPasswordBytes {
		return fmt.Sprintf("password must be at most %d bytes", MaxPasswordBytes)
	}

	var upper, lower, digit, special bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			special = true
		}
	}
	switch {
	case !upper:
		return "password must contain an uppercase letter"
	case !lower:
		return "password must contain a lowercase letter"
	case !digit:
		return "password must contain a digit"
	case !special:
		return "password must contain a special character"
	}
	return ""
}
