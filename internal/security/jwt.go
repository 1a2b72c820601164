package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType はJWTの用途を表すtypクレームの値。
type TokenType string

const (
	// TokenTypeAccess はアクセストークン。
	TokenTypeAccess TokenType = "access"
	// TokenTypeRefresh はリフレッシュトークン。
	TokenTypeRefresh TokenType = "refresh"
)

// ErrInvalidToken は署名・有効期限・種別のいずれかが不正なトークンを表す。
var ErrInvalidToken = errors.New("invalid token")

// Claims はアクセストークンとリフレッシュトークンのクレーム。
type Claims struct {
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// TokenManager はHS256で署名したアクセストークンとリフレッシュトークンを発行・検証する。
// 両者は別々の秘密鍵で署名される。
type TokenManager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
	now           func() time.Time
}

// NewTokenManager はTokenManagerを生成する。
func NewTokenManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
		now:           time.Now,
	}
}

// RefreshTTL はリフレッシュトークンの有効期間を返す。
func (m *TokenManager) RefreshTTL() time.Duration {
	return m.refreshTTL
}

// IssuePair はユーザーIDに対するアクセストークンとリフレッシュトークンを発行する。
// jtiにUUIDを含めるため、同一秒内に発行したペアも互いに異なる。
func (m *TokenManager) IssuePair(userID string) (accessToken, refreshToken string, err error) {
	now := m.now()
	accessToken, err = m.sign(userID, TokenTypeAccess, now, m.accessTTL, m.accessSecret)
	if err != nil {
		return "", "", err
	}
	refreshToken, err = m.sign(userID, TokenTypeRefresh, now, m.refreshTTL, m.refreshSecret)
	if err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

func (m *TokenManager) sign(userID string, typ TokenType, now time.Time, ttl time.Duration, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Type: typ,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", typ, err)
	}
	return signed, nil
}

// ParseAccess はアクセストークンを検証し、ユーザーIDを返す。
func (m *TokenManager) ParseAccess(token string) (string, error) {
	return m.parse(token, TokenTypeAccess, m.accessSecret)
}

// ParseRefresh はリフレッシュトークンを検証し、ユーザーIDを返す。
func (m *TokenManager) ParseRefresh(token string) (string, error) {
	return m.parse(token, TokenTypeRefresh, m.refreshSecret)
}

func (m *TokenManager) parse(tokenString string, want TokenType, secret []byte) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Type != want || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
