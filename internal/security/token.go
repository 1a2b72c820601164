package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// tokenBytes は不透明トークンのバイト長。hexエンコード後は64文字になる。
const tokenBytes = 32

// GenerateToken は暗号論的乱数から不透明トークンを生成する。
func GenerateToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// HashToken はトークンのSHA-256ダイジェストをhexで返す。
// リフレッシュトークンと使用済み検証トークンの保存に使用する。
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
