package handler

import (
	"net/mail"
	"strings"

	"github.com/hitoshi/accountman/internal/model"
	"github.com/hitoshi/accountman/internal/security"
)

// maxEmailLength はRFC 5321のアドレス長上限。
const maxEmailLength = 254

// validateEmail はメールアドレスの形式を検証する。
// 表示名付き（"Name <a@example.com>"）の形式は受け付けない。
func validateEmail(email string) *model.APIError {
	email = strings.TrimSpace(email)
	if email == "" {
		return model.NewValidationError("Email is required")
	}
	if len(email) > maxEmailLength {
		return model.NewValidationError("Email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return model.NewValidationError("Invalid email address")
	}
	return nil
}

// validateNewPassword はパスワードポリシーを検証する。
func validateNewPassword(password string) *model.APIError {
	if reason := security.ValidatePassword(password); reason != "" {
		return model.NewValidationError(reason)
	}
	return nil
}

// requireField は必須の文字列フィールドが空でないことを検証する。
func requireField(value, name string) *model.APIError {
	if strings.TrimSpace(value) == "" {
		return model.NewValidationError(name + " is required")
	}
	return nil
}
