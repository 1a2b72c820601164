package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength は表示名の最大文字数。
const MaxNameLength = 100

// NameSanitizer は表示名からHTMLを除去する。
// bluemondayのStrictPolicyは全てのタグを除去する。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、前後の空白を取り除いて返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻し、残った山括弧は除去する。
// MaxNameLengthを超える部分は切り詰める。
func (s *NameSanitizer) Sanitize(name string) string {
	cleaned := html.UnescapeString(s.policy.Sanitize(name))
	cleaned = strings.NewReplacer("<", "", ">", "").Replace(cleaned)
	cleaned = strings.TrimSpace(cleaned)
	if utf8.RuneCountInString(cleaned) > MaxNameLength {
		cleaned = string([]rune(cleaned)[:MaxNameLength])
	}
	return cleaned
}
