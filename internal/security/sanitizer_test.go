package security

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNameSanitizer_Sanitize(t *testing.T) {
	s := NewNameSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"プレーンテキストはそのまま", "Taro Yamada", "Taro Yamada"},
		{"前後の空白を除去", "  Alice  ", "Alice"},
		{"scriptタグを除去", "<script>alert(1)</script>Bob", "Bob"},
		{"タグ内テキストは残す", "<b>Carol</b>", "Carol"},
		{"アポストロフィはエスケープされない", "O'Brien", "O'Brien"},
		{"エスケープされたタグも残らない", "&lt;img&gt;Dave", "imgDave"},
		{"空文字列", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// 最大長を超える名前は切り詰められること
func TestNameSanitizer_Truncates(t *testing.T) {
	s := NewNameSanitizer()
	got := s.Sanitize(strings.Repeat("あ", MaxNameLength+10))
	if n := utf8.RuneCountInString(got); n != MaxNameLength {
		t.Errorf("rune count = %d, want %d", n, MaxNameLength)
	}
}
