package model

import "time"

// EmailKind は送信するメールの種別を表す。テンプレート名と一致する。
type EmailKind string

const (
	// EmailKindVerification はメールアドレス検証メール。
	EmailKindVerification EmailKind = "verify_email"
	// EmailKindPasswordReset はパスワードリセットメール。
	EmailKindPasswordReset EmailKind = "reset_password"
)

// EmailJob はメール送信キューに積まれるジョブを表す。
// Tokenは本文のリンク生成にのみ使用し、ログに出力しないこと。
type EmailJob struct {
	ID         string    `json:"id"`
	Kind       EmailKind `json:"kind"`
	To         string    `json:"to"`
	Name       string    `json:"name,omitempty"`
	Token      string    `json:"token"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
