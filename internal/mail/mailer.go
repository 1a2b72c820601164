package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// Mailer はメッセージを送信する。
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// SMTPConfig はSMTPサーバーの接続設定。
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer はSMTPでメールを送信する。
type SMTPMailer struct {
	cfg  SMTPConfig
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewSMTPMailer はSMTPMailerを生成する。
func NewSMTPMailer(cfg SMTPConfig) *SMTPMailer {
	return &SMTPMailer{cfg: cfg, send: smtp.SendMail}
}

// Send はメッセージをSMTPで送信する。
// net/smtpはcontextに対応しないため、送信開始前にキャンセルを確認する。
func (m *SMTPMailer) Send(ctx context.Context, msg *Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := m.send(addr, auth, m.cfg.From, []string{msg.To}, buildMIME(m.cfg.From, msg)); err != nil {
		return fmt.Errorf("failed to send mail via %s: %w", addr, err)
	}
	return nil
}

func buildMIME(from string, msg *Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + from + "\r\n")
	b.WriteString("To: " + msg.To + "\r\n")
	b.WriteString("Subject: " + msg.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTMLBody)
	return []byte(b.String())
}

// LogMailer は送信せずにログへ記録する。SMTP未設定の開発環境で使用する。
// 本文にはトークンが含まれるため宛先と件名のみ出力する。
type LogMailer struct{}

// Send はメッセージの宛先と件名をログに記録する。
func (LogMailer) Send(_ context.Context, msg *Message) error {
	slog.Info("mail delivery skipped (no SMTP host configured)",
		slog.String("to", msg.To),
		slog.String("subject", msg.Subject),
	)
	return nil
}

// compile-time interface check
var (
	_ Mailer = (*SMTPMailer)(nil)
	_ Mailer = LogMailer{}
)
