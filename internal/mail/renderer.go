package mail

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/accountman/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

// Message は送信するメール1通を表す。
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// Renderer はジョブ種別ごとのテンプレートからメッセージを生成する。
// テンプレートはNewRendererで一度だけ解析する。
type Renderer struct {
	baseURL   string
	resetTTL  time.Duration
	templates map[model.EmailKind]*template.Template
}

type templateData struct {
	Name      string
	Link      string
	ExpiresIn string
}

// NewRenderer は埋め込みテンプレートを解析してRendererを生成する。
// baseURLはメール内リンクの起点となるフロントエンドのURL。
func NewRenderer(baseURL string, resetTTL time.Duration) (*Renderer, error) {
	r := &Renderer{
		baseURL:   strings.TrimRight(baseURL, "/"),
		resetTTL:  resetTTL,
		templates: make(map[model.EmailKind]*template.Template),
	}
	for _, kind := range []model.EmailKind{model.EmailKindVerification, model.EmailKindPasswordReset} {
		tmpl, err := template.ParseFS(templateFS, "templates/"+string(kind)+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s template: %w", kind, err)
		}
		r.templates[kind] = tmpl
	}
	return r, nil
}

// Render はジョブからメッセージを生成する。
func (r *Renderer) Render(job *model.EmailJob) (*Message, error) {
	tmpl, ok := r.templates[job.Kind]
	if !ok {
		return nil, fmt.Errorf("unknown email kind %q", job.Kind)
	}

	data := templateData{Name: job.Name, ExpiresIn: r.resetTTL.String()}
	switch job.Kind {
	case model.EmailKindVerification:
		data.Link = r.baseURL + "/verify-email?token=" + url.QueryEscape(job.Token)
	case model.EmailKindPasswordReset:
		data.Link = r.baseURL + "/reset-password?token=" + url.QueryEscape(job.Token)
	}

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := tmpl.ExecuteTemplate(&body, "body", data); err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	return &Message{
		To:       job.To,
		Subject:  strings.TrimSpace(subject.String()),
		HTMLBody: body.String(),
	}, nil
}
