package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// HTTPRecorder はHTTPリクエストの計測値を記録する。
// metrics.Collectorが満たす。
type HTTPRecorder interface {
	RecordHTTPRequest(method, route string, statusCode int, duration time.Duration)
}

// NewMetricsMiddleware はリクエスト数と処理時間を記録するミドルウェアを返す。
// ルートラベルにはchiのルートパターンを使用し、未一致のパスは"unmatched"にまとめる。
func NewMetricsMiddleware(recorder HTTPRecorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rec, r)

			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if p := rctx.RoutePattern(); p != "" {
					route = p
				}
			}
			recorder.RecordHTTPRequest(r.Method, route, rec.statusCode, time.Since(start))
		})
	}
}
