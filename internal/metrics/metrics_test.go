package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestNewCollector_ReturnsNonNil はCollectorが正常に生成されることを検証する。
func TestNewCollector_ReturnsNonNil(t *testing.T) {
	if NewCollector(prometheus.NewRegistry()) == nil {
		t.Fatal("expected non-nil Collector")
	}
}

// TestNewCollector_DuplicateRegistrationPanics は同一レジストリへの二重登録がpanicすることを検証する。
func TestNewCollector_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewCollector(reg)

	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	_ = NewCollector(reg)
}

// TestRecordAuthEvent_IncrementsByLabel は操作と結果のラベル別に加算されることを検証する。
func TestRecordAuthEvent_IncrementsByLabel(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordAuthEvent("login", "success")
	c.RecordAuthEvent("login", "success")
	c.RecordAuthEvent("login", "failure")

	if got := testutil.ToFloat64(c.authEvents.WithLabelValues("login", "success")); got != 2 {
		t.Errorf("login/success = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.authEvents.WithLabelValues("login", "failure")); got != 1 {
		t.Errorf("login/failure = %v, want 1", got)
	}
}

// TestRecordEmail_IncrementsByLabel はメール送信結果が記録されることを検証する。
func TestRecordEmail_IncrementsByLabel(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordEmail("verify_email", "sent")

	if got := testutil.ToFloat64(c.emailEvents.WithLabelValues("verify_email", "sent")); got != 1 {
		t.Errorf("verify_email/sent = %v, want 1", got)
	}
}

// TestRecordHTTPRequest_RecordsCountAndLatency はリクエスト数と処理時間が記録されることを検証する。
func TestRecordHTTPRequest_RecordsCountAndLatency(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.RecordHTTPRequest("POST", "/api/v1/auth/login", 401, 30*time.Millisecond)

	if got := testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/api/v1/auth/login", "401")); got != 1 {
		t.Errorf("requests = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(c.httpDuration); n != 1 {
		t.Errorf("duration series = %d, want 1", n)
	}
}

// TestSetEmailQueueDepth_SetsGauges はキュー件数のゲージが設定されることを検証する。
func TestSetEmailQueueDepth_SetsGauges(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())

	c.SetEmailQueueDepth(5, 2, 1)
	c.SetEmailQueueDepth(4, 2, 1)

	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("pending")); got != 4 {
		t.Errorf("pending = %v, want 4", got)
	}
	if got := testutil.ToFloat64(c.queueDepth.WithLabelValues("dead")); got != 1 {
		t.Errorf("dead = %v, want 1", got)
	}
}

// TestHandler_ServesMetrics はハンドラーがPrometheus形式で出力することを検証する。
func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordAuthEvent("register", "success")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), `accountman_auth_events_total{operation="register",outcome="success"} 1`) {
		t.Errorf("body missing auth metric:\n%s", body)
	}
}
