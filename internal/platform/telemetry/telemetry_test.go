package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestEcho(p *Provider) *echo.Echo {
	e := echo.New()
	e.Use(p.Middleware())
	e.GET("/patients/:patient_id/intake-output/:date", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.PUT("/patients/:patient_id/intake-output/:date/entries", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid hour")
	})
	e.GET("/boom", func(c echo.Context) error {
		return errors.New("boom")
	})
	e.GET("/metrics", p.Handler())
	return e
}

func do(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_RecordsByRoutePattern(t *testing.T) {
	p := NewProvider()
	e := newTestEcho(p)

	do(e, http.MethodGet, "/patients/a/intake-output/2025-01-15")
	do(e, http.MethodGet, "/patients/b/intake-output/2025-01-16")

	route := "/patients/:patient_id/intake-output/:date"
	if n := p.Requests(http.MethodGet, route, http.StatusOK); n != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %d", n)
	}
	if p.ActiveRequests() != 0 {
		t.Errorf("expected no active requests, got %d", p.ActiveRequests())
	}
}

func TestMiddleware_ErrorStatus(t *testing.T) {
	p := NewProvider()
	e := newTestEcho(p)

	do(e, http.MethodPut, "/patients/a/intake-output/2025-01-15/entries")
	do(e, http.MethodGet, "/boom")

	if n := p.Requests(http.MethodPut, "/patients/:patient_id/intake-output/:date/entries", http.StatusUnprocessableEntity); n != 1 {
		t.Errorf("expected one 422, got %d", n)
	}
	if n := p.Requests(http.MethodGet, "/boom", http.StatusInternalServerError); n != 1 {
		t.Errorf("expected one 500, got %d", n)
	}
}

func TestCountMutation(t *testing.T) {
	p := NewProvider()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.CountMutation("write")
		}()
	}
	wg.Wait()
	p.CountMutation("clear")

	if n := p.Mutations("write"); n != 50 {
		t.Errorf("expected 50 writes, got %d", n)
	}
	if n := p.Mutations("clear"); n != 1 {
		t.Errorf("expected 1 clear, got %d", n)
	}
	if n := p.Mutations("delete"); n != 0 {
		t.Errorf("expected 0 deletes, got %d", n)
	}
}

func TestHandler_PrometheusFormat(t *testing.T) {
	p := NewProvider()
	p.CountMutation("write")
	p.RegisterGauge("intake_output_ledgers_loaded", "Patient-day ledgers held in memory.", func() float64 { return 3 })
	e := newTestEcho(p)
	do(e, http.MethodGet, "/patients/a/intake-output/2025-01-15")

	rec := do(e, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE http_server_request_duration_seconds histogram",
		`http_server_request_duration_seconds_count{method="GET",route="/patients/:patient_id/intake-output/:date",status_code="200"} 1`,
		`le="+Inf"`,
		"# TYPE http_server_active_requests gauge",
		`intake_output_mutations_total{action="write"} 1`,
		"intake_output_ledgers_loaded 3",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected metrics output to contain %q\n%s", want, body)
		}
	}
}

func TestHistogram_CumulativeBuckets(t *testing.T) {
	h := newHistogram([]float64{1, 5, 10})
	for _, v := range []float64{0.5, 1, 3, 7, 20} {
		h.Observe(v)
	}
	want := []int64{2, 3, 4}
	got := h.cumulativeBuckets()
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bucket %d: expected %d, got %d", i, want[i], got[i])
		}
	}
	if h.Count() != 5 {
		t.Errorf("expected count 5, got %d", h.Count())
	}
	if h.Sum() != 31.5 {
		t.Errorf("expected sum 31.5, got %v", h.Sum())
	}
}
