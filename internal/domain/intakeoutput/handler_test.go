package intakeoutput

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func newTestHandler(store Store) (*Handler, *echo.Echo) {
	h := NewHandler(newTestService(store))
	e := echo.New()
	return h, e
}

// serve runs fn against a request scoped to testKey(). Extra params are
// name/value pairs appended to patient_id and date.
func serve(e *echo.Echo, fn echo.HandlerFunc, method, target, body string, params ...string) (*httptest.ResponseRecorder, error) {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	names := []string{"patient_id", "date"}
	values := []string{testKey().PatientID.String(), testKey().Date.String()}
	for i := 0; i+1 < len(params); i += 2 {
		names = append(names, params[i])
		values = append(values, params[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return rec, fn(c)
}

func statusOf(t *testing.T, err error) int {
	t.Helper()
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %v", err)
	}
	return he.Code
}

func TestHandler_WriteEntry(t *testing.T) {
	h, e := newTestHandler(nil)

	body := `{"category_id":"urine","time":"04:45","amount_ml":"200","source":"Foley","entered_by":"rn1"}`
	rec, err := serve(e, h.WriteEntry, http.MethodPut, "/", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var entry Entry
	json.Unmarshal(rec.Body.Bytes(), &entry)
	if entry.Hour != 4 || entry.AmountML != 200 || entry.Source != "Foley" {
		t.Errorf("unexpected entry %+v", entry)
	}

	rec, err = serve(e, h.GetEntry, http.MethodGet, "/", "", "category_id", "urine", "hour", "4")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_WriteEntry_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{"malformed json", `{"category_id":`, http.StatusBadRequest},
		{"missing category", `{"hour":4,"amount_ml":10}`, http.StatusBadRequest},
		{"missing hour", `{"category_id":"po","amount_ml":10}`, http.StatusBadRequest},
		{"missing amount", `{"category_id":"po","hour":4}`, http.StatusBadRequest},
		{"unknown category", `{"category_id":"cola","hour":4,"amount_ml":10}`, http.StatusUnprocessableEntity},
		{"hour out of range", `{"category_id":"po","hour":24,"amount_ml":10}`, http.StatusUnprocessableEntity},
		{"bad clock", `{"category_id":"po","time":"7pm","amount_ml":10}`, http.StatusUnprocessableEntity},
		{"negative amount", `{"category_id":"po","hour":4,"amount_ml":-5}`, http.StatusUnprocessableEntity},
		{"amount over the bucket limit", `{"category_id":"po","hour":4,"amount_ml":1e300}`, http.StatusUnprocessableEntity},
		{"non-numeric amount", `{"category_id":"po","hour":4,"amount_ml":"lots"}`, http.StatusUnprocessableEntity},
		{"source not allowed", `{"category_id":"po","hour":4,"amount_ml":10,"source":"Foley"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, e := newTestHandler(nil)
			_, err := serve(e, h.WriteEntry, http.MethodPut, "/", tt.body)
			if got := statusOf(t, err); got != tt.want {
				t.Errorf("expected %d, got %d (%v)", tt.want, got, err)
			}
		})
	}
}

func TestHandler_BadPathParams(t *testing.T) {
	h, e := newTestHandler(nil)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("patient_id", "date")
	c.SetParamValues("not-a-uuid", "2025-01-15")
	if got := statusOf(t, h.GetAggregate(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400 for bad patient id, got %d", got)
	}

	c = e.NewContext(req, httptest.NewRecorder())
	c.SetParamNames("patient_id", "date")
	c.SetParamValues(testKey().PatientID.String(), "2025-13-40")
	if got := statusOf(t, h.GetAggregate(c)); got != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", got)
	}

	_, err := serve(e, h.GetEntry, http.MethodGet, "/", "", "category_id", "po", "hour", "noon")
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric hour, got %d", got)
	}
}

func TestHandler_GetEntry_Errors(t *testing.T) {
	h, e := newTestHandler(nil)

	_, err := serve(e, h.GetEntry, http.MethodGet, "/", "", "category_id", "cola", "hour", "4")
	if got := statusOf(t, err); got != http.StatusNotFound {
		t.Errorf("expected 404 for unknown category on read, got %d", got)
	}
	_, err = serve(e, h.GetEntry, http.MethodGet, "/", "", "category_id", "po", "hour", "4")
	if got := statusOf(t, err); got != http.StatusNotFound {
		t.Errorf("expected 404 for empty bucket, got %d", got)
	}
	_, err = serve(e, h.GetEntry, http.MethodGet, "/", "", "category_id", "po", "hour", "30")
	if got := statusOf(t, err); got != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for hour 30, got %d", got)
	}
}

func TestHandler_PersistenceFailure(t *testing.T) {
	store := newMockStore()
	h, e := newTestHandler(store)
	if _, err := serve(e, h.GetAggregate, http.MethodGet, "/", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store.fail(errors.New("disk full"))
	_, err := serve(e, h.WriteEntry, http.MethodPut, "/", `{"category_id":"po","hour":4,"amount_ml":10}`)
	if got := statusOf(t, err); got != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", got)
	}
}

func TestHandler_DeleteAndClear(t *testing.T) {
	h, e := newTestHandler(nil)
	if _, err := serve(e, h.WriteEntry, http.MethodPut, "/", `{"category_id":"po","hour":4,"amount_ml":10}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := serve(e, h.DeleteEntry, http.MethodDelete, "/", "", "category_id", "po", "hour", "4")
	if err != nil || rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d, %v", rec.Code, err)
	}
	_, err = serve(e, h.DeleteEntry, http.MethodDelete, "/", "", "category_id", "cola", "hour", "4")
	if got := statusOf(t, err); got != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for unknown category on delete, got %d", got)
	}

	rec, err = serve(e, h.Clear, http.MethodPost, "/", "")
	if err != nil || rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d, %v", rec.Code, err)
	}
}

func TestHandler_GetUrineRate(t *testing.T) {
	h, e := newTestHandler(nil)
	for _, body := range []string{
		`{"category_id":"urine","hour":4,"amount_ml":200}`,
		`{"category_id":"urine","hour":12,"amount_ml":220}`,
	} {
		if _, err := serve(e, h.WriteEntry, http.MethodPut, "/", body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rec, err := serve(e, h.GetUrineRate, http.MethodGet, "/?weight_kg=70", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp rateResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if !resp.Available || resp.RateMLKgHr == nil || *resp.RateMLKgHr != 0.25 {
		t.Errorf("expected rate 0.25, got %+v", resp)
	}

	rec, err = serve(e, h.GetUrineRate, http.MethodGet, "/", "")
	if err != nil {
		t.Fatalf("expected unavailable to be a normal response, got %v", err)
	}
	resp = rateResponse{}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || resp.Available || resp.RateMLKgHr != nil {
		t.Errorf("expected available=false, got %d %+v", rec.Code, resp)
	}

	_, err = serve(e, h.GetUrineRate, http.MethodGet, "/?weight_kg=70&shift=evening", "")
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400 for bad shift, got %d", got)
	}
	_, err = serve(e, h.GetUrineRate, http.MethodGet, "/?weight_kg=heavy", "")
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400 for bad weight, got %d", got)
	}
}

func TestHandler_GetBalance(t *testing.T) {
	h, e := newTestHandler(nil)
	if _, err := serve(e, h.WriteEntry, http.MethodPut, "/", `{"category_id":"po","hour":9,"amount_ml":800}`); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec, err := serve(e, h.GetBalance, http.MethodGet, "/?goal_min_ml=0&goal_max_ml=1000", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var res BalanceResult
	json.Unmarshal(rec.Body.Bytes(), &res)
	if res.NetBalanceML != 800 || res.Classification != WithinGoal {
		t.Errorf("expected +800 within goal, got %+v", res)
	}

	for _, q := range []string{"/?goal_min_ml=0", "/?goal_min_ml=10&goal_max_ml=0", "/?goal_min_ml=x&goal_max_ml=1"} {
		_, err := serve(e, h.GetBalance, http.MethodGet, q, "")
		if got := statusOf(t, err); got != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", q, got)
		}
	}
}

func TestHandler_ListEntries(t *testing.T) {
	h, e := newTestHandler(nil)
	for _, hour := range []string{"7", "8", "9"} {
		body := `{"category_id":"iv","hour":` + hour + `,"amount_ml":83}`
		if _, err := serve(e, h.WriteEntry, http.MethodPut, "/", body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	rec, err := serve(e, h.ListEntries, http.MethodGet, "/entries?limit=2", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Data    []Entry `json:"data"`
		Total   int     `json:"total"`
		HasMore bool    `json:"has_more"`
	}
	json.Unmarshal(rec.Body.Bytes(), &page)
	if page.Total != 3 || len(page.Data) != 2 || !page.HasMore {
		t.Errorf("expected 2 of 3 with more, got %+v", page)
	}
}

func TestHandler_ListCategories(t *testing.T) {
	h, e := newTestHandler(nil)

	rec, err := serve(e, h.ListCategories, http.MethodGet, "/?kind=output", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp categoriesResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Categories) != 1 || resp.Categories[0].ID != "urine" {
		t.Errorf("expected only urine, got %+v", resp.Categories)
	}
	if len(resp.QuickAmounts) == 0 {
		t.Error("expected quick amounts")
	}

	_, err = serve(e, h.ListCategories, http.MethodGet, "/?kind=fluids", "")
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_GetGrid(t *testing.T) {
	h, e := newTestHandler(nil)

	rec, err := serve(e, h.GetGrid, http.MethodGet, "/?view=shift", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var g Grid
	json.Unmarshal(rec.Body.Bytes(), &g)
	if g.View != ViewShift || len(g.Days) != 1 || len(g.Days[0].Columns) != 3 {
		t.Errorf("unexpected grid %+v", g)
	}

	_, err = serve(e, h.GetGrid, http.MethodGet, "/?view=month", "")
	if got := statusOf(t, err); got != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", got)
	}
}

func TestHandler_ExportXLSX(t *testing.T) {
	h, e := newTestHandler(nil)

	rec, err := serve(e, h.ExportXLSX, http.MethodGet, "/", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != XLSXContentType {
		t.Errorf("expected %s, got %s", XLSXContentType, ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "2025-01-15.xlsx") {
		t.Errorf("unexpected content disposition %q", cd)
	}
	if rec.Body.Len() == 0 {
		t.Error("expected workbook bytes")
	}
}

func TestHandler_GetSummary(t *testing.T) {
	h, e := newTestHandler(nil)

	rec, err := serve(e, h.GetSummary, http.MethodGet, "/?weight_kg=70", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var sum Summary
	json.Unmarshal(rec.Body.Bytes(), &sum)
	if !sum.Urine.Available || sum.Balance.Classification != WithinGoal {
		t.Errorf("unexpected summary %+v", sum)
	}
}
