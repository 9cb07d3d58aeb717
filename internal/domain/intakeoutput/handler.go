package intakeoutput

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/iobalance/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/intake-output/categories", h.ListCategories)

	day := api.Group("/patients/:patient_id/intake-output/:date")
	day.GET("", h.GetSnapshot)
	day.GET("/entries", h.ListEntries)
	day.PUT("/entries", h.WriteEntry)
	day.GET("/entries/:category_id/:hour", h.GetEntry)
	day.DELETE("/entries/:category_id/:hour", h.DeleteEntry)
	day.POST("/clear", h.Clear)
	day.GET("/aggregate", h.GetAggregate)
	day.GET("/urine-rate", h.GetUrineRate)
	day.GET("/balance", h.GetBalance)
	day.GET("/summary", h.GetSummary)
	day.GET("/grid", h.GetGrid)
	day.GET("/export.xlsx", h.ExportXLSX)
}

// writeRequest is the body of PUT .../entries. Either hour or time ("HH:MM")
// selects the bucket; amount_ml may be a JSON number or a numeric string.
type writeRequest struct {
	CategoryID string          `json:"category_id"`
	Hour       *int            `json:"hour"`
	Time       string          `json:"time"`
	AmountML   json.RawMessage `json:"amount_ml"`
	Source     string          `json:"source"`
	Notes      string          `json:"notes"`
	EnteredBy  string          `json:"entered_by"`
}

type categoriesResponse struct {
	Categories   []Category `json:"categories"`
	QuickAmounts []float64  `json:"quick_amounts"`
}

type rateResponse struct {
	Available  bool     `json:"available"`
	RateMLKgHr *float64 `json:"rate_ml_kg_hr,omitempty"`
	Shift      Shift    `json:"shift,omitempty"`
	CategoryID string   `json:"category_id"`
	WeightKg   *float64 `json:"weight_kg,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

func (h *Handler) ListCategories(c echo.Context) error {
	var kinds []Kind
	if raw := c.QueryParam("kind"); raw != "" {
		k, err := ParseKind(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		kinds = append(kinds, k)
	}
	return c.JSON(http.StatusOK, categoriesResponse{
		Categories:   h.svc.Categories(kinds...),
		QuickAmounts: QuickAmounts,
	})
}

func (h *Handler) GetSnapshot(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	snap, err := h.svc.Snapshot(c.Request().Context(), key)
	if err != nil {
		return httpError(err, false)
	}
	return c.JSON(http.StatusOK, snap)
}

func (h *Handler) ListEntries(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListEntries(c.Request().Context(), key, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err, false)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) WriteEntry(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	var req writeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	in, err := req.input()
	if err != nil {
		return httpError(err, true)
	}
	e, err := h.svc.Write(c.Request().Context(), key, in)
	if err != nil {
		return httpError(err, true)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) GetEntry(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	hour, err := pathHour(c)
	if err != nil {
		return err
	}
	e, ok, err := h.svc.Read(c.Request().Context(), key, c.Param("category_id"), hour)
	if err != nil {
		return httpError(err, false)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no entry")
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) DeleteEntry(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	hour, err := pathHour(c)
	if err != nil {
		return err
	}
	if _, err := h.svc.Delete(c.Request().Context(), key, c.Param("category_id"), hour); err != nil {
		return httpError(err, true)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) Clear(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	if err := h.svc.Clear(c.Request().Context(), key); err != nil {
		return httpError(err, true)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) GetAggregate(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	agg, err := h.svc.Aggregate(c.Request().Context(), key)
	if err != nil {
		return httpError(err, false)
	}
	return c.JSON(http.StatusOK, agg)
}

func (h *Handler) GetUrineRate(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	weight, err := queryFloat(c, "weight_kg")
	if err != nil {
		return err
	}
	resp := rateResponse{CategoryID: h.svc.UrineCategory(), WeightKg: weight}

	var rate float64
	ctx := c.Request().Context()
	w := WeightOf(PatientContext{WeightKg: weight})
	if raw := c.QueryParam("shift"); raw != "" {
		sh, perr := ParseShift(raw)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, perr.Error())
		}
		resp.Shift = sh
		rate, err = h.svc.ShiftUrineRate(ctx, key, sh, w)
	} else {
		rate, err = h.svc.UrineRate(ctx, key, w)
	}

	switch {
	case errors.Is(err, ErrUnavailable):
		resp.Reason = "no positive patient weight recorded"
	case err != nil:
		return httpError(err, false)
	default:
		resp.Available = true
		resp.RateMLKgHr = &rate
	}
	return c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetBalance(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	goal, err := queryGoal(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ClassifyBalance(c.Request().Context(), key, goal)
	if err != nil {
		return httpError(err, false)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetSummary(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	weight, err := queryFloat(c, "weight_kg")
	if err != nil {
		return err
	}
	sum, err := h.svc.Summary(c.Request().Context(), key, PatientContext{WeightKg: weight})
	if err != nil {
		return httpError(err, false)
	}
	return c.JSON(http.StatusOK, sum)
}

func (h *Handler) GetGrid(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	view, err := ParseGridView(c.QueryParam("view"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	g, err := h.svc.Grid(c.Request().Context(), key, view)
	if err != nil {
		return httpError(err, false)
	}
	return c.JSON(http.StatusOK, g)
}

func (h *Handler) ExportXLSX(c echo.Context) error {
	key, err := flowsheetKey(c)
	if err != nil {
		return err
	}
	agg, err := h.svc.Aggregate(c.Request().Context(), key)
	if err != nil {
		return httpError(err, false)
	}
	data, err := RenderXLSX(BuildDayGrid(agg, false))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "render workbook")
	}
	filename := fmt.Sprintf("intake-output-%s-%s.xlsx", key.PatientID, key.Date)
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", filename))
	return c.Blob(http.StatusOK, XLSXContentType, data)
}

func (r writeRequest) input() (WriteInput, error) {
	if strings.TrimSpace(r.CategoryID) == "" {
		return WriteInput{}, echo.NewHTTPError(http.StatusBadRequest, "category_id is required")
	}

	var hour int
	switch {
	case r.Hour != nil:
		hour = *r.Hour
	case r.Time != "":
		h, err := ParseClockHour(r.Time)
		if err != nil {
			return WriteInput{}, err
		}
		hour = h
	default:
		return WriteInput{}, echo.NewHTTPError(http.StatusBadRequest, "hour or time is required")
	}

	amount, err := parseAmount(r.AmountML)
	if err != nil {
		return WriteInput{}, err
	}

	return WriteInput{
		CategoryID: r.CategoryID,
		Hour:       hour,
		AmountML:   amount,
		Source:     strings.TrimSpace(r.Source),
		Notes:      r.Notes,
		EnteredBy:  r.EnteredBy,
	}, nil
}

// parseAmount accepts 120, 120.5 or "120". A missing amount is malformed;
// a present but non-numeric one is an invalid amount.
func parseAmount(raw json.RawMessage) (float64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "amount_ml is required")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, echo.NewHTTPError(http.StatusBadRequest, "malformed amount_ml")
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
		}
		return v, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s is not a number", ErrInvalidAmount, raw)
	}
	return v, nil
}

func flowsheetKey(c echo.Context) (FlowsheetKey, error) {
	pid, err := uuid.Parse(c.Param("patient_id"))
	if err != nil {
		return FlowsheetKey{}, echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
	}
	date, err := ParseDate(c.Param("date"))
	if err != nil {
		return FlowsheetKey{}, echo.NewHTTPError(http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
	}
	return FlowsheetKey{PatientID: pid, Date: date}, nil
}

func pathHour(c echo.Context) (int, error) {
	hour, err := strconv.Atoi(c.Param("hour"))
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid hour")
	}
	return hour, nil
}

func queryFloat(c echo.Context, name string) (*float64, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &v, nil
}

// queryGoal reads goal_min_ml and goal_max_ml. Both or neither must be set.
func queryGoal(c echo.Context) (*GoalRange, error) {
	lo, err := queryFloat(c, "goal_min_ml")
	if err != nil {
		return nil, err
	}
	hi, err := queryFloat(c, "goal_max_ml")
	if err != nil {
		return nil, err
	}
	if lo == nil && hi == nil {
		return nil, nil
	}
	if lo == nil || hi == nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "goal_min_ml and goal_max_ml must be given together")
	}
	g := GoalRange{MinML: *lo, MaxML: *hi}
	if err := g.Validate(); err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return &g, nil
}

// httpError maps service errors to HTTP statuses. An unknown category is a
// missing resource on reads but an invalid field on writes.
func httpError(err error, write bool) error {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	var pe *PersistenceError
	switch {
	case errors.Is(err, ErrUnknownCategory) && !write:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case IsValidation(err):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &pe):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "flowsheet storage unavailable")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
