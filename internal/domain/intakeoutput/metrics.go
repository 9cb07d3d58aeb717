package intakeoutput

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// DefaultUrineCategory is the category the urine-rate metric reads.
const DefaultUrineCategory = "urine"

// DefaultUrineTarget is the adult minimum urine output, in mL/kg/hr.
const DefaultUrineTarget = 0.5

// ComputeUrineRate returns the 24-hour urine output rate in mL/kg/hr:
// total / (24 × weight). It returns ErrUnavailable when the weight is
// missing, non-positive or not finite.
func ComputeUrineRate(agg AggregateSnapshot, urineCategoryID string, weightKg float64) (float64, error) {
	ct, ok := agg.Category(urineCategoryID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, urineCategoryID)
	}
	return ratePerKgHour(ct.TotalML, HoursPerDay, weightKg)
}

// ComputeShiftUrineRate is ComputeUrineRate over one 12-hour shift.
func ComputeShiftUrineRate(agg AggregateSnapshot, urineCategoryID string, s Shift, weightKg float64) (float64, error) {
	ct, ok := agg.Category(urineCategoryID)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownCategory, urineCategoryID)
	}
	return ratePerKgHour(ct.Shift(s).TotalML, HoursPerShift, weightKg)
}

func ratePerKgHour(totalML float64, hours int, weightKg float64) (float64, error) {
	if math.IsNaN(weightKg) || math.IsInf(weightKg, 0) || weightKg <= 0 {
		return 0, ErrUnavailable
	}
	denom := decimal.NewFromInt(int64(hours)).Mul(decimal.NewFromFloat(weightKg))
	return decimal.NewFromFloat(totalML).DivRound(denom, 6).InexactFloat64(), nil
}

// WeightOf returns the patient's weight, or 0 when none is recorded.
func WeightOf(p PatientContext) float64 {
	if p.WeightKg == nil {
		return 0
	}
	return *p.WeightKg
}

// GoalRange is a net-balance goal in mL. Both bounds are inclusive: a
// balance equal to MinML or MaxML is within goal.
type GoalRange struct {
	MinML float64 `json:"min_ml"`
	MaxML float64 `json:"max_ml"`
}

// DefaultGoal is "even to +500 mL".
var DefaultGoal = GoalRange{MinML: 0, MaxML: 500}

// Validate rejects inverted or non-finite ranges.
func (g GoalRange) Validate() error {
	if math.IsNaN(g.MinML) || math.IsNaN(g.MaxML) || math.IsInf(g.MinML, 0) || math.IsInf(g.MaxML, 0) {
		return fmt.Errorf("goal range bounds must be finite")
	}
	if g.MinML > g.MaxML {
		return fmt.Errorf("goal range min %v exceeds max %v", g.MinML, g.MaxML)
	}
	return nil
}

// Classification is where a net balance falls relative to the goal.
type Classification string

const (
	WithinGoal Classification = "within_goal"
	Deficit    Classification = "deficit"
	Excess     Classification = "excess"
)

// ClassifyBalance compares a 24-hour net balance to goal. Below MinML is a
// deficit, above MaxML is an excess, anything in [MinML, MaxML] is within goal.
func ClassifyBalance(netBalanceML float64, goal GoalRange) Classification {
	switch {
	case netBalanceML < goal.MinML:
		return Deficit
	case netBalanceML > goal.MaxML:
		return Excess
	default:
		return WithinGoal
	}
}

// UrineAssessment is the urine-rate card: the rate against its target.
// BelowTarget is set only when the rate is available and strictly below the
// target; meeting the target exactly is adequate.
type UrineAssessment struct {
	Available    bool     `json:"available"`
	RateMLKgHr   *float64 `json:"rate_ml_kg_hr,omitempty"`
	TargetMLKgHr float64  `json:"target_ml_kg_hr"`
	BelowTarget  bool     `json:"below_target"`
	Reason       string   `json:"reason,omitempty"`
}

// AssessUrine computes the urine rate and compares it to target.
func AssessUrine(agg AggregateSnapshot, urineCategoryID string, weightKg, target float64) (UrineAssessment, error) {
	ua := UrineAssessment{TargetMLKgHr: target}
	rate, err := ComputeUrineRate(agg, urineCategoryID, weightKg)
	if errors.Is(err, ErrUnavailable) {
		ua.Reason = "no positive patient weight recorded"
		return ua, nil
	}
	if err != nil {
		return ua, err
	}
	ua.Available = true
	ua.RateMLKgHr = &rate
	ua.BelowTarget = rate < target
	return ua, nil
}
