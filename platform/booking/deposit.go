// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package booking

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/brightbroom/brightbroom/platform/lead"
)

// DepositPolicy is a pure predicate over the booking context. Its output
// is stored on the booking, so later policy changes never retroactively
// alter existing bookings.
type DepositPolicy struct {
	Percent  int   `help:"deposit percent of the estimate total" default:"20"`
	MinCents int64 `help:"deposit floor in cents" default:"2500"`
}

// DepositDecision is the frozen policy output.
type DepositDecision struct {
	Required bool
	Reasons  []string
	Cents    int64
}

// Evaluate decides whether a deposit is required: weekend visits, deep or
// move-out cleans, and first-time clients all require one.
func (policy DepositPolicy) Evaluate(startsAt time.Time, prospect *lead.Lead, priorConfirmed bool) DepositDecision {
	var reasons []string

	switch startsAt.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		reasons = append(reasons, "weekend")
	}
	if kind := serviceKind(prospect); kind == "deep" || kind == "move_out" {
		reasons = append(reasons, kind+"_clean")
	}
	if !priorConfirmed {
		reasons = append(reasons, "new_client")
	}

	if len(reasons) == 0 {
		return DepositDecision{}
	}
	return DepositDecision{
		Required: true,
		Reasons:  reasons,
		Cents:    policy.amount(prospect),
	}
}

// amount is the configured percent of the estimate total before tax,
// rounded half up to whole cents, with a floor.
func (policy DepositPolicy) amount(prospect *lead.Lead) int64 {
	total := estimateTotal(prospect)
	cents := (int64(total*100)*int64(policy.Percent) + 50) / 100
	if cents < policy.MinCents {
		cents = policy.MinCents
	}
	return cents
}

func estimateTotal(prospect *lead.Lead) float64 {
	if prospect == nil {
		return 0
	}
	var snapshot struct {
		TotalBeforeTax float64 `json:"total_before_tax"`
	}
	if err := json.Unmarshal(prospect.EstimateSnapshot, &snapshot); err != nil {
		return 0
	}
	return snapshot.TotalBeforeTax
}

func serviceKind(prospect *lead.Lead) string {
	if prospect == nil {
		return ""
	}
	var inputs struct {
		ServiceType string `json:"service_type"`
		Deep        bool   `json:"deep"`
	}
	if err := json.Unmarshal(prospect.Inputs, &inputs); err != nil {
		return ""
	}
	if inputs.Deep {
		return "deep"
	}
	return strings.ToLower(inputs.ServiceType)
}
