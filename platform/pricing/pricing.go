// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package pricing evaluates deterministic price estimates from a
// configuration snapshot. The snapshot is immutable; reload swaps the
// whole pointer so readers never see a half-built table.
package pricing

import (
	"encoding/json"
	"math"
	"os"
	"strings"
	"sync/atomic"

	"github.com/zeebo/errs"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// Error is the default pricing errs class.
var Error = errs.Class("pricing")

// Config configures the evaluator.
type Config struct {
	SnapshotPath string `help:"path to the pricing snapshot json; empty uses built-in defaults" default:""`
}

// Inputs are the structured facts an estimate is computed from.
type Inputs struct {
	Beds        int     `json:"beds"`
	Baths       int     `json:"baths"`
	ServiceType string  `json:"service_type,omitempty"`
	Deep        bool    `json:"deep,omitempty"`
	SquareFeet  int     `json:"square_feet,omitempty"`
	Frequency   string  `json:"frequency,omitempty"`
	Addons      []string `json:"addons,omitempty"`
}

// Estimate is the computed quote. TotalBeforeTax is the field downstream
// consumers (deposits, invoicing) read from the frozen snapshot.
type Estimate struct {
	Currency        string   `json:"currency"`
	BaseRate        float64  `json:"base_rate"`
	TimeOnSiteHours float64  `json:"time_on_site_hours"`
	LineItems       []Line   `json:"line_items"`
	TotalBeforeTax  float64  `json:"total_before_tax"`
	TaxRate         float64  `json:"tax_rate"`
	Total           float64  `json:"total"`
}

// Line is one estimate component.
type Line struct {
	Label  string  `json:"label"`
	Amount float64 `json:"amount"`
}

// Snapshot is the pricing table. It is loaded whole and never mutated.
type Snapshot struct {
	Currency      string             `json:"currency"`
	Base          float64            `json:"base"`
	PerBed        float64            `json:"per_bed"`
	PerBath       float64            `json:"per_bath"`
	PerHundredSqFt float64           `json:"per_hundred_sqft"`
	DeepMultiplier float64           `json:"deep_multiplier"`
	MoveOutMultiplier float64        `json:"move_out_multiplier"`
	FrequencyDiscount map[string]float64 `json:"frequency_discount"`
	Addons        map[string]float64 `json:"addons"`
	TaxRate       float64            `json:"tax_rate"`
	HoursBase     float64            `json:"hours_base"`
	HoursPerRoom  float64            `json:"hours_per_room"`
}

// defaultSnapshot keeps the evaluator working with no file configured.
var defaultSnapshot = &Snapshot{
	Currency:          "usd",
	Base:              80,
	PerBed:            25,
	PerBath:           20,
	PerHundredSqFt:    2,
	DeepMultiplier:    1.5,
	MoveOutMultiplier: 1.8,
	FrequencyDiscount: map[string]float64{"weekly": 0.15, "biweekly": 0.10, "monthly": 0.05},
	Addons:            map[string]float64{"oven": 25, "fridge": 25, "windows": 40, "laundry": 15},
	TaxRate:           0.0825,
	HoursBase:         1.5,
	HoursPerRoom:      0.5,
}

// Evaluator computes estimates against the current snapshot.
//
// architecture: Service
type Evaluator struct {
	config   Config
	snapshot atomic.Pointer[Snapshot]
}

// NewEvaluator loads the initial snapshot.
func NewEvaluator(config Config) (*Evaluator, error) {
	evaluator := &Evaluator{config: config}
	if err := evaluator.Reload(); err != nil {
		return nil, err
	}
	return evaluator, nil
}

// Reload replaces the snapshot atomically. In-flight estimates finish on
// the table they started with.
func (evaluator *Evaluator) Reload() error {
	if evaluator.config.SnapshotPath == "" {
		evaluator.snapshot.Store(defaultSnapshot)
		return nil
	}
	raw, err := os.ReadFile(evaluator.config.SnapshotPath)
	if err != nil {
		return Error.Wrap(err)
	}
	loaded := &Snapshot{}
	if err := json.Unmarshal(raw, loaded); err != nil {
		return Error.Wrap(err)
	}
	if loaded.Base <= 0 {
		return Error.New("snapshot base rate must be positive")
	}
	evaluator.snapshot.Store(loaded)
	return nil
}

// Current returns the active snapshot.
func (evaluator *Evaluator) Current() *Snapshot {
	return evaluator.snapshot.Load()
}

// Estimate computes a quote. Same inputs, same snapshot, same output.
func (evaluator *Evaluator) Estimate(inputs Inputs) (*Estimate, error) {
	if inputs.Beds < 0 || inputs.Baths < 0 || inputs.SquareFeet < 0 {
		return nil, apperrs.ErrValidation.Wrap(Error.New("negative room counts"))
	}
	if inputs.Beds == 0 && inputs.Baths == 0 {
		return nil, apperrs.ErrValidation.Wrap(Error.New("at least one bed or bath required"))
	}

	snapshot := evaluator.snapshot.Load()
	estimate := &Estimate{Currency: snapshot.Currency, TaxRate: snapshot.TaxRate}

	subtotal := snapshot.Base
	estimate.LineItems = append(estimate.LineItems, Line{Label: "base", Amount: round2(snapshot.Base)})
	if inputs.Beds > 0 {
		amount := float64(inputs.Beds) * snapshot.PerBed
		subtotal += amount
		estimate.LineItems = append(estimate.LineItems, Line{Label: "bedrooms", Amount: round2(amount)})
	}
	if inputs.Baths > 0 {
		amount := float64(inputs.Baths) * snapshot.PerBath
		subtotal += amount
		estimate.LineItems = append(estimate.LineItems, Line{Label: "bathrooms", Amount: round2(amount)})
	}
	if inputs.SquareFeet > 0 {
		amount := float64(inputs.SquareFeet) / 100 * snapshot.PerHundredSqFt
		subtotal += amount
		estimate.LineItems = append(estimate.LineItems, Line{Label: "area", Amount: round2(amount)})
	}
	for _, addon := range inputs.Addons {
		if amount, ok := snapshot.Addons[strings.ToLower(addon)]; ok {
			subtotal += amount
			estimate.LineItems = append(estimate.LineItems, Line{Label: "addon:" + strings.ToLower(addon), Amount: round2(amount)})
		}
	}

	multiplier := 1.0
	switch {
	case inputs.Deep || strings.EqualFold(inputs.ServiceType, "deep"):
		multiplier = snapshot.DeepMultiplier
	case strings.EqualFold(inputs.ServiceType, "move_out"):
		multiplier = snapshot.MoveOutMultiplier
	}
	if multiplier != 1 {
		amount := subtotal * (multiplier - 1)
		subtotal *= multiplier
		estimate.LineItems = append(estimate.LineItems, Line{Label: "intensity", Amount: round2(amount)})
	}

	if discount, ok := snapshot.FrequencyDiscount[strings.ToLower(inputs.Frequency)]; ok && discount > 0 {
		amount := subtotal * discount
		subtotal -= amount
		estimate.LineItems = append(estimate.LineItems, Line{Label: "frequency_discount", Amount: -round2(amount)})
	}

	estimate.BaseRate = round2(snapshot.Base)
	estimate.TotalBeforeTax = round2(subtotal)
	estimate.Total = round2(subtotal * (1 + snapshot.TaxRate))
	estimate.TimeOnSiteHours = roundHalf(snapshot.HoursBase + snapshot.HoursPerRoom*float64(inputs.Beds+inputs.Baths)*multiplier)
	return estimate, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// roundHalf rounds to the nearest half hour.
func roundHalf(v float64) float64 {
	return math.Round(v*2) / 2
}
