// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package pricing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

func TestEstimateDeterministic(t *testing.T) {
	evaluator, err := NewEvaluator(Config{})
	require.NoError(t, err)

	inputs := Inputs{Beds: 2, Baths: 2, Deep: true}
	first, err := evaluator.Estimate(inputs)
	require.NoError(t, err)
	second, err := evaluator.Estimate(inputs)
	require.NoError(t, err)
	require.Equal(t, first, second)

	// base 80 + 2*25 + 2*20 = 170, deep x1.5 = 255
	require.Equal(t, 255.0, first.TotalBeforeTax)
	require.Equal(t, round2(255*1.0825), first.Total)
	require.True(t, first.TimeOnSiteHours >= 1.5)
}

func TestEstimateValidation(t *testing.T) {
	evaluator, err := NewEvaluator(Config{})
	require.NoError(t, err)

	_, err = evaluator.Estimate(Inputs{})
	require.True(t, apperrs.ErrValidation.Has(err))
	_, err = evaluator.Estimate(Inputs{Beds: -1, Baths: 1})
	require.True(t, apperrs.ErrValidation.Has(err))
}

func TestFrequencyDiscountAndAddons(t *testing.T) {
	evaluator, err := NewEvaluator(Config{})
	require.NoError(t, err)

	plain, err := evaluator.Estimate(Inputs{Beds: 1, Baths: 1})
	require.NoError(t, err)
	discounted, err := evaluator.Estimate(Inputs{Beds: 1, Baths: 1, Frequency: "weekly"})
	require.NoError(t, err)
	require.Less(t, discounted.TotalBeforeTax, plain.TotalBeforeTax)

	withAddon, err := evaluator.Estimate(Inputs{Beds: 1, Baths: 1, Addons: []string{"oven"}})
	require.NoError(t, err)
	require.Equal(t, plain.TotalBeforeTax+25, withAddon.TotalBeforeTax)
}

func TestReloadSwapsSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"currency":"usd","base":100,"per_bed":10,"per_bath":10,"tax_rate":0}`), 0o600))

	evaluator, err := NewEvaluator(Config{SnapshotPath: path})
	require.NoError(t, err)
	before, err := evaluator.Estimate(Inputs{Beds: 1, Baths: 0})
	require.NoError(t, err)
	require.Equal(t, 110.0, before.TotalBeforeTax)

	require.NoError(t, os.WriteFile(path, []byte(`{"currency":"usd","base":200,"per_bed":10,"per_bath":10,"tax_rate":0}`), 0o600))
	require.NoError(t, evaluator.Reload())
	after, err := evaluator.Estimate(Inputs{Beds: 1, Baths: 0})
	require.NoError(t, err)
	require.Equal(t, 210.0, after.TotalBeforeTax)

	// a broken file refuses to load and keeps the old snapshot
	require.NoError(t, os.WriteFile(path, []byte(`{"base":0}`), 0o600))
	require.Error(t, evaluator.Reload())
	kept, err := evaluator.Estimate(Inputs{Beds: 1, Baths: 0})
	require.NoError(t, err)
	require.Equal(t, 210.0, kept.TotalBeforeTax)
}
