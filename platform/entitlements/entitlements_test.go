// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package entitlements

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

func TestRoleTable(t *testing.T) {
	require.True(t, Can("OWNER", ConfigWrite))
	require.True(t, Can("ADMIN", IAMReset))
	require.False(t, Can("ADMIN", ConfigWrite))
	require.True(t, Can("DISPATCHER", BookingWrite))
	require.False(t, Can("DISPATCHER", InvoiceWrite))
	require.True(t, Can("FINANCE", InvoiceWrite))
	require.False(t, Can("FINANCE", BookingWrite))
	require.True(t, Can("VIEWER", BookingRead))
	require.False(t, Can("VIEWER", BookingWrite))
}

func TestRequire(t *testing.T) {
	require.NoError(t, Require("OWNER", BreakGlass))

	err := Require("VIEWER", BreakGlass)
	require.Error(t, err)
	require.True(t, apperrs.ErrForbidden.Has(err))
}

func TestQuotas(t *testing.T) {
	require.NoError(t, CheckWorkers("free", 1))
	err := CheckWorkers("free", 2)
	require.Error(t, err)
	require.True(t, apperrs.ErrPlanLimit.Has(err))

	// business is unlimited
	require.NoError(t, CheckWorkers("business", 1000))
	require.NoError(t, CheckBookings("business", 1_000_000))

	err = CheckStorage("free", 512<<20, 1)
	require.Error(t, err)
	require.True(t, apperrs.ErrPlanLimit.Has(err))

	// unknown plans fall back to free
	err = CheckBookings("mystery", 50)
	require.Error(t, err)
}
