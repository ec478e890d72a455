// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package payments_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/payments"
)

func TestOpenSelectsProvider(t *testing.T) {
	provider, err := payments.Open(payments.Config{Provider: "simulate"})
	require.NoError(t, err)
	require.NotNil(t, provider)

	_, err = payments.Open(payments.Config{Provider: "paypal"})
	require.Error(t, err)

	// stripe refuses to start without credentials
	_, err = payments.Open(payments.Config{Provider: "stripe"})
	require.Error(t, err)

	provider, err = payments.Open(payments.Config{
		Provider:      "stripe",
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_123",
	})
	require.NoError(t, err)
	require.NotNil(t, provider)
}

func TestSimulateCheckoutAndWebhook(t *testing.T) {
	provider := payments.NewSimulate()

	session, err := provider.CreateCheckoutSession(context.Background(), payments.CheckoutParams{
		OrgID:       uuid.New(),
		BookingID:   uuid.New(),
		AmountCents: 2500,
		Currency:    "usd",
		Description: "Cleaning deposit",
	})
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)
	require.NotEmpty(t, session.URL)

	payload, err := json.Marshal(map[string]interface{}{
		"id":   "evt_1",
		"type": payments.EventCheckoutCompleted,
		"data": map[string]interface{}{"object": map[string]interface{}{"id": session.ID}},
	})
	require.NoError(t, err)

	event, err := provider.VerifyWebhook(payload, provider.Sign(payload))
	require.NoError(t, err)
	require.Equal(t, "evt_1", event.ID)
	require.Equal(t, payments.EventCheckoutCompleted, event.Type)
	require.Equal(t, session.ID, event.CheckoutSessionID)

	_, err = provider.VerifyWebhook(payload, "bad-signature")
	require.Error(t, err)
	require.True(t, apperrs.ErrIntegration.Has(err))
}
