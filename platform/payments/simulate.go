// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// Simulate is a provider stand-in for development and tests. Checkout
// sessions are deterministic and webhooks are signed with a plain HMAC of
// the payload.
type Simulate struct {
	secret []byte
}

// NewSimulate creates the simulated provider.
func NewSimulate() *Simulate {
	return &Simulate{secret: []byte("simulate")}
}

// WithSecret overrides the webhook secret, for tests.
func (s *Simulate) WithSecret(secret string) *Simulate {
	s.secret = []byte(secret)
	return s
}

// CreateCheckoutSession implements Provider.
func (s *Simulate) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	id := "sim_" + params.BookingID.String()
	return &CheckoutSession{
		ID:  id,
		URL: "https://checkout.simulate.invalid/" + id,
	}, nil
}

// Sign computes the signature header for a payload, so tests and dev tools
// can produce valid webhooks.
func (s *Simulate) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook implements Provider.
func (s *Simulate) VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	if !hmac.Equal([]byte(signatureHeader), []byte(s.Sign(payload))) {
		return nil, apperrs.ErrIntegration.Wrap(Error.New("invalid webhook signature"))
	}
	var decoded struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID string `json:"id"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, apperrs.ErrIntegration.Wrap(Error.Wrap(err))
	}
	return &WebhookEvent{
		ID:                decoded.ID,
		Type:              decoded.Type,
		CheckoutSessionID: decoded.Data.Object.ID,
	}, nil
}
