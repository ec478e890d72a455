// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

// Package payments is the contract over the external payment provider.
package payments

import (
	"context"

	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default payments errs class.
var Error = errs.Class("payments")

// Config holds provider credentials.
type Config struct {
	Provider      string `help:"payment provider: stripe or simulate" default:"simulate"`
	SecretKey     string `help:"provider api secret key" default:""`
	WebhookSecret string `help:"webhook signing secret" default:""`
	SuccessURL    string `help:"redirect after successful checkout" default:"http://localhost:8080/booking/success"`
	CancelURL     string `help:"redirect after cancelled checkout" default:"http://localhost:8080/booking/cancelled"`
}

// CheckoutParams describes one deposit checkout.
type CheckoutParams struct {
	OrgID         uuid.UUID
	BookingID     uuid.UUID
	AmountCents   int64
	Currency      string
	Description   string
	CustomerEmail string
}

// CheckoutSession is a provider hosted payment page.
type CheckoutSession struct {
	ID  string
	URL string
}

// WebhookEvent is a verified provider notification.
type WebhookEvent struct {
	ID                string
	Type              string
	CheckoutSessionID string
}

// Webhook event types the booking flow reacts to.
const (
	EventCheckoutCompleted = "checkout.session.completed"
	EventCheckoutExpired   = "checkout.session.expired"
)

// Provider is the capability contract over the payment provider. The
// variant is chosen once at startup.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// VerifyWebhook checks the provider signature and decodes the event.
	// Invalid signatures fail with an INTEGRATION_REJECTED error.
	VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// Open instantiates the configured provider.
func Open(config Config) (Provider, error) {
	switch config.Provider {
	case "stripe":
		return NewStripe(config)
	case "simulate":
		return NewSimulate(), nil
	default:
		return nil, Error.New("unknown payment provider %q", config.Provider)
	}
}
