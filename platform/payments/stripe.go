// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package payments

import (
	"context"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"github.com/brightbroom/brightbroom/platform/apperrs"
)

// Stripe implements Provider with stripe hosted checkout.
type Stripe struct {
	client        *client.API
	webhookSecret string
	config        Config
}

// NewStripe creates the stripe provider.
func NewStripe(config Config) (*Stripe, error) {
	if config.SecretKey == "" || config.WebhookSecret == "" {
		return nil, Error.New("stripe requires secret key and webhook secret")
	}
	api := &client.API{}
	api.Init(config.SecretKey, nil)
	return &Stripe{client: api, webhookSecret: config.WebhookSecret, config: config}, nil
}

// CreateCheckoutSession implements Provider.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, params CheckoutParams) (*CheckoutSession, error) {
	currency := params.Currency
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	session, err := s.client.CheckoutSessions.New(&stripe.CheckoutSessionParams{
		Params: stripe.Params{
			Context: ctx,
			Metadata: map[string]string{
				"org_id":     params.OrgID.String(),
				"booking_id": params.BookingID.String(),
			},
		},
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(s.config.SuccessURL),
		CancelURL:          stripe.String(s.config.CancelURL),
		CustomerEmail:      stripe.String(params.CustomerEmail),
		ClientReferenceID:  stripe.String(params.BookingID.String()),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(params.AmountCents),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(params.Description),
				},
			},
		}},
	})
	if err != nil {
		return nil, apperrs.ErrDependency.Wrap(Error.Wrap(err))
	}
	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// VerifyWebhook implements Provider using the provider signature scheme.
func (s *Stripe) VerifyWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(payload, signatureHeader, s.webhookSecret)
	if err != nil {
		return nil, apperrs.ErrIntegration.Wrap(Error.New("invalid webhook signature"))
	}

	verified := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if object, ok := event.Data.Object["id"].(string); ok {
		verified.CheckoutSessionID = object
	}
	return verified, nil
}
