// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package booking

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/metrics"
)

// Webhook processing results, used as metric labels and handler outcomes.
const (
	WebhookConfirmed      = "confirmed"
	WebhookExpired        = "expired"
	WebhookReplayed       = "replayed"
	WebhookReplayMismatch = "replay_mismatch"
	WebhookIgnored        = "ignored"
	WebhookInvalid        = "invalid_signature"
	WebhookUnknownSession = "unknown_session"
)

// ProcessWebhook verifies and applies one payment provider notification.
// Processing is idempotent on the provider event id; signature failures
// are the only error path, so the provider never retries recorded events.
func (service *Service) ProcessWebhook(ctx context.Context, payload []byte, signatureHeader string) (result string, err error) {
	defer mon.Task()(&ctx)(&err)

	event, err := service.provider.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(WebhookInvalid).Inc()
		return WebhookInvalid, err
	}

	switch event.Type {
	case "checkout.session.completed":
		result, err = service.applyDeposit(ctx, event.ID, event.CheckoutSessionID)
	case "checkout.session.expired":
		result, err = service.expireSession(ctx, event.ID, event.CheckoutSessionID)
	default:
		result = WebhookIgnored
	}
	if err != nil {
		return result, err
	}
	metrics.WebhookEvents.WithLabelValues(result).Inc()
	service.audit.Event(ctx, "booking.webhook",
		zap.String("event_id", event.ID),
		zap.String("result", result))
	return result, nil
}

func (service *Service) applyDeposit(ctx context.Context, eventID, sessionID string) (string, error) {
	target, err := service.db.Bookings().GetByDepositSession(ctx, sessionID)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if target == nil {
		// unknown events return success so the provider stops retrying
		return WebhookUnknownSession, nil
	}

	result := WebhookConfirmed
	err = service.db.WithTx(ctx, target.OrgID, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.Webhooks().Record(ctx, "stripe", eventID)
		if err != nil {
			return Error.Wrap(err)
		}
		if !fresh {
			result = WebhookReplayed
			return nil
		}

		now := service.nowFn()
		moved, err := tx.Bookings().UpdateStatus(ctx, target.OrgID, target.ID,
			[]Status{StatusAwaitingDeposit}, StatusConfirmed, now)
		if err != nil {
			return Error.Wrap(err)
		}
		if !moved {
			current, err := tx.Bookings().Get(ctx, target.OrgID, target.ID)
			if err != nil {
				return Error.Wrap(err)
			}
			if current != nil && current.Status == StatusConfirmed {
				result = WebhookReplayed
				return nil
			}
			// payment landed on a cancelled or expired booking
			result = WebhookReplayMismatch
			service.log.Warn("webhook replay mismatch",
				zap.String("booking_id", target.ID.String()),
				zap.String("event_id", eventID))
			return nil
		}

		if err := tx.Bookings().MarkDepositPaid(ctx, target.OrgID, target.ID, now); err != nil {
			return Error.Wrap(err)
		}

		var prospect *lead.Lead
		if target.LeadID != uuid.Nil {
			prospect, err = tx.Leads().Get(ctx, target.OrgID, target.LeadID)
			if err != nil {
				return Error.Wrap(err)
			}
		}
		return service.onConfirmed(ctx, tx, target, prospect)
	})
	if err != nil {
		return "", err
	}
	if result == WebhookConfirmed {
		metrics.BookingLifecycle.WithLabelValues("confirmed").Inc()
	}
	return result, nil
}

func (service *Service) expireSession(ctx context.Context, eventID, sessionID string) (string, error) {
	target, err := service.db.Bookings().GetByDepositSession(ctx, sessionID)
	if err != nil {
		return "", Error.Wrap(err)
	}
	if target == nil {
		return WebhookUnknownSession, nil
	}

	result := WebhookExpired
	err = service.db.WithTx(ctx, target.OrgID, func(ctx context.Context, tx Tx) error {
		fresh, err := tx.Webhooks().Record(ctx, "stripe", eventID)
		if err != nil {
			return Error.Wrap(err)
		}
		if !fresh {
			result = WebhookReplayed
			return nil
		}
		moved, err := tx.Bookings().UpdateStatus(ctx, target.OrgID, target.ID,
			[]Status{StatusAwaitingDeposit}, StatusExpired, service.nowFn())
		if err != nil {
			return Error.Wrap(err)
		}
		if !moved {
			result = WebhookReplayed
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}

// VerifyOnly re-exports signature verification for surfaces that need to
// reject bad webhooks before reading the body further.
func (service *Service) VerifyOnly(payload []byte, signatureHeader string) error {
	_, err := service.provider.VerifyWebhook(payload, signatureHeader)
	if err != nil {
		return apperrs.ErrIntegration.Wrap(err)
	}
	return nil
}
