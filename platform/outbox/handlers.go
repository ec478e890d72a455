// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/brightbroom/brightbroom/platform/apperrs"
	"github.com/brightbroom/brightbroom/platform/metrics"
)

// EmailSender renders and sends one templated email.
type EmailSender interface {
	SendRendered(ctx context.Context, to, template string, data map[string]interface{}) error
}

// ObjectDeleter removes one stored object. Missing objects succeed.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// EmailPayload is the payload of KindEmail events.
type EmailPayload struct {
	To       string                 `json:"to"`
	Template string                 `json:"template"`
	Data     map[string]interface{} `json:"data,omitempty"`
}

// NewEmailHandler delivers KindEmail events through the sender.
func NewEmailHandler(log *zap.Logger, sender EmailSender) Handler {
	return HandlerFunc(func(ctx context.Context, event *Event) error {
		var payload EmailPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return Permanent(Error.Wrap(err), CodeBadPayload)
		}
		if payload.To == "" || payload.Template == "" {
			return Permanent(Error.New("email payload missing to or template"), CodeBadPayload)
		}
		if err := sender.SendRendered(ctx, payload.To, payload.Template, payload.Data); err != nil {
			metrics.EmailEvents.WithLabelValues(payload.Template, "failed").Inc()
			return Error.Wrap(err)
		}
		metrics.EmailEvents.WithLabelValues(payload.Template, "sent").Inc()
		return nil
	})
}

// WebhookPayload is the payload of KindExportWebhook and
// KindIntegrationEvent events.
type WebhookPayload struct {
	URL  string          `json:"url"`
	Body json.RawMessage `json:"body"`
}

// NewWebhookHandler posts export payloads to their destination after the
// checker approves it. Responses classify the failure: 4xx is poison, 5xx
// and transport errors retry.
func NewWebhookHandler(log *zap.Logger, checker *DestinationChecker, client *http.Client) Handler {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return HandlerFunc(func(ctx context.Context, event *Event) error {
		var payload WebhookPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return Permanent(Error.Wrap(err), CodeBadPayload)
		}
		if err := checker.Check(ctx, payload.URL); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, payload.URL, bytes.NewReader(payload.Body))
		if err != nil {
			return Permanent(Error.Wrap(err), CodeBadPayload)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Dedupe-Key", event.DedupeKey)

		resp, err := client.Do(req)
		if err != nil {
			return apperrs.ErrDependency.Wrap(Error.Wrap(err))
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode/100 == 2:
			return nil
		case resp.StatusCode/100 == 4:
			return Permanent(Error.New("destination returned %d", resp.StatusCode), CodeRejected)
		default:
			return apperrs.ErrDependency.Wrap(Error.New("destination returned %d", resp.StatusCode))
		}
	})
}

// StorageDeletePayload is the payload of KindStorageDelete events.
type StorageDeletePayload struct {
	Key string `json:"key"`
}

// NewStorageJanitorHandler deletes orphaned objects after their DB rows are
// gone. Transient storage errors retry through the normal backoff.
func NewStorageJanitorHandler(log *zap.Logger, store ObjectDeleter) Handler {
	return HandlerFunc(func(ctx context.Context, event *Event) error {
		var payload StorageDeletePayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return Permanent(Error.Wrap(err), CodeBadPayload)
		}
		if payload.Key == "" {
			return Permanent(Error.New("storage delete payload missing key"), CodeBadPayload)
		}
		return Error.Wrap(store.Delete(ctx, payload.Key))
	})
}
