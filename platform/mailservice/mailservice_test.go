// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package mailservice

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightbroom/brightbroom/private/post"
)

type captureSender struct {
	messages []*post.Message
}

func (s *captureSender) FromAddress() post.Address {
	return post.Address{Address: "no-reply@example.com"}
}

func (s *captureSender) SendEmail(ctx context.Context, msg *post.Message) error {
	s.messages = append(s.messages, msg)
	return nil
}

func TestSendRendered(t *testing.T) {
	capture := &captureSender{}
	service := &Service{log: zaptest.NewLogger(t), sender: capture}

	err := service.SendRendered(context.Background(), "pat@example.com", "booking_confirmed", map[string]interface{}{
		"name":      "Pat",
		"starts_at": "2024-06-01T10:00:00Z",
	})
	require.NoError(t, err)
	require.Len(t, capture.messages, 1)
	require.Equal(t, "Your cleaning is confirmed", capture.messages[0].Subject)
	require.Contains(t, capture.messages[0].PlainText, "Pat")
	require.Contains(t, capture.messages[0].PlainText, "2024-06-01T10:00:00Z")

	err = service.SendRendered(context.Background(), "pat@example.com", "no_such_template", nil)
	require.Error(t, err)

	err = service.SendRendered(context.Background(), "not an address", "booking_confirmed", nil)
	require.Error(t, err)
}

func TestSimulateProvider(t *testing.T) {
	service, err := New(zaptest.NewLogger(t), Config{Provider: "simulate"})
	require.NoError(t, err)
	require.NoError(t, service.SendRendered(context.Background(), "pat@example.com", "invoice_sent", map[string]interface{}{
		"number": "INV-2024-000001",
		"link":   "https://pay.example.com/i/tok",
	}))
}

func TestEveryTemplateRenders(t *testing.T) {
	capture := &captureSender{}
	service := &Service{log: zaptest.NewLogger(t), sender: capture}
	data := map[string]interface{}{
		"name": "Pat", "starts_at": "soon", "number": "INV-2024-000001",
		"link": "https://example.com", "org_name": "Sparkle Co",
	}
	for name := range templates {
		require.NoError(t, service.SendRendered(context.Background(), "pat@example.com", name, data), name)
	}
}
