// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package outbox_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/brightbroom/brightbroom/platform/outbox"
)

// fakeEvents is an in-memory Events repository with the same claim and
// dedupe semantics as the SQL implementation.
type fakeEvents struct {
	mu     sync.Mutex
	events map[uuid.UUID]*outbox.Event
}

func newFakeEvents() *fakeEvents {
	return &fakeEvents{events: map[uuid.UUID]*outbox.Event{}}
}

func (f *fakeEvents) Enqueue(ctx context.Context, event *outbox.Event) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.events {
		if existing.OrgID == event.OrgID && existing.DedupeKey == event.DedupeKey {
			return false, nil
		}
	}
	clone := *event
	clone.Status = outbox.StatusPending
	clone.CreatedAt = time.Now()
	f.events[event.ID] = &clone
	return true, nil
}

func (f *fakeEvents) ClaimDue(ctx context.Context, now time.Time, batch int, leaseOwner string, leaseTTL time.Duration) ([]outbox.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var claimed []outbox.Event
	for _, event := range f.events {
		if len(claimed) >= batch {
			break
		}
		due := event.Status == outbox.StatusPending && !event.NextAttemptAt.After(now)
		stale := event.Status == outbox.StatusInFlight && event.LeasedAt != nil && now.Sub(*event.LeasedAt) > leaseTTL
		if due || stale {
			event.Status = outbox.StatusInFlight
			event.LeaseOwner = leaseOwner
			leased := now
			event.LeasedAt = &leased
			claimed = append(claimed, *event)
		}
	}
	return claimed, nil
}

func (f *fakeEvents) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := f.events[id]
	event.Status = outbox.StatusDelivered
	event.DeliveredAt = &at
	return nil
}

func (f *fakeEvents) Reschedule(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := f.events[id]
	event.Status = outbox.StatusPending
	event.Attempts = attempts
	event.NextAttemptAt = next
	event.LastError = lastError
	return nil
}

func (f *fakeEvents) MarkDead(ctx context.Context, id uuid.UUID, attempts int, lastError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event := f.events[id]
	event.Status = outbox.StatusDead
	event.Attempts = attempts
	event.LastError = lastError
	return nil
}

func (f *fakeEvents) Get(ctx context.Context, orgID, id uuid.UUID) (*outbox.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event, ok := f.events[id]; ok && event.OrgID == orgID {
		clone := *event
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeEvents) ListDead(ctx context.Context, orgID uuid.UUID, kind outbox.Kind, limit int) ([]outbox.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var dead []outbox.Event
	for _, event := range f.events {
		if event.OrgID == orgID && event.Status == outbox.StatusDead && (kind == "" || event.Kind == kind) {
			dead = append(dead, *event)
		}
	}
	return dead, nil
}

func (f *fakeEvents) Replay(ctx context.Context, orgID, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[id]
	if !ok || event.OrgID != orgID || event.Status != outbox.StatusDead {
		return false, nil
	}
	event.Status = outbox.StatusPending
	event.Attempts = 0
	event.NextAttemptAt = time.Time{}
	return true, nil
}

func (f *fakeEvents) RequeueDeadKind(ctx context.Context, kind outbox.Kind, before time.Time, limit int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var requeued int64
	for _, event := range f.events {
		if requeued >= int64(limit) {
			break
		}
		if event.Status == outbox.StatusDead && event.Kind == kind && event.CreatedAt.Before(before) {
			event.Status = outbox.StatusPending
			event.Attempts = 0
			event.NextAttemptAt = time.Time{}
			requeued++
		}
	}
	return requeued, nil
}

func (f *fakeEvents) DeleteFinished(ctx context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var removed int64
	for id, event := range f.events {
		if (event.Status == outbox.StatusDelivered || event.Status == outbox.StatusDead) && event.CreatedAt.Before(before) {
			delete(f.events, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeEvents) status(id uuid.UUID) outbox.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[id].Status
}

func newService(t *testing.T, db outbox.Events, maxAttempts int) *outbox.Service {
	return outbox.NewService(zaptest.NewLogger(t), db, outbox.Config{
		BatchSize:   10,
		MaxAttempts: maxAttempts,
		BackoffBase: time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		LeaseTTL:    time.Minute,
	})
}

func TestEnqueueDedupe(t *testing.T) {
	ctx := context.Background()
	db := newFakeEvents()
	orgID := uuid.New()

	first, err := db.Enqueue(ctx, outbox.New(orgID, outbox.KindEmail, "booking:1:confirmed", nil))
	require.NoError(t, err)
	require.True(t, first)

	second, err := db.Enqueue(ctx, outbox.New(orgID, outbox.KindEmail, "booking:1:confirmed", nil))
	require.NoError(t, err)
	require.False(t, second)

	// a different org may reuse the key
	other, err := db.Enqueue(ctx, outbox.New(uuid.New(), outbox.KindEmail, "booking:1:confirmed", nil))
	require.NoError(t, err)
	require.True(t, other)
}

func TestDrainDelivers(t *testing.T) {
	ctx := context.Background()
	db := newFakeEvents()
	service := newService(t, db, 3)

	var delivered []string
	service.Register(outbox.KindEmail, outbox.HandlerFunc(func(ctx context.Context, event *outbox.Event) error {
		delivered = append(delivered, event.DedupeKey)
		return nil
	}))

	event := outbox.New(uuid.New(), outbox.KindEmail, "k1", []byte(`{}`))
	_, err := db.Enqueue(ctx, event)
	require.NoError(t, err)

	processed, err := service.DrainDue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, processed)
	require.Equal(t, []string{"k1"}, delivered)
	require.Equal(t, outbox.StatusDelivered, db.status(event.ID))
}

func TestDrainRetriesThenDead(t *testing.T) {
	ctx := context.Background()
	db := newFakeEvents()
	service := newService(t, db, 3)

	var attempts int
	service.Register(outbox.KindExportWebhook, outbox.HandlerFunc(func(ctx context.Context, event *outbox.Event) error {
		attempts++
		return outbox.Error.New("connection refused")
	}))

	event := outbox.New(uuid.New(), outbox.KindExportWebhook, "k1", []byte(`{}`))
	_, err := db.Enqueue(ctx, event)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := service.DrainDue(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
	}
	require.Equal(t, 3, attempts)
	require.Equal(t, outbox.StatusDead, db.status(event.ID))

	// replay resets and the event delivers against a fixed handler
	service.Register(outbox.KindExportWebhook, outbox.HandlerFunc(func(ctx context.Context, event *outbox.Event) error {
		return nil
	}))
	replayed, err := service.Replay(ctx, event.OrgID, event.ID)
	require.NoError(t, err)
	require.True(t, replayed)

	_, err = service.DrainDue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, outbox.StatusDelivered, db.status(event.ID))
}

func TestDrainPermanentFailureIsImmediatelyDead(t *testing.T) {
	ctx := context.Background()
	db := newFakeEvents()
	service := newService(t, db, 10)

	service.Register(outbox.KindEmail, outbox.HandlerFunc(func(ctx context.Context, event *outbox.Event) error {
		return outbox.Permanent(outbox.Error.New("410 gone"), outbox.CodeRejected)
	}))

	event := outbox.New(uuid.New(), outbox.KindEmail, "k1", []byte(`{}`))
	_, err := db.Enqueue(ctx, event)
	require.NoError(t, err)

	_, err = service.DrainDue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, outbox.StatusDead, db.status(event.ID))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	service := outbox.NewService(zaptest.NewLogger(t), newFakeEvents(), outbox.Config{
		BackoffBase: 30 * time.Second,
		BackoffMax:  4 * time.Hour,
	})

	previous := time.Duration(0)
	for attempt := 1; attempt <= 12; attempt++ {
		delay := service.Backoff(attempt)
		require.GreaterOrEqual(t, delay, previous/2, "attempt %d", attempt)
		require.LessOrEqual(t, delay, 4*time.Hour)
		previous = delay
	}
	require.Equal(t, 4*time.Hour, service.Backoff(100))
}

func TestWebhookHandler(t *testing.T) {
	ctx := context.Background()
	log := zaptest.NewLogger(t)

	var got json.RawMessage
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := json.RawMessage{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	checker := outbox.NewDestinationChecker(outbox.DestinationConfig{
		AllowedHosts: []string{serverURL.Hostname()},
		RequireHTTPS: false,
		BlockPrivate: false,
	})
	handler := outbox.NewWebhookHandler(log, checker, server.Client())

	payload, err := json.Marshal(outbox.WebhookPayload{
		URL:  server.URL,
		Body: json.RawMessage(`{"lead":"l1"}`),
	})
	require.NoError(t, err)

	event := outbox.New(uuid.New(), outbox.KindExportWebhook, "k1", payload)
	require.NoError(t, handler.Handle(ctx, event))
	require.JSONEq(t, `{"lead":"l1"}`, string(got))
}

func TestWebhookHandlerBlockedDestination(t *testing.T) {
	ctx := context.Background()
	checker := outbox.NewDestinationChecker(outbox.DestinationConfig{
		AllowedHosts: []string{"hooks.example.com"},
		RequireHTTPS: true,
		BlockPrivate: true,
	})
	handler := outbox.NewWebhookHandler(zaptest.NewLogger(t), checker, nil)

	for _, destination := range []string{
		"https://evil.example.com/hook",      // not on allowlist
		"http://hooks.example.com/hook",      // plain http
		"https://127.0.0.1/hook",             // loopback ip
		"https://192.168.1.10/hook",          // private ip
	} {
		payload, err := json.Marshal(outbox.WebhookPayload{URL: destination})
		require.NoError(t, err)
		err = handler.Handle(ctx, outbox.New(uuid.New(), outbox.KindExportWebhook, destination, payload))
		require.Error(t, err, destination)
	}
}

func TestWebhookHandlerPoisonOn4xx(t *testing.T) {
	ctx := context.Background()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	serverURL, err := url.Parse(server.URL)
	require.NoError(t, err)

	checker := outbox.NewDestinationChecker(outbox.DestinationConfig{
		AllowedHosts: []string{serverURL.Hostname()},
	})
	handler := outbox.NewWebhookHandler(zaptest.NewLogger(t), checker, server.Client())

	db := newFakeEvents()
	service := newService(t, db, 10)
	service.Register(outbox.KindExportWebhook, handler)

	payload, err := json.Marshal(outbox.WebhookPayload{URL: server.URL, Body: json.RawMessage(`{}`)})
	require.NoError(t, err)
	event := outbox.New(uuid.New(), outbox.KindExportWebhook, "k1", payload)
	_, err = db.Enqueue(ctx, event)
	require.NoError(t, err)

	_, err = service.DrainDue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, outbox.StatusDead, db.status(event.ID))
}

func TestRequeueDeadOnlyTouchesOneKind(t *testing.T) {
	ctx := context.Background()
	db := newFakeEvents()
	service := newService(t, db, 1)

	service.Register(outbox.KindStorageDelete, outbox.HandlerFunc(func(ctx context.Context, event *outbox.Event) error {
		return outbox.Error.New("bucket unavailable")
	}))
	service.Register(outbox.KindEmail, outbox.HandlerFunc(func(ctx context.Context, event *outbox.Event) error {
		return outbox.Error.New("smtp down")
	}))

	deleteEvent := outbox.New(uuid.New(), outbox.KindStorageDelete, "d1", []byte(`{}`))
	emailEvent := outbox.New(uuid.New(), outbox.KindEmail, "e1", []byte(`{}`))
	_, err := db.Enqueue(ctx, deleteEvent)
	require.NoError(t, err)
	_, err = db.Enqueue(ctx, emailEvent)
	require.NoError(t, err)

	_, err = service.DrainDue(ctx, time.Now())
	require.NoError(t, err)
	require.Equal(t, outbox.StatusDead, db.status(deleteEvent.ID))
	require.Equal(t, outbox.StatusDead, db.status(emailEvent.ID))

	requeued, err := service.RequeueDead(ctx, outbox.KindStorageDelete, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(1), requeued)
	require.Equal(t, outbox.StatusPending, db.status(deleteEvent.ID))
	require.Equal(t, outbox.StatusDead, db.status(emailEvent.ID))
}

func TestLeaseReclaim(t *testing.T) {
	ctx := context.Background()
	db := newFakeEvents()

	event := outbox.New(uuid.New(), outbox.KindEmail, "k1", nil)
	_, err := db.Enqueue(ctx, event)
	require.NoError(t, err)

	now := time.Now()
	claimed, err := db.ClaimDue(ctx, now, 10, "worker-1", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// still leased, a second worker gets nothing
	claimed, err = db.ClaimDue(ctx, now.Add(30*time.Second), 10, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Empty(t, claimed)

	// past the lease ttl the event is reclaimable
	claimed, err = db.ClaimDue(ctx, now.Add(2*time.Minute), 10, "worker-2", time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	require.Equal(t, "worker-2", claimed[0].LeaseOwner)
}
