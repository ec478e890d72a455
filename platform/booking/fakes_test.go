// Copyright (C) 2024 BrightBroom, Inc.
// See LICENSE for copying information.

package booking_test

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brightbroom/brightbroom/platform/booking"
	"github.com/brightbroom/brightbroom/platform/console"
	"github.com/brightbroom/brightbroom/platform/lead"
	"github.com/brightbroom/brightbroom/platform/outbox"
)

type fakeOrgs struct {
	console.Organizations
	plan string
}

func (f *fakeOrgs) Get(ctx context.Context, id uuid.UUID) (*console.Organization, error) {
	return &console.Organization{ID: id, Plan: f.plan}, nil
}

// fakeDB is an in-memory booking.DB. WithTx takes a global lock, which
// gives the same serialization the team row lock provides in SQL.
type fakeDB struct {
	mu       sync.Mutex
	bookings map[uuid.UUID]*booking.Booking
	teams    map[uuid.UUID]*booking.Team
	leads    map[uuid.UUID]*lead.Lead
	credits  map[uuid.UUID]*lead.ReferralCredit
	webhooks map[string]bool
	outbox   []*outbox.Event
}

func newFakeDB() *fakeDB {
	return &fakeDB{
		bookings: map[uuid.UUID]*booking.Booking{},
		teams:    map[uuid.UUID]*booking.Team{},
		leads:    map[uuid.UUID]*lead.Lead{},
		credits:  map[uuid.UUID]*lead.ReferralCredit{},
		webhooks: map[string]bool{},
	}
}

func (db *fakeDB) Bookings() booking.Bookings { return &fakeBookings{db} }
func (db *fakeDB) Teams() booking.Teams       { return &fakeTeams{db} }

func (db *fakeDB) WithTx(ctx context.Context, orgID uuid.UUID, fn func(ctx context.Context, tx booking.Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(ctx, &fakeTx{db})
}

type fakeTx struct{ db *fakeDB }

func (tx *fakeTx) Bookings() booking.Bookings      { return &fakeBookings{tx.db} }
func (tx *fakeTx) Teams() booking.Teams            { return &fakeTeams{tx.db} }
func (tx *fakeTx) Webhooks() booking.WebhookEvents { return &fakeWebhooks{tx.db} }
func (tx *fakeTx) Leads() lead.Leads               { return &fakeLeads{tx.db} }
func (tx *fakeTx) Credits() lead.Credits           { return &fakeCredits{tx.db} }
func (tx *fakeTx) Outbox() outbox.Queue            { return &fakeQueue{tx.db} }

type fakeTeams struct{ db *fakeDB }

func (f *fakeTeams) Insert(ctx context.Context, team *booking.Team) error {
	clone := *team
	f.db.teams[team.ID] = &clone
	return nil
}

func (f *fakeTeams) Get(ctx context.Context, orgID, id uuid.UUID) (*booking.Team, error) {
	if team, ok := f.db.teams[id]; ok && team.OrgID == orgID {
		clone := *team
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeTeams) List(ctx context.Context, orgID uuid.UUID) ([]booking.Team, error) {
	var out []booking.Team
	for _, team := range f.db.teams {
		if team.OrgID == orgID {
			out = append(out, *team)
		}
	}
	return out, nil
}

func (f *fakeTeams) Update(ctx context.Context, team *booking.Team) error {
	clone := *team
	f.db.teams[team.ID] = &clone
	return nil
}

func (f *fakeTeams) Lock(ctx context.Context, orgID, id uuid.UUID) error { return nil }

type fakeBookings struct{ db *fakeDB }

func (f *fakeBookings) Insert(ctx context.Context, b *booking.Booking) error {
	clone := *b
	f.db.bookings[b.ID] = &clone
	return nil
}

func (f *fakeBookings) Get(ctx context.Context, orgID, id uuid.UUID) (*booking.Booking, error) {
	if b, ok := f.db.bookings[id]; ok && b.OrgID == orgID {
		clone := *b
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeBookings) GetByDepositSession(ctx context.Context, sessionID string) (*booking.Booking, error) {
	for _, b := range f.db.bookings {
		if b.DepositSessionID == sessionID {
			clone := *b
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeBookings) List(ctx context.Context, orgID uuid.UUID, status booking.Status, limit, offset int) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.db.bookings {
		if b.OrgID == orgID && (status == "" || b.Status == status) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) ListOverlapping(ctx context.Context, orgID, teamID uuid.UUID, from, to time.Time) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.db.bookings {
		if b.OrgID != orgID || b.TeamID != teamID {
			continue
		}
		if b.Status == booking.StatusCancelled || b.Status == booking.StatusExpired {
			continue
		}
		if from.Before(b.End()) && b.StartsAt.Before(to) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) ListForLead(ctx context.Context, orgID, leadID uuid.UUID) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.db.bookings {
		if b.OrgID == orgID && b.LeadID == leadID {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, from []booking.Status, to booking.Status, now time.Time) (bool, error) {
	b, ok := f.db.bookings[id]
	if !ok || b.OrgID != orgID {
		return false, nil
	}
	for _, status := range from {
		if b.Status == status {
			b.Status = to
			b.UpdatedAt = now
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBookings) UpdateSlot(ctx context.Context, orgID, id uuid.UUID, startsAt time.Time, durationMin int, now time.Time) error {
	if b, ok := f.db.bookings[id]; ok && b.OrgID == orgID {
		b.StartsAt = startsAt
		b.DurationMin = durationMin
		b.UpdatedAt = now
	}
	return nil
}

func (f *fakeBookings) MarkDepositPaid(ctx context.Context, orgID, id uuid.UUID, at time.Time) error {
	if b, ok := f.db.bookings[id]; ok && b.OrgID == orgID {
		paid := at
		b.DepositPaidAt = &paid
	}
	return nil
}

func (f *fakeBookings) ListStale(ctx context.Context, before time.Time, limit int) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.db.bookings {
		if (b.Status == booking.StatusPending || b.Status == booking.StatusAwaitingDeposit) && b.CreatedAt.Before(before) {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (f *fakeBookings) CountCreatedSince(ctx context.Context, orgID uuid.UUID, since time.Time) (int, error) {
	count := 0
	for _, b := range f.db.bookings {
		if b.OrgID == orgID && !b.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeBookings) ListUpcoming(ctx context.Context, from, to time.Time) ([]booking.Booking, error) {
	var out []booking.Booking
	for _, b := range f.db.bookings {
		if b.Status == booking.StatusConfirmed && !b.StartsAt.Before(from) && b.StartsAt.Before(to) {
			out = append(out, *b)
		}
	}
	return out, nil
}

type fakeWebhooks struct{ db *fakeDB }

func (f *fakeWebhooks) Record(ctx context.Context, provider, eventID string) (bool, error) {
	key := provider + ":" + eventID
	if f.db.webhooks[key] {
		return false, nil
	}
	f.db.webhooks[key] = true
	return true, nil
}

type fakeLeads struct{ db *fakeDB }

func (f *fakeLeads) Insert(ctx context.Context, l *lead.Lead) error {
	clone := *l
	f.db.leads[l.ID] = &clone
	return nil
}

func (f *fakeLeads) Get(ctx context.Context, orgID, id uuid.UUID) (*lead.Lead, error) {
	if l, ok := f.db.leads[id]; ok && l.OrgID == orgID {
		clone := *l
		return &clone, nil
	}
	return nil, nil
}

func (f *fakeLeads) GetByReferralCode(ctx context.Context, orgID uuid.UUID, code string) (*lead.Lead, error) {
	for _, l := range f.db.leads {
		if l.OrgID == orgID && l.ReferralCode == code {
			clone := *l
			return &clone, nil
		}
	}
	return nil, nil
}

func (f *fakeLeads) List(ctx context.Context, orgID uuid.UUID, status lead.Status, limit, offset int) ([]lead.Lead, error) {
	var out []lead.Lead
	for _, l := range f.db.leads {
		if l.OrgID == orgID && (status == "" || l.Status == status) {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (f *fakeLeads) UpdateStatus(ctx context.Context, orgID, id uuid.UUID, status lead.Status) error {
	if l, ok := f.db.leads[id]; ok && l.OrgID == orgID {
		l.Status = status
	}
	return nil
}

func (f *fakeLeads) ListOlderThan(ctx context.Context, before time.Time, limit int) ([]lead.Lead, error) {
	return nil, nil
}

func (f *fakeLeads) Delete(ctx context.Context, orgID, id uuid.UUID) error {
	delete(f.db.leads, id)
	return nil
}

type fakeCredits struct{ db *fakeDB }

func (f *fakeCredits) Insert(ctx context.Context, credit *lead.ReferralCredit) error {
	clone := *credit
	f.db.credits[credit.ID] = &clone
	return nil
}

func (f *fakeCredits) ListByBeneficiary(ctx context.Context, orgID, leadID uuid.UUID) ([]lead.ReferralCredit, error) {
	var out []lead.ReferralCredit
	for _, credit := range f.db.credits {
		if credit.OrgID == orgID && credit.BeneficiaryID == leadID {
			out = append(out, *credit)
		}
	}
	return out, nil
}

func (f *fakeCredits) Resolve(ctx context.Context, orgID, sourceLeadID uuid.UUID, state lead.CreditState, at time.Time) (bool, error) {
	for _, credit := range f.db.credits {
		if credit.OrgID != orgID || credit.SourceLeadID != sourceLeadID {
			continue
		}
		allowed := credit.State == lead.CreditPending ||
			(state == lead.CreditVoided && credit.State == lead.CreditGranted)
		if !allowed {
			continue
		}
		credit.State = state
		resolved := at
		credit.ResolvedAt = &resolved
		return true, nil
	}
	return false, nil
}

func (f *fakeCredits) DeleteForLead(ctx context.Context, orgID, leadID uuid.UUID) error {
	for id, credit := range f.db.credits {
		if credit.OrgID == orgID && (credit.BeneficiaryID == leadID || credit.SourceLeadID == leadID) {
			delete(f.db.credits, id)
		}
	}
	return nil
}

type fakeQueue struct{ db *fakeDB }

func (f *fakeQueue) Enqueue(ctx context.Context, event *outbox.Event) (bool, error) {
	for _, existing := range f.db.outbox {
		if existing.OrgID == event.OrgID && existing.DedupeKey == event.DedupeKey {
			return false, nil
		}
	}
	clone := *event
	f.db.outbox = append(f.db.outbox, &clone)
	return true, nil
}

func (db *fakeDB) outboxCount(kind outbox.Kind, dedupe string) int {
	count := 0
	for _, event := range db.outbox {
		if event.Kind == kind && (dedupe == "" || event.DedupeKey == dedupe) {
			count++
		}
	}
	return count
}
