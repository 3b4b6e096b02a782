package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
)

func TestSessionLifecycle(t *testing.T) {
	store := New()
	ctx := context.Background()

	sess := session.Session{Token: "tok", SubjectID: "subject", ExpiresAt: time.Now().Add(time.Hour)}
	if err := store.PutSession(ctx, sess); err != nil {
		t.Fatalf("put session: %v", err)
	}

	got, err := store.GetSession(ctx, "tok")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.SubjectID != "subject" {
		t.Fatalf("unexpected subject %q", got.SubjectID)
	}

	if err := store.DeleteSession(ctx, "tok"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if _, err := store.GetSession(ctx, "tok"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTrustReserveCommit(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	// A second reservation while one is in flight must conflict.
	if err := store.ReserveTrustRecord(ctx, "subject"); !errors.Is(err, sentinel.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	rec := trust.Record{SubjectID: "subject", TokenID: "DTS_abc", TrustScore: 100}
	committed, err := store.CommitTrustRecord(ctx, rec)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.TokenID != "DTS_abc" {
		t.Fatalf("unexpected token %q", committed.TokenID)
	}

	// Reservation after commit must also conflict.
	if err := store.ReserveTrustRecord(ctx, "subject"); !errors.Is(err, sentinel.ErrConflict) {
		t.Fatalf("expected conflict after commit, got %v", err)
	}
}

func TestTrustReleaseAllowsRetry(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := store.ReleaseTrustReservation(ctx, "subject"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve after release: %v", err)
	}
}

func TestCommitWithoutReservation(t *testing.T) {
	store := New()

	_, err := store.CommitTrustRecord(context.Background(), trust.Record{SubjectID: "subject"})
	if !errors.Is(err, sentinel.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestTrustRecordCloneIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	rec := trust.Record{
		SubjectID:  "subject",
		TokenID:    "DTS_abc",
		TrustScore: 100,
		Footprint:  []trust.VerificationEvent{{Kind: trust.KindAccountCreated}},
	}
	if _, err := store.CommitTrustRecord(ctx, rec); err != nil {
		t.Fatalf("commit: %v", err)
	}

	got, err := store.GetTrustRecord(ctx, "subject")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Footprint[0].Kind = "mutated"

	again, err := store.GetTrustRecord(ctx, "subject")
	if err != nil {
		t.Fatalf("get again: %v", err)
	}
	if again.Footprint[0].Kind != trust.KindAccountCreated {
		t.Fatalf("stored footprint mutated through returned copy")
	}
}

func TestAppendFootprintEvent(t *testing.T) {
	store := New()
	ctx := context.Background()

	if _, err := store.AppendFootprintEvent(ctx, "ghost", trust.VerificationEvent{Kind: "community_help"}); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.CommitTrustRecord(ctx, trust.Record{SubjectID: "subject", TokenID: "DTS_abc", TrustScore: 100}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	updated, err := store.AppendFootprintEvent(ctx, "subject", trust.VerificationEvent{
		Kind:       "community_help",
		Verified:   true,
		ScoreDelta: 5,
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if updated.TrustScore != 105 {
		t.Fatalf("expected score 105, got %d", updated.TrustScore)
	}
	if len(updated.Footprint) != 1 {
		t.Fatalf("expected 1 footprint event, got %d", len(updated.Footprint))
	}
	if updated.UpdatedAt.IsZero() {
		t.Fatalf("expected UpdatedAt to be stamped")
	}
}

func TestAppendFootprintEventConcurrent(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := store.CommitTrustRecord(ctx, trust.Record{SubjectID: "subject", TrustScore: 100}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	const workers = 32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_, err := store.AppendFootprintEvent(ctx, "subject", trust.VerificationEvent{
				Kind:       "community_help",
				Verified:   true,
				ScoreDelta: 5,
			})
			if err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := store.GetTrustRecord(ctx, "subject")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(rec.Footprint) != workers {
		t.Fatalf("expected %d footprint events, got %d", workers, len(rec.Footprint))
	}
	if rec.TrustScore != 100+workers*5 {
		t.Fatalf("expected score %d, got %d", 100+workers*5, rec.TrustScore)
	}
}

func TestAccountReserveCommit(t *testing.T) {
	store := New()
	ctx := context.Background()

	if err := store.ReserveAccount(ctx, "subject"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	acct := account.Account{SubjectID: "subject", AccountID: "acct-1", Username: "degen"}
	committed, err := store.CommitAccount(ctx, acct)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if committed.CreatedAt.IsZero() || committed.LastUpdated.IsZero() {
		t.Fatalf("timestamps not stamped")
	}

	if err := store.ReserveAccount(ctx, "subject"); !errors.Is(err, sentinel.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	updated := committed
	updated.Username = "renamed"
	if _, err := store.UpdateAccount(ctx, updated); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err := store.GetAccount(ctx, "subject")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Username != "renamed" {
		t.Fatalf("update not applied")
	}
	if !got.CreatedAt.Equal(committed.CreatedAt) {
		t.Fatalf("update must preserve creation time")
	}
}

func TestLegalRecordRoundTrip(t *testing.T) {
	store := New()
	ctx := context.Background()

	rec := account.LegalRecord{
		SubjectID:        "subject",
		Agreements:       account.Agreements{Ecosystem: true, NFT: true, Privacy: true, Analytics: true, Liability: true},
		DigitalSignature: "sig",
		AcceptedAt:       time.Now().UTC(),
		Version:          account.LegalVersion,
	}
	if err := store.PutLegalRecord(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := store.GetLegalRecord(ctx, "subject")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Agreements.Complete() {
		t.Fatalf("agreements lost in round trip")
	}
}

func TestEventWindow(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.AppendEvent(ctx, analytics.Event{ID: string(rune('a' + i)), Type: "page_view"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.ListEvents(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].ID != "e" {
		t.Fatalf("expected newest event last, got %q", events[1].ID)
	}
}
