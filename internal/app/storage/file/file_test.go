package file

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
)

func TestRoundTripAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	if err := store.PutSession(ctx, session.Session{Token: "tok", SubjectID: "subject", ExpiresAt: time.Now().Add(time.Hour).UTC()}); err != nil {
		t.Fatalf("put session: %v", err)
	}

	if err := store.ReserveTrustRecord(ctx, "subject"); err != nil {
		t.Fatalf("reserve trust: %v", err)
	}
	if _, err := store.CommitTrustRecord(ctx, trust.Record{SubjectID: "subject", TokenID: "DTS_abc", TrustScore: 100}); err != nil {
		t.Fatalf("commit trust: %v", err)
	}

	if err := store.ReserveAccount(ctx, "subject"); err != nil {
		t.Fatalf("reserve account: %v", err)
	}
	if _, err := store.CommitAccount(ctx, account.Account{SubjectID: "subject", AccountID: "acct-1", Username: "degen"}); err != nil {
		t.Fatalf("commit account: %v", err)
	}

	if err := store.PutLegalRecord(ctx, account.LegalRecord{SubjectID: "subject", DigitalSignature: "sig", AcceptedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("put legal: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}

	if _, err := reopened.GetSession(ctx, "tok"); err != nil {
		t.Fatalf("session lost across reopen: %v", err)
	}
	rec, err := reopened.GetTrustRecord(ctx, "subject")
	if err != nil {
		t.Fatalf("trust record lost across reopen: %v", err)
	}
	if rec.TokenID != "DTS_abc" || rec.TrustScore != 100 {
		t.Fatalf("trust record corrupted: %+v", rec)
	}
	acct, err := reopened.GetAccount(ctx, "subject")
	if err != nil {
		t.Fatalf("account lost across reopen: %v", err)
	}
	if acct.Username != "degen" {
		t.Fatalf("account corrupted: %+v", acct)
	}
	if _, err := reopened.GetLegalRecord(ctx, "subject"); err != nil {
		t.Fatalf("legal record lost across reopen: %v", err)
	}

	// Uniqueness survives the reload too.
	if err := reopened.ReserveTrustRecord(ctx, "subject"); !errors.Is(err, sentinel.ErrConflict) {
		t.Fatalf("expected conflict after reload, got %v", err)
	}
}

func TestDeleteSessionRemovesFile(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := New(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.PutSession(ctx, session.Session{Token: "tok", SubjectID: "subject", ExpiresAt: time.Now().Add(time.Hour)}); err != nil {
		t.Fatalf("put session: %v", err)
	}
	if err := store.DeleteSession(ctx, "tok"); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	if _, err := reopened.GetSession(ctx, "tok"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("deleted session resurrected: %v", err)
	}
}

func TestRejectsUnsafeKeys(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	err = store.PutSession(context.Background(), session.Session{Token: "../escape", SubjectID: "subject", ExpiresAt: time.Now().Add(time.Hour)})
	if !errors.Is(err, sentinel.ErrInvalid) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}
