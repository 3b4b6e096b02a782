package sessions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage/memory"
)

// fakeMirror records saves and serves a canned session for read-through.
type fakeMirror struct {
	mu       sync.Mutex
	sessions map[string]session.Session
	saves    int
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{sessions: make(map[string]session.Session)}
}

func (f *fakeMirror) Name() string { return "fake" }

func (f *fakeMirror) SaveSession(_ context.Context, s session.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.Token] = s
	f.saves++
	return nil
}

func (f *fakeMirror) LoadSession(_ context.Context, token string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[token]; ok {
		return s, nil
	}
	return session.Session{}, fmt.Errorf("session: %w", sentinel.ErrNotFound)
}

func (f *fakeMirror) SaveTrustRecord(context.Context, trust.Record) error        { return nil }
func (f *fakeMirror) SaveAccount(context.Context, account.Account) error         { return nil }
func (f *fakeMirror) SaveLegalRecord(context.Context, account.LegalRecord) error { return nil }
func (f *fakeMirror) SaveEvent(context.Context, analytics.Event) error           { return nil }

func TestCreateAndGet(t *testing.T) {
	store := memory.New()
	svc := New(store, newFakeMirror(), nil)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "subject", "device-1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(sess.Token) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(sess.Token))
	}
	if got := sess.ExpiresAt.Sub(sess.CreatedAt); got != session.DefaultTTL {
		t.Fatalf("expected 24h lifetime, got %v", got)
	}

	resolved, err := svc.Get(ctx, sess.Token)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if resolved.SubjectID != "subject" || resolved.DeviceFingerprint != "device-1" {
		t.Fatalf("unexpected session %+v", resolved)
	}
}

func TestCreateRequiresSubject(t *testing.T) {
	svc := New(memory.New(), newFakeMirror(), nil)

	if _, err := svc.Create(context.Background(), "  ", ""); !errors.Is(err, sentinel.ErrInvalid) {
		t.Fatalf("expected invalid, got %v", err)
	}
}

func TestExpiredSessionRemovedLazily(t *testing.T) {
	store := memory.New()
	svc := New(store, newFakeMirror(), nil).WithTTL(time.Nanosecond)
	ctx := context.Background()

	sess, err := svc.Create(ctx, "subject", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := svc.Get(ctx, sess.Token); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found for expired session, got %v", err)
	}
	// The expired record is gone from the store, not just filtered.
	if _, err := store.GetSession(ctx, sess.Token); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expired session still stored: %v", err)
	}
}

func TestNilMirrorLocalMiss(t *testing.T) {
	svc := New(memory.New(), nil, nil)
	ctx := context.Background()

	// Without a mirror a local miss is final; no read-through is attempted.
	if _, err := svc.Get(ctx, "unknown-token"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	sess, err := svc.Create(ctx, "subject", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Get(ctx, sess.Token); err != nil {
		t.Fatalf("get: %v", err)
	}
}

func TestMirrorReadThrough(t *testing.T) {
	store := memory.New()
	mir := newFakeMirror()
	svc := New(store, mir, nil)
	ctx := context.Background()

	live := session.Session{
		Token:     "abcd1234",
		SubjectID: "subject",
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().Add(time.Hour).UTC(),
	}
	mir.sessions[live.Token] = live

	resolved, err := svc.Get(ctx, live.Token)
	if err != nil {
		t.Fatalf("get via mirror: %v", err)
	}
	if resolved.SubjectID != "subject" {
		t.Fatalf("unexpected session %+v", resolved)
	}
	// The hit is cached locally.
	if _, err := store.GetSession(ctx, live.Token); err != nil {
		t.Fatalf("mirror hit not cached: %v", err)
	}
}

func TestMirrorExpiredHitStaysAbsent(t *testing.T) {
	store := memory.New()
	mir := newFakeMirror()
	svc := New(store, mir, nil)
	ctx := context.Background()

	mir.sessions["stale"] = session.Session{
		Token:     "stale",
		SubjectID: "subject",
		ExpiresAt: time.Now().Add(-time.Hour),
	}

	if _, err := svc.Get(ctx, "stale"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expected not found for expired mirrored session, got %v", err)
	}
	if _, err := store.GetSession(ctx, "stale"); !errors.Is(err, sentinel.ErrNotFound) {
		t.Fatalf("expired mirrored session must not be cached")
	}
}

func TestDeleteUnknownTokenIsNoError(t *testing.T) {
	svc := New(memory.New(), newFakeMirror(), nil)
	if err := svc.Delete(context.Background(), "missing"); err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
}
