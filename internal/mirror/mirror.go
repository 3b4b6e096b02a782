// Package mirror provides best-effort external replicas of the authoritative
// in-memory state. A mirror is an optional capability: when none is
// configured the no-op mirror is used and every save silently succeeds.
package mirror

import (
	"context"
	"fmt"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
)

// Noop is the mirror used when no external backend is configured.
type Noop struct{}

var _ storage.Mirror = Noop{}

// Name identifies the backend in logs.
func (Noop) Name() string { return "noop" }

// SaveSession discards the record.
func (Noop) SaveSession(context.Context, session.Session) error { return nil }

// LoadSession always misses.
func (Noop) LoadSession(context.Context, string) (session.Session, error) {
	return session.Session{}, fmt.Errorf("mirror disabled: %w", sentinel.ErrNotFound)
}

// SaveTrustRecord discards the record.
func (Noop) SaveTrustRecord(context.Context, trust.Record) error { return nil }

// SaveAccount discards the record.
func (Noop) SaveAccount(context.Context, account.Account) error { return nil }

// SaveLegalRecord discards the record.
func (Noop) SaveLegalRecord(context.Context, account.LegalRecord) error { return nil }

// SaveEvent discards the event.
func (Noop) SaveEvent(context.Context, analytics.Event) error { return nil }
