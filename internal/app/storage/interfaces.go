package storage

import (
	"context"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
)

// SessionStore persists session records keyed by token.
type SessionStore interface {
	PutSession(ctx context.Context, s session.Session) error
	GetSession(ctx context.Context, token string) (session.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// TrustStore persists trust records. Mints go through a reserve/commit pair
// so concurrent mints for one subject cannot both succeed: Reserve fails when
// a record or an in-flight reservation exists, Commit replaces the
// reservation with the final record, and Release aborts a failed mint.
type TrustStore interface {
	ReserveTrustRecord(ctx context.Context, subjectID string) error
	CommitTrustRecord(ctx context.Context, rec trust.Record) (trust.Record, error)
	ReleaseTrustReservation(ctx context.Context, subjectID string) error

	GetTrustRecord(ctx context.Context, subjectID string) (trust.Record, error)
	UpdateTrustRecord(ctx context.Context, rec trust.Record) (trust.Record, error)

	// AppendFootprintEvent atomically appends one event to the subject's
	// footprint and applies its score delta. Concurrent appends must all
	// land; none may overwrite another.
	AppendFootprintEvent(ctx context.Context, subjectID string, ev trust.VerificationEvent) (trust.Record, error)

	ListTrustRecords(ctx context.Context) ([]trust.Record, error)
}

// AccountStore persists account records with the same reserve/commit shape as
// TrustStore to close the duplicate-create race.
type AccountStore interface {
	ReserveAccount(ctx context.Context, subjectID string) error
	CommitAccount(ctx context.Context, acct account.Account) (account.Account, error)
	ReleaseAccountReservation(ctx context.Context, subjectID string) error

	GetAccount(ctx context.Context, subjectID string) (account.Account, error)
	UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error)
	ListAccounts(ctx context.Context) ([]account.Account, error)
}

// LegalStore persists legal acceptance records keyed by subject.
type LegalStore interface {
	PutLegalRecord(ctx context.Context, rec account.LegalRecord) error
	GetLegalRecord(ctx context.Context, subjectID string) (account.LegalRecord, error)
}

// AnalyticsStore keeps a bounded window of tracked events.
type AnalyticsStore interface {
	AppendEvent(ctx context.Context, ev analytics.Event) error
	ListEvents(ctx context.Context, limit int) ([]analytics.Event, error)
}

// Mirror receives best-effort copies of local writes. Implementations must
// tolerate being called from short-lived goroutines; errors are logged by the
// caller and never affect the authoritative path. LoadSession serves the one
// read-through case: a session miss in local memory.
type Mirror interface {
	Name() string
	SaveSession(ctx context.Context, s session.Session) error
	LoadSession(ctx context.Context, token string) (session.Session, error)
	SaveTrustRecord(ctx context.Context, rec trust.Record) error
	SaveAccount(ctx context.Context, acct account.Account) error
	SaveLegalRecord(ctx context.Context, rec account.LegalRecord) error
	SaveEvent(ctx context.Context, ev analytics.Event) error
}
