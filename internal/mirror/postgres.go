package mirror

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
)

// Postgres mirrors records into PostgreSQL via upserts. Every table is keyed
// by the natural record key so replays are idempotent.
type Postgres struct {
	db *sql.DB
}

var _ storage.Mirror = (*Postgres)(nil)

// NewPostgres opens the DSN and ensures the mirror schema exists.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres mirror: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres mirror: %w", err)
	}
	p := &Postgres{db: db}
	if err := p.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return p, nil
}

// NewPostgresFromDB wraps an existing handle; used by tests.
func NewPostgresFromDB(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS mirror_sessions (
			token TEXT PRIMARY KEY,
			subject_id TEXT NOT NULL,
			device_fingerprint TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mirror_trust_records (
			subject_id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			trust_score INTEGER NOT NULL,
			owner_rights BOOLEAN NOT NULL,
			footprint JSONB,
			minted_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mirror_accounts (
			subject_id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL,
			username TEXT,
			wallet_id TEXT,
			legal_status TEXT NOT NULL,
			payload JSONB,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mirror_legal_records (
			subject_id TEXT PRIMARY KEY,
			payload JSONB NOT NULL,
			accepted_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mirror_events (
			id TEXT PRIMARY KEY,
			event_type TEXT,
			user_id TEXT,
			payload JSONB,
			received_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure mirror schema: %w", err)
		}
	}
	return nil
}

// Name identifies the backend in logs.
func (p *Postgres) Name() string { return "postgres" }

// Close releases the database handle.
func (p *Postgres) Close() error { return p.db.Close() }

func (p *Postgres) SaveSession(ctx context.Context, s session.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mirror_sessions (token, subject_id, device_fingerprint, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE
		SET subject_id = $2, device_fingerprint = $3, created_at = $4, expires_at = $5
	`, s.Token, s.SubjectID, s.DeviceFingerprint, s.CreatedAt, s.ExpiresAt)
	return err
}

func (p *Postgres) LoadSession(ctx context.Context, token string) (session.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT token, subject_id, device_fingerprint, created_at, expires_at
		FROM mirror_sessions
		WHERE token = $1
	`, token)

	var s session.Session
	if err := row.Scan(&s.Token, &s.SubjectID, &s.DeviceFingerprint, &s.CreatedAt, &s.ExpiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return session.Session{}, fmt.Errorf("mirror session: %w", sentinel.ErrNotFound)
		}
		return session.Session{}, err
	}
	return s, nil
}

func (p *Postgres) SaveTrustRecord(ctx context.Context, rec trust.Record) error {
	footprintJSON, err := json.Marshal(rec.Footprint)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO mirror_trust_records (subject_id, token_id, trust_score, owner_rights, footprint, minted_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subject_id) DO UPDATE
		SET token_id = $2, trust_score = $3, owner_rights = $4, footprint = $5, updated_at = $7
	`, rec.SubjectID, rec.TokenID, rec.TrustScore, rec.OwnerRights, footprintJSON, rec.MintedAt, rec.UpdatedAt)
	return err
}

func (p *Postgres) SaveAccount(ctx context.Context, acct account.Account) error {
	payload, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO mirror_accounts (subject_id, account_id, username, wallet_id, legal_status, payload, created_at, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subject_id) DO UPDATE
		SET account_id = $2, username = $3, wallet_id = $4, legal_status = $5, payload = $6, last_updated = $8
	`, acct.SubjectID, acct.AccountID, acct.Username, acct.WalletID, acct.LegalStatus, payload, acct.CreatedAt, acct.LastUpdated)
	return err
}

func (p *Postgres) SaveLegalRecord(ctx context.Context, rec account.LegalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO mirror_legal_records (subject_id, payload, accepted_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject_id) DO UPDATE
		SET payload = $2, accepted_at = $3
	`, rec.SubjectID, payload, rec.AcceptedAt)
	return err
}

func (p *Postgres) SaveEvent(ctx context.Context, ev analytics.Event) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO mirror_events (id, event_type, user_id, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, ev.ID, ev.Type, ev.UserID, []byte(ev.Payload), ev.ReceivedAt)
	return err
}
