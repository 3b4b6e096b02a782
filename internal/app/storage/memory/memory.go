package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
)

// maxEvents bounds the analytics window held in memory.
const maxEvents = 10000

// Store is the authoritative in-memory implementation of the storage
// interfaces. It is safe for concurrent use.
type Store struct {
	mu               sync.RWMutex
	sessions         map[string]session.Session
	trustRecords     map[string]trust.Record
	trustReserved    map[string]struct{}
	accounts         map[string]account.Account
	accountsReserved map[string]struct{}
	legalRecords     map[string]account.LegalRecord
	events           []analytics.Event
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.TrustStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)
var _ storage.LegalStore = (*Store)(nil)
var _ storage.AnalyticsStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		sessions:         make(map[string]session.Session),
		trustRecords:     make(map[string]trust.Record),
		trustReserved:    make(map[string]struct{}),
		accounts:         make(map[string]account.Account),
		accountsReserved: make(map[string]struct{}),
		legalRecords:     make(map[string]account.LegalRecord),
	}
}

// SessionStore implementation -------------------------------------------------

func (s *Store) PutSession(_ context.Context, sess session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.Token] = sess
	return nil
}

func (s *Store) GetSession(_ context.Context, token string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[token]
	if !ok {
		return session.Session{}, fmt.Errorf("session: %w", sentinel.ErrNotFound)
	}
	return sess, nil
}

func (s *Store) DeleteSession(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

// TrustStore implementation ---------------------------------------------------

func (s *Store) ReserveTrustRecord(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.trustRecords[subjectID]; exists {
		return fmt.Errorf("trust record for %s already exists: %w", subjectID, sentinel.ErrConflict)
	}
	if _, reserved := s.trustReserved[subjectID]; reserved {
		return fmt.Errorf("mint for %s already in flight: %w", subjectID, sentinel.ErrConflict)
	}
	s.trustReserved[subjectID] = struct{}{}
	return nil
}

func (s *Store) CommitTrustRecord(_ context.Context, rec trust.Record) (trust.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, reserved := s.trustReserved[rec.SubjectID]; !reserved {
		return trust.Record{}, fmt.Errorf("no reservation for %s: %w", rec.SubjectID, sentinel.ErrConflict)
	}
	delete(s.trustReserved, rec.SubjectID)

	rec.Footprint = cloneFootprint(rec.Footprint)
	s.trustRecords[rec.SubjectID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) ReleaseTrustReservation(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.trustReserved, subjectID)
	return nil
}

func (s *Store) GetTrustRecord(_ context.Context, subjectID string) (trust.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.trustRecords[subjectID]
	if !ok {
		return trust.Record{}, fmt.Errorf("trust record for %s: %w", subjectID, sentinel.ErrNotFound)
	}
	return cloneRecord(rec), nil
}

func (s *Store) UpdateTrustRecord(_ context.Context, rec trust.Record) (trust.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.trustRecords[rec.SubjectID]
	if !ok {
		return trust.Record{}, fmt.Errorf("trust record for %s: %w", rec.SubjectID, sentinel.ErrNotFound)
	}

	rec.MintedAt = original.MintedAt
	rec.UpdatedAt = time.Now().UTC()
	rec.Footprint = cloneFootprint(rec.Footprint)

	s.trustRecords[rec.SubjectID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) AppendFootprintEvent(_ context.Context, subjectID string, ev trust.VerificationEvent) (trust.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.trustRecords[subjectID]
	if !ok {
		return trust.Record{}, fmt.Errorf("trust record for %s: %w", subjectID, sentinel.ErrNotFound)
	}

	rec.Footprint = append(cloneFootprint(rec.Footprint), ev)
	rec.TrustScore += ev.ScoreDelta
	rec.UpdatedAt = time.Now().UTC()

	s.trustRecords[subjectID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) ListTrustRecords(_ context.Context) ([]trust.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]trust.Record, 0, len(s.trustRecords))
	for _, rec := range s.trustRecords {
		result = append(result, cloneRecord(rec))
	}
	return result, nil
}

// AccountStore implementation -------------------------------------------------

func (s *Store) ReserveAccount(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[subjectID]; exists {
		return fmt.Errorf("account for %s already exists: %w", subjectID, sentinel.ErrConflict)
	}
	if _, reserved := s.accountsReserved[subjectID]; reserved {
		return fmt.Errorf("account create for %s already in flight: %w", subjectID, sentinel.ErrConflict)
	}
	s.accountsReserved[subjectID] = struct{}{}
	return nil
}

func (s *Store) CommitAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, reserved := s.accountsReserved[acct.SubjectID]; !reserved {
		return account.Account{}, fmt.Errorf("no reservation for %s: %w", acct.SubjectID, sentinel.ErrConflict)
	}
	delete(s.accountsReserved, acct.SubjectID)

	now := time.Now().UTC()
	if acct.CreatedAt.IsZero() {
		acct.CreatedAt = now
	}
	acct.LastUpdated = now
	acct.BranchAccess = cloneStrings(acct.BranchAccess)
	acct.Preferences = cloneMap(acct.Preferences)

	s.accounts[acct.SubjectID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) ReleaseAccountReservation(_ context.Context, subjectID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.accountsReserved, subjectID)
	return nil
}

func (s *Store) GetAccount(_ context.Context, subjectID string) (account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acct, ok := s.accounts[subjectID]
	if !ok {
		return account.Account{}, fmt.Errorf("account for %s: %w", subjectID, sentinel.ErrNotFound)
	}
	return cloneAccount(acct), nil
}

func (s *Store) UpdateAccount(_ context.Context, acct account.Account) (account.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.accounts[acct.SubjectID]
	if !ok {
		return account.Account{}, fmt.Errorf("account for %s: %w", acct.SubjectID, sentinel.ErrNotFound)
	}

	acct.CreatedAt = original.CreatedAt
	acct.LastUpdated = time.Now().UTC()
	acct.BranchAccess = cloneStrings(acct.BranchAccess)
	acct.Preferences = cloneMap(acct.Preferences)

	s.accounts[acct.SubjectID] = acct
	return cloneAccount(acct), nil
}

func (s *Store) ListAccounts(_ context.Context) ([]account.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]account.Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		result = append(result, cloneAccount(acct))
	}
	return result, nil
}

// LegalStore implementation ---------------------------------------------------

func (s *Store) PutLegalRecord(_ context.Context, rec account.LegalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.legalRecords[rec.SubjectID] = rec
	return nil
}

func (s *Store) GetLegalRecord(_ context.Context, subjectID string) (account.LegalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.legalRecords[subjectID]
	if !ok {
		return account.LegalRecord{}, fmt.Errorf("legal record for %s: %w", subjectID, sentinel.ErrNotFound)
	}
	return rec, nil
}

// AnalyticsStore implementation -----------------------------------------------

func (s *Store) AppendEvent(_ context.Context, ev analytics.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, ev)
	if len(s.events) > maxEvents {
		s.events = s.events[len(s.events)-maxEvents:]
	}
	return nil
}

func (s *Store) ListEvents(_ context.Context, limit int) ([]analytics.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.events) {
		limit = len(s.events)
	}
	start := len(s.events) - limit
	return append([]analytics.Event(nil), s.events[start:]...), nil
}

// Helpers --------------------------------------------------------------------

func cloneMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return append([]string(nil), src...)
}

func cloneFootprint(src []trust.VerificationEvent) []trust.VerificationEvent {
	if src == nil {
		return nil
	}
	return append([]trust.VerificationEvent(nil), src...)
}

func cloneRecord(rec trust.Record) trust.Record {
	rec.Footprint = cloneFootprint(rec.Footprint)
	return rec
}

func cloneAccount(acct account.Account) account.Account {
	acct.BranchAccess = cloneStrings(acct.BranchAccess)
	acct.Preferences = cloneMap(acct.Preferences)
	return acct
}
