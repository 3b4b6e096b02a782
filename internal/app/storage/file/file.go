// Package file implements durable write-through persistence on top of the
// in-memory store. Each record is one JSON document under the data directory,
// loaded back on startup. Analytics events are deliberately not persisted;
// they are a bounded in-memory window.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/internal/app/storage/memory"
)

const (
	dirSessions = "sessions"
	dirTrust    = "trust"
	dirAccounts = "accounts"
	dirLegal    = "legal"
)

// Store persists records as JSON files while serving reads from memory.
type Store struct {
	root  string
	inner *memory.Store
}

var _ storage.SessionStore = (*Store)(nil)
var _ storage.TrustStore = (*Store)(nil)
var _ storage.AccountStore = (*Store)(nil)
var _ storage.LegalStore = (*Store)(nil)

// New opens (or creates) the data directory and loads existing records.
func New(root string) (*Store, error) {
	s := &Store{root: root, inner: memory.New()}
	for _, dir := range []string{dirSessions, dirTrust, dirAccounts, dirLegal} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o700); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	ctx := context.Background()

	if err := eachFile(filepath.Join(s.root, dirSessions), func(data []byte) error {
		var sess session.Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return err
		}
		return s.inner.PutSession(ctx, sess)
	}); err != nil {
		return err
	}

	if err := eachFile(filepath.Join(s.root, dirTrust), func(data []byte) error {
		var rec trust.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		if err := s.inner.ReserveTrustRecord(ctx, rec.SubjectID); err != nil {
			return err
		}
		_, err := s.inner.CommitTrustRecord(ctx, rec)
		return err
	}); err != nil {
		return err
	}

	if err := eachFile(filepath.Join(s.root, dirAccounts), func(data []byte) error {
		var acct account.Account
		if err := json.Unmarshal(data, &acct); err != nil {
			return err
		}
		if err := s.inner.ReserveAccount(ctx, acct.SubjectID); err != nil {
			return err
		}
		_, err := s.inner.CommitAccount(ctx, acct)
		return err
	}); err != nil {
		return err
	}

	return eachFile(filepath.Join(s.root, dirLegal), func(data []byte) error {
		var rec account.LegalRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		return s.inner.PutLegalRecord(ctx, rec)
	})
}

func eachFile(dir string, fn func(data []byte) error) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read data dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read %s: %w", entry.Name(), err)
		}
		if err := fn(data); err != nil {
			return fmt.Errorf("load %s: %w", entry.Name(), err)
		}
	}
	return nil
}

func (s *Store) write(dir, key string, v interface{}) error {
	if key == "" || key != filepath.Base(key) {
		return fmt.Errorf("unsafe record key %q: %w", key, sentinel.ErrInvalid)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	path := filepath.Join(s.root, dir, key+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return os.Rename(tmp, path)
}

func (s *Store) remove(dir, key string) error {
	if key == "" || key != filepath.Base(key) {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, dir, key+".json"))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// SessionStore implementation -------------------------------------------------

func (s *Store) PutSession(ctx context.Context, sess session.Session) error {
	if err := s.inner.PutSession(ctx, sess); err != nil {
		return err
	}
	return s.write(dirSessions, sess.Token, sess)
}

func (s *Store) GetSession(ctx context.Context, token string) (session.Session, error) {
	return s.inner.GetSession(ctx, token)
}

func (s *Store) DeleteSession(ctx context.Context, token string) error {
	if err := s.inner.DeleteSession(ctx, token); err != nil {
		return err
	}
	return s.remove(dirSessions, token)
}

// TrustStore implementation ---------------------------------------------------

func (s *Store) ReserveTrustRecord(ctx context.Context, subjectID string) error {
	return s.inner.ReserveTrustRecord(ctx, subjectID)
}

func (s *Store) CommitTrustRecord(ctx context.Context, rec trust.Record) (trust.Record, error) {
	committed, err := s.inner.CommitTrustRecord(ctx, rec)
	if err != nil {
		return trust.Record{}, err
	}
	if err := s.write(dirTrust, committed.SubjectID, committed); err != nil {
		return trust.Record{}, err
	}
	return committed, nil
}

func (s *Store) ReleaseTrustReservation(ctx context.Context, subjectID string) error {
	return s.inner.ReleaseTrustReservation(ctx, subjectID)
}

func (s *Store) GetTrustRecord(ctx context.Context, subjectID string) (trust.Record, error) {
	return s.inner.GetTrustRecord(ctx, subjectID)
}

func (s *Store) UpdateTrustRecord(ctx context.Context, rec trust.Record) (trust.Record, error) {
	updated, err := s.inner.UpdateTrustRecord(ctx, rec)
	if err != nil {
		return trust.Record{}, err
	}
	if err := s.write(dirTrust, updated.SubjectID, updated); err != nil {
		return trust.Record{}, err
	}
	return updated, nil
}

func (s *Store) AppendFootprintEvent(ctx context.Context, subjectID string, ev trust.VerificationEvent) (trust.Record, error) {
	updated, err := s.inner.AppendFootprintEvent(ctx, subjectID, ev)
	if err != nil {
		return trust.Record{}, err
	}
	if err := s.write(dirTrust, updated.SubjectID, updated); err != nil {
		return trust.Record{}, err
	}
	return updated, nil
}

func (s *Store) ListTrustRecords(ctx context.Context) ([]trust.Record, error) {
	return s.inner.ListTrustRecords(ctx)
}

// AccountStore implementation -------------------------------------------------

func (s *Store) ReserveAccount(ctx context.Context, subjectID string) error {
	return s.inner.ReserveAccount(ctx, subjectID)
}

func (s *Store) CommitAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	committed, err := s.inner.CommitAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	if err := s.write(dirAccounts, committed.SubjectID, committed); err != nil {
		return account.Account{}, err
	}
	return committed, nil
}

func (s *Store) ReleaseAccountReservation(ctx context.Context, subjectID string) error {
	return s.inner.ReleaseAccountReservation(ctx, subjectID)
}

func (s *Store) GetAccount(ctx context.Context, subjectID string) (account.Account, error) {
	return s.inner.GetAccount(ctx, subjectID)
}

func (s *Store) UpdateAccount(ctx context.Context, acct account.Account) (account.Account, error) {
	updated, err := s.inner.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	if err := s.write(dirAccounts, updated.SubjectID, updated); err != nil {
		return account.Account{}, err
	}
	return updated, nil
}

func (s *Store) ListAccounts(ctx context.Context) ([]account.Account, error) {
	return s.inner.ListAccounts(ctx)
}

// LegalStore implementation ---------------------------------------------------

func (s *Store) PutLegalRecord(ctx context.Context, rec account.LegalRecord) error {
	if err := s.inner.PutLegalRecord(ctx, rec); err != nil {
		return err
	}
	return s.write(dirLegal, rec.SubjectID, rec)
}

func (s *Store) GetLegalRecord(ctx context.Context, subjectID string) (account.LegalRecord, error) {
	return s.inner.GetLegalRecord(ctx, subjectID)
}
