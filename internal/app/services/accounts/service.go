// Package accounts implements the registry: legal-agreement gating, account
// creation, profile reads and updates, and wallet-bound login.
package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/metrics"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/services/sessions"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

const mirrorTimeout = 5 * time.Second

// Notifier receives registry activity for fan-out.
type Notifier interface {
	Publish(kind string, data interface{})
}

// Service manages accounts and their legal acceptance state.
type Service struct {
	store    storage.AccountStore
	legal    storage.LegalStore
	sessions *sessions.Service
	mirror   storage.Mirror
	notify   Notifier
	branches []string
	log      *logger.Logger
}

// New constructs an account service with the default branch grants.
func New(store storage.AccountStore, legal storage.LegalStore, sessionSvc *sessions.Service, mirror storage.Mirror, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("accounts")
	}
	return &Service{
		store:    store,
		legal:    legal,
		sessions: sessionSvc,
		mirror:   mirror,
		branches: account.DefaultBranchAccess(),
		log:      log,
	}
}

// WithBranchAccess overrides the branch set granted to new accounts. Call
// before serving traffic.
func (s *Service) WithBranchAccess(branches []string) *Service {
	if len(branches) > 0 {
		s.branches = append([]string(nil), branches...)
	}
	return s
}

// AttachNotifier wires the broadcast channel. Call before serving traffic.
func (s *Service) AttachNotifier(n Notifier) { s.notify = n }

// AcceptLegalTerms records a complete acceptance of the required agreements.
func (s *Service) AcceptLegalTerms(ctx context.Context, subjectID string, agreements account.Agreements, signature string, timestamp time.Time) (account.LegalRecord, error) {
	subjectID = strings.TrimSpace(subjectID)
	signature = strings.TrimSpace(signature)
	if subjectID == "" {
		return account.LegalRecord{}, fmt.Errorf("subject id is required: %w", sentinel.ErrInvalid)
	}
	if !agreements.Complete() {
		return account.LegalRecord{}, fmt.Errorf("all legal agreements must be accepted (missing: %s): %w",
			strings.Join(agreements.Missing(), ", "), sentinel.ErrInvalid)
	}
	if signature == "" || timestamp.IsZero() {
		return account.LegalRecord{}, fmt.Errorf("digital signature and timestamp are required: %w", sentinel.ErrInvalid)
	}

	rec := account.LegalRecord{
		SubjectID:        subjectID,
		Agreements:       agreements,
		DigitalSignature: signature,
		AcceptedAt:       timestamp.UTC(),
		Version:          account.LegalVersion,
	}
	if err := s.legal.PutLegalRecord(ctx, rec); err != nil {
		return account.LegalRecord{}, err
	}

	// An already-completed account keeps its status; otherwise the pending
	// acceptance becomes visible through LegalStatus.
	if acct, err := s.store.GetAccount(ctx, subjectID); err == nil && acct.LegalStatus != account.StatusCompleted {
		acct.LegalStatus = account.StatusCompleted
		if updated, uerr := s.store.UpdateAccount(ctx, acct); uerr == nil {
			s.mirrorAsync("account", func(mctx context.Context) error {
				return s.mirror.SaveAccount(mctx, updated)
			})
		}
	}

	s.mirrorAsync("legal_record", func(mctx context.Context) error {
		return s.mirror.SaveLegalRecord(mctx, rec)
	})
	s.log.WithField("subject_id", subjectID).Info("legal terms accepted")
	return rec, nil
}

// LegalStatus reports the three-way acceptance state for a subject.
func (s *Service) LegalStatus(ctx context.Context, subjectID string) (string, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return "", fmt.Errorf("subject id is required: %w", sentinel.ErrInvalid)
	}

	if acct, err := s.store.GetAccount(ctx, subjectID); err == nil && acct.LegalStatus == account.StatusCompleted {
		return account.StatusCompleted, nil
	}
	if _, err := s.legal.GetLegalRecord(ctx, subjectID); err == nil {
		return account.StatusAcceptedPendingAccount, nil
	}
	return account.StatusNotAccepted, nil
}

// Create registers an account for a subject that has accepted the legal
// terms. The reservation closes the duplicate-create race.
func (s *Service) Create(ctx context.Context, subjectID, username, walletID, referralCode string) (account.Account, error) {
	subjectID = strings.TrimSpace(subjectID)
	username = strings.TrimSpace(username)
	walletID = strings.TrimSpace(walletID)
	if subjectID == "" || username == "" {
		return account.Account{}, fmt.Errorf("subject id and username are required: %w", sentinel.ErrInvalid)
	}

	if _, err := s.legal.GetLegalRecord(ctx, subjectID); err != nil {
		return account.Account{}, fmt.Errorf("legal agreements must be accepted before account creation: %w", sentinel.ErrInvalid)
	}

	if err := s.store.ReserveAccount(ctx, subjectID); err != nil {
		return account.Account{}, fmt.Errorf("account already exists: %w", sentinel.ErrConflict)
	}

	now := time.Now().UTC()
	acct := account.Account{
		SubjectID:    subjectID,
		AccountID:    uuid.NewString(),
		Username:     username,
		WalletID:     walletID,
		ReferralCode: strings.TrimSpace(referralCode),
		LegalStatus:  account.StatusCompleted,
		BranchAccess: append([]string(nil), s.branches...),
		CreatedAt:    now,
	}

	committed, err := s.store.CommitAccount(ctx, acct)
	if err != nil {
		if rerr := s.store.ReleaseAccountReservation(ctx, subjectID); rerr != nil {
			s.log.WithError(rerr).Warn("release account reservation")
		}
		return account.Account{}, err
	}

	s.mirrorAsync("account", func(mctx context.Context) error {
		return s.mirror.SaveAccount(mctx, committed)
	})
	if s.notify != nil {
		s.notify.Publish("account_created", map[string]interface{}{
			"subjectId": committed.SubjectID,
			"accountId": committed.AccountID,
			"username":  committed.Username,
		})
	}

	s.log.WithField("subject_id", subjectID).
		WithField("account_id", committed.AccountID).
		Info("account created")
	return committed, nil
}

// Get returns the account profile for a subject.
func (s *Service) Get(ctx context.Context, subjectID string) (account.Account, error) {
	return s.store.GetAccount(ctx, strings.TrimSpace(subjectID))
}

// List returns every account; used by the admin dashboard.
func (s *Service) List(ctx context.Context) ([]account.Account, error) {
	return s.store.ListAccounts(ctx)
}

// UpdatePatch carries the mutable profile fields.
type UpdatePatch struct {
	Username    string
	Preferences map[string]string
}

// Update merges the patch into an existing account.
func (s *Service) Update(ctx context.Context, subjectID string, patch UpdatePatch) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, strings.TrimSpace(subjectID))
	if err != nil {
		return account.Account{}, err
	}

	if username := strings.TrimSpace(patch.Username); username != "" {
		acct.Username = username
	}
	if patch.Preferences != nil {
		if acct.Preferences == nil {
			acct.Preferences = make(map[string]string, len(patch.Preferences))
		}
		for k, v := range patch.Preferences {
			acct.Preferences[k] = v
		}
	}

	updated, err := s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	s.mirrorAsync("account", func(mctx context.Context) error {
		return s.mirror.SaveAccount(mctx, updated)
	})
	return updated, nil
}

// VerifyDiscord marks the subject's Discord identity as verified.
func (s *Service) VerifyDiscord(ctx context.Context, subjectID string) (account.Account, error) {
	acct, err := s.store.GetAccount(ctx, strings.TrimSpace(subjectID))
	if err != nil {
		return account.Account{}, err
	}
	if acct.DiscordVerified {
		return acct, nil
	}

	acct.DiscordVerified = true
	acct.DiscordVerifiedAt = time.Now().UTC()
	updated, err := s.store.UpdateAccount(ctx, acct)
	if err != nil {
		return account.Account{}, err
	}
	s.mirrorAsync("account", func(mctx context.Context) error {
		return s.mirror.SaveAccount(mctx, updated)
	})
	s.log.WithField("subject_id", updated.SubjectID).Info("discord identity verified")
	return updated, nil
}

// Login authenticates a subject by wallet binding and issues a session.
func (s *Service) Login(ctx context.Context, subjectID, walletID, deviceFingerprint string) (account.Account, session.Session, error) {
	acct, err := s.store.GetAccount(ctx, strings.TrimSpace(subjectID))
	if err != nil {
		return account.Account{}, session.Session{}, err
	}
	if strings.TrimSpace(walletID) == "" || acct.WalletID != strings.TrimSpace(walletID) {
		return account.Account{}, session.Session{}, fmt.Errorf("wallet does not match account: %w", sentinel.ErrUnauthorized)
	}

	sess, err := s.sessions.Create(ctx, acct.SubjectID, deviceFingerprint)
	if err != nil {
		return account.Account{}, session.Session{}, err
	}

	acct.LastLogin = time.Now().UTC()
	acct.TotalSessions++
	updated, err := s.store.UpdateAccount(ctx, acct)
	if err != nil {
		s.log.WithError(err).Warn("record login stats")
		updated = acct
	}
	s.mirrorAsync("account", func(mctx context.Context) error {
		return s.mirror.SaveAccount(mctx, updated)
	})

	return updated, sess, nil
}

func (s *Service) mirrorAsync(what string, fn func(ctx context.Context) error) {
	if s.mirror == nil {
		return
	}
	go func() {
		mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
		defer cancel()
		err := fn(mctx)
		metrics.RecordMirrorWrite(s.mirror.Name(), err == nil)
		if err != nil {
			s.log.WithError(err).WithField("record", what).Warn("mirror write failed")
		}
	}()
}
