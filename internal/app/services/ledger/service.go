// Package ledger implements the trust-score verification ledger: minting,
// interaction recording, and score reads.
package ledger

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/metrics"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

const mirrorTimeout = 5 * time.Second

// tokenSalt is part of the published token derivation recipe; changing it
// invalidates every previously issued token id.
const tokenSalt = "degens-trust"

// Notifier receives ledger activity for fan-out. Implementations must not
// block.
type Notifier interface {
	Publish(kind string, data interface{})
}

// Service validates mint preconditions and maintains trust records.
type Service struct {
	accounts storage.AccountStore
	trust    storage.TrustStore
	legal    storage.LegalStore
	mirror   storage.Mirror
	notify   Notifier
	scores   map[string]int
	log      *logger.Logger
}

// New constructs a ledger service with the default interaction score table.
func New(accounts storage.AccountStore, trustStore storage.TrustStore, legal storage.LegalStore, mirror storage.Mirror, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ledger")
	}
	return &Service{
		accounts: accounts,
		trust:    trustStore,
		legal:    legal,
		mirror:   mirror,
		scores:   trust.DefaultScoreTable(),
		log:      log,
	}
}

// WithScoreTable replaces the interaction score table. Call before serving
// traffic.
func (s *Service) WithScoreTable(table map[string]int) *Service {
	if len(table) > 0 {
		s.scores = table
	}
	return s
}

// AttachNotifier wires the broadcast channel. Call before serving traffic.
func (s *Service) AttachNotifier(n Notifier) { s.notify = n }

// Requirements reports each mint precondition for a subject.
type Requirements struct {
	SubjectID       string `json:"subjectId"`
	AccountExists   bool   `json:"accountExists"`
	LegalCompleted  bool   `json:"legalCompleted"`
	DiscordVerified bool   `json:"discordVerified"`
	WalletLinked    bool   `json:"walletLinked"`
	AlreadyMinted   bool   `json:"alreadyMinted"`
	ReadyToMint     bool   `json:"readyToMint"`
}

// CheckRequirements evaluates the mint preconditions without minting.
func (s *Service) CheckRequirements(ctx context.Context, subjectID string) (Requirements, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return Requirements{}, fmt.Errorf("subject id is required: %w", sentinel.ErrInvalid)
	}

	req := Requirements{SubjectID: subjectID}
	if acct, err := s.accounts.GetAccount(ctx, subjectID); err == nil {
		req.AccountExists = true
		req.LegalCompleted = acct.LegalStatus == account.StatusCompleted
		req.DiscordVerified = acct.DiscordVerified
		req.WalletLinked = strings.TrimSpace(acct.WalletID) != ""
	}
	if _, err := s.trust.GetTrustRecord(ctx, subjectID); err == nil {
		req.AlreadyMinted = true
	}
	req.ReadyToMint = req.AccountExists && req.LegalCompleted && req.DiscordVerified && req.WalletLinked && !req.AlreadyMinted
	return req, nil
}

// Mint creates the trust record for a subject once every precondition holds.
// A reservation is taken before validation so two concurrent mints for the
// same subject cannot both commit.
func (s *Service) Mint(ctx context.Context, subjectID string, contractAccepted bool, signature string) (trust.Record, error) {
	subjectID = strings.TrimSpace(subjectID)
	signature = strings.TrimSpace(signature)
	if subjectID == "" {
		return trust.Record{}, fmt.Errorf("subject id is required: %w", sentinel.ErrInvalid)
	}

	if err := s.trust.ReserveTrustRecord(ctx, subjectID); err != nil {
		return trust.Record{}, fmt.Errorf("trust token already minted: %w", sentinel.ErrConflict)
	}

	rec, err := s.mintReserved(ctx, subjectID, contractAccepted, signature)
	if err != nil {
		if rerr := s.trust.ReleaseTrustReservation(ctx, subjectID); rerr != nil {
			s.log.WithError(rerr).WithField("subject_id", subjectID).Warn("release mint reservation")
		}
		return trust.Record{}, err
	}
	return rec, nil
}

func (s *Service) mintReserved(ctx context.Context, subjectID string, contractAccepted bool, signature string) (trust.Record, error) {
	acct, err := s.accounts.GetAccount(ctx, subjectID)
	if err != nil {
		return trust.Record{}, fmt.Errorf("ecosystem account required before minting: %w", sentinel.ErrInvalid)
	}
	if acct.LegalStatus != account.StatusCompleted {
		return trust.Record{}, fmt.Errorf("legal agreements must be completed before minting: %w", sentinel.ErrInvalid)
	}
	if !acct.DiscordVerified {
		return trust.Record{}, fmt.Errorf("discord verification required before minting: %w", sentinel.ErrInvalid)
	}
	if strings.TrimSpace(acct.WalletID) == "" {
		return trust.Record{}, fmt.Errorf("linked wallet required before minting: %w", sentinel.ErrInvalid)
	}
	if !contractAccepted || signature == "" {
		return trust.Record{}, fmt.Errorf("contract acceptance and signature are required: %w", sentinel.ErrInvalid)
	}

	legalRec, err := s.legal.GetLegalRecord(ctx, subjectID)
	if err != nil {
		return trust.Record{}, fmt.Errorf("legal record missing: %w", sentinel.ErrInvalid)
	}

	now := time.Now().UTC()
	rec := trust.Record{
		SubjectID:  subjectID,
		TokenID:    mintTokenID(subjectID, now),
		TrustScore: trust.BaselineScore,
		Footprint: []trust.VerificationEvent{
			{Kind: trust.KindLegalAgreement, Timestamp: legalRec.AcceptedAt, Verified: true},
			{Kind: trust.KindDiscordVerification, Timestamp: acct.DiscordVerifiedAt, Verified: true},
			{Kind: trust.KindAccountCreated, Timestamp: acct.CreatedAt, Verified: true},
			{Kind: trust.KindSignatureContract, Timestamp: now, Verified: true},
		},
		MintedAt:  now,
		UpdatedAt: now,
	}

	committed, err := s.trust.CommitTrustRecord(ctx, rec)
	if err != nil {
		return trust.Record{}, err
	}

	acct.TrustScore = committed.TrustScore
	if updated, uerr := s.accounts.UpdateAccount(ctx, acct); uerr != nil {
		s.log.WithError(uerr).WithField("subject_id", subjectID).Warn("sync account trust score")
	} else {
		s.mirrorAsync("account", func(mctx context.Context) error {
			return s.mirror.SaveAccount(mctx, updated)
		})
	}

	s.mirrorAsync("trust_record", func(mctx context.Context) error {
		return s.mirror.SaveTrustRecord(mctx, committed)
	})
	s.publish("nft_minted", map[string]interface{}{
		"subjectId":  committed.SubjectID,
		"tokenId":    committed.TokenID,
		"trustScore": committed.TrustScore,
	})

	s.log.WithField("subject_id", subjectID).
		WithField("token_id", committed.TokenID).
		Info("trust token minted")
	return committed, nil
}

// MintOwner creates (or returns) the unconditional owner record.
func (s *Service) MintOwner(ctx context.Context, subjectID string) (trust.Record, error) {
	if existing, err := s.trust.GetTrustRecord(ctx, subjectID); err == nil {
		return existing, nil
	}

	if err := s.trust.ReserveTrustRecord(ctx, subjectID); err != nil {
		// Lost the race to another owner verify; the record exists now.
		return s.trust.GetTrustRecord(ctx, subjectID)
	}

	token, err := ownerTokenID()
	if err != nil {
		if rerr := s.trust.ReleaseTrustReservation(ctx, subjectID); rerr != nil {
			s.log.WithError(rerr).Warn("release owner mint reservation")
		}
		return trust.Record{}, err
	}

	now := time.Now().UTC()
	rec := trust.Record{
		SubjectID:   subjectID,
		TokenID:     token,
		TrustScore:  trust.OwnerScore,
		OwnerRights: true,
		Footprint: []trust.VerificationEvent{
			{Kind: trust.KindOwnerVerification, Timestamp: now, Verified: true},
		},
		MintedAt:  now,
		UpdatedAt: now,
	}
	committed, err := s.trust.CommitTrustRecord(ctx, rec)
	if err != nil {
		return trust.Record{}, err
	}

	s.mirrorAsync("trust_record", func(mctx context.Context) error {
		return s.mirror.SaveTrustRecord(mctx, committed)
	})
	s.log.WithField("subject_id", subjectID).WithField("token_id", committed.TokenID).Info("owner token minted")
	return committed, nil
}

// Interaction is the outcome of one recorded trust interaction.
type Interaction struct {
	Kind          string    `json:"type"`
	Timestamp     time.Time `json:"timestamp"`
	Verified      bool      `json:"verified"`
	Value         float64   `json:"value"`
	ScoreIncrease int       `json:"trustScoreIncrease"`
	NewTrustScore int       `json:"newTrustScore"`
}

// RecordInteraction appends an interaction to the footprint. Unverified
// interactions are recorded with a zero score contribution.
func (s *Service) RecordInteraction(ctx context.Context, subjectID, kind string, verified bool, value float64) (Interaction, error) {
	subjectID = strings.TrimSpace(subjectID)
	kind = strings.TrimSpace(kind)
	if subjectID == "" || kind == "" {
		return Interaction{}, fmt.Errorf("subject id and interaction type are required: %w", sentinel.ErrInvalid)
	}

	delta := 0
	if verified {
		delta = s.scoreFor(kind)
	}

	now := time.Now().UTC()
	updated, err := s.trust.AppendFootprintEvent(ctx, subjectID, trust.VerificationEvent{
		Kind:       kind,
		Timestamp:  now,
		Verified:   verified,
		ScoreDelta: delta,
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Interaction{}, fmt.Errorf("trust token required to record interactions: %w", sentinel.ErrInvalid)
		}
		return Interaction{}, err
	}

	if delta != 0 {
		if acct, aerr := s.accounts.GetAccount(ctx, subjectID); aerr == nil {
			acct.TrustScore = updated.TrustScore
			if synced, uerr := s.accounts.UpdateAccount(ctx, acct); uerr == nil {
				s.mirrorAsync("account", func(mctx context.Context) error {
					return s.mirror.SaveAccount(mctx, synced)
				})
			}
		}
	}

	s.mirrorAsync("trust_record", func(mctx context.Context) error {
		return s.mirror.SaveTrustRecord(mctx, updated)
	})
	s.publish("trust_interaction", map[string]interface{}{
		"subjectId":     subjectID,
		"type":          kind,
		"verified":      verified,
		"newTrustScore": updated.TrustScore,
	})

	return Interaction{
		Kind:          kind,
		Timestamp:     now,
		Verified:      verified,
		Value:         value,
		ScoreIncrease: delta,
		NewTrustScore: updated.TrustScore,
	}, nil
}

// Score is the public trust-score view for a subject.
type Score struct {
	SubjectID         string                    `json:"subjectId"`
	TrustScore        int                       `json:"trustScore"`
	TokenID           string                    `json:"nftTokenId"`
	Footprint         []trust.VerificationEvent `json:"verificationFootprint"`
	TotalInteractions int                       `json:"totalInteractions"`
}

// TrustScore returns the current score view for a subject.
func (s *Service) TrustScore(ctx context.Context, subjectID string) (Score, error) {
	rec, err := s.trust.GetTrustRecord(ctx, strings.TrimSpace(subjectID))
	if err != nil {
		return Score{}, fmt.Errorf("no trust token found: %w", sentinel.ErrNotFound)
	}

	interactions := 0
	for _, ev := range rec.Footprint {
		switch ev.Kind {
		case trust.KindLegalAgreement, trust.KindDiscordVerification,
			trust.KindAccountCreated, trust.KindSignatureContract,
			trust.KindOwnerVerification:
		default:
			interactions++
		}
	}

	return Score{
		SubjectID:         rec.SubjectID,
		TrustScore:        rec.TrustScore,
		TokenID:           rec.TokenID,
		Footprint:         rec.Footprint,
		TotalInteractions: interactions,
	}, nil
}

// Get returns the raw trust record for a subject.
func (s *Service) Get(ctx context.Context, subjectID string) (trust.Record, error) {
	return s.trust.GetTrustRecord(ctx, strings.TrimSpace(subjectID))
}

// List returns every trust record; used by the admin dashboard.
func (s *Service) List(ctx context.Context) ([]trust.Record, error) {
	return s.trust.ListTrustRecords(ctx)
}

func (s *Service) scoreFor(kind string) int {
	if v, ok := s.scores[kind]; ok {
		return v
	}
	return trust.DefaultInteractionScore
}

func (s *Service) publish(kind string, data interface{}) {
	if s.notify != nil {
		s.notify.Publish(kind, data)
	}
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

func mintTokenID(subjectID string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s-%d-%s", subjectID, now.UnixMilli(), tokenSalt)))
	return "DTS_" + hex.EncodeToString(sum[:])[:16]
}

func ownerTokenID() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate owner token: %w", err)
	}
	return "OWNER_" + hex.EncodeToString(buf), nil
}
