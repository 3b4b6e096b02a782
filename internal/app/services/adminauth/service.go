// Package adminauth implements the admin authorization gate. Admin access is
// earned through the trust ledger: the configured owner is always admitted
// (minting the owner token on first contact), anyone else must present their
// own token id with a qualifying trust score.
package adminauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/services/ledger"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

// Session lifetimes per admin variant.
const (
	OwnerSessionTTL        = 24 * time.Hour
	TrustedAdminSessionTTL = 12 * time.Hour
)

// Admin variants.
const (
	RoleOwner        = "owner"
	RoleTrustedAdmin = "trusted_admin"
)

// Identity is the resolved admin identity attached to gated requests. The
// two concrete variants are Owner and TrustedAdmin.
type Identity interface {
	SubjectID() string
	Role() string
}

// Owner is the fixed ecosystem owner.
type Owner struct {
	Subject string
	TokenID string
}

// SubjectID returns the owner's subject id.
func (o Owner) SubjectID() string { return o.Subject }

// Role returns RoleOwner.
func (o Owner) Role() string { return RoleOwner }

// TrustedAdmin is a subject admitted on trust score.
type TrustedAdmin struct {
	Subject    string
	TokenID    string
	TrustScore int
}

// SubjectID returns the admin's subject id.
func (t TrustedAdmin) SubjectID() string { return t.Subject }

// Role returns RoleTrustedAdmin.
func (t TrustedAdmin) Role() string { return RoleTrustedAdmin }

// Grant is the outcome of a successful verification.
type Grant struct {
	Token      string    `json:"sessionToken"`
	AdminType  string    `json:"adminType"`
	TrustScore int       `json:"trustScore"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

type claims struct {
	Role    string `json:"role"`
	TokenID string `json:"tokenId"`
	jwt.RegisteredClaims
}

// Service verifies admin credentials and manages admin sessions. Issued
// tokens are signed JWTs; the store keeps a hash of each token so sessions
// can expire and be revoked server-side.
type Service struct {
	ledger  *ledger.Service
	store   storage.SessionStore
	ownerID string
	secret  []byte
	log     *logger.Logger
}

// New constructs the gate.
func New(ledgerSvc *ledger.Service, store storage.SessionStore, ownerID string, secret []byte, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("adminauth")
	}
	return &Service{
		ledger:  ledgerSvc,
		store:   store,
		ownerID: strings.TrimSpace(ownerID),
		secret:  secret,
		log:     log,
	}
}

// VerifyOwner is the owner precondition: the subject must equal the
// configured owner id.
func (s *Service) VerifyOwner(subjectID string) bool {
	return s.ownerID != "" && subjectID == s.ownerID
}

// VerifyTrustedAdmin is the trusted-admin precondition: a qualifying score
// on the subject's own token.
func VerifyTrustedAdmin(rec trust.Record, tokenID string) bool {
	return rec.TokenID == tokenID && rec.TrustScore >= trust.AdminThreshold
}

// VerifyNFT resolves an admin identity and issues a session for it.
func (s *Service) VerifyNFT(ctx context.Context, subjectID, tokenID string) (Grant, error) {
	subjectID = strings.TrimSpace(subjectID)
	tokenID = strings.TrimSpace(tokenID)
	if subjectID == "" {
		return Grant{}, fmt.Errorf("subject id is required: %w", sentinel.ErrInvalid)
	}

	if s.VerifyOwner(subjectID) {
		rec, err := s.ledger.MintOwner(ctx, subjectID)
		if err != nil {
			return Grant{}, err
		}
		grant, err := s.issue(ctx, Owner{Subject: subjectID, TokenID: rec.TokenID}, rec.TrustScore, OwnerSessionTTL)
		if err != nil {
			return Grant{}, err
		}
		s.log.WithField("subject_id", subjectID).Info("owner admin session issued")
		return grant, nil
	}

	rec, err := s.ledger.Get(ctx, subjectID)
	if err != nil || !VerifyTrustedAdmin(rec, tokenID) {
		return Grant{}, fmt.Errorf("admin access requires a trust token with %d+ trust score: %w",
			trust.AdminThreshold, sentinel.ErrForbidden)
	}

	grant, err := s.issue(ctx, TrustedAdmin{Subject: subjectID, TokenID: rec.TokenID, TrustScore: rec.TrustScore}, rec.TrustScore, TrustedAdminSessionTTL)
	if err != nil {
		return Grant{}, err
	}
	s.log.WithField("subject_id", subjectID).
		WithField("trust_score", rec.TrustScore).
		Info("trusted admin session issued")
	return grant, nil
}

func (s *Service) issue(ctx context.Context, id Identity, trustScore int, ttl time.Duration) (Grant, error) {
	now := time.Now().UTC()
	expires := now.Add(ttl)

	var tokenID string
	switch v := id.(type) {
	case Owner:
		tokenID = v.TokenID
	case TrustedAdmin:
		tokenID = v.TokenID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role:    id.Role(),
		TokenID: tokenID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.SubjectID(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return Grant{}, fmt.Errorf("sign admin token: %w", err)
	}

	if err := s.store.PutSession(ctx, session.Session{
		Token:     hashToken(signed),
		SubjectID: id.SubjectID(),
		CreatedAt: now,
		ExpiresAt: expires,
	}); err != nil {
		return Grant{}, err
	}

	return Grant{Token: signed, AdminType: id.Role(), TrustScore: trustScore, ExpiresAt: expires}, nil
}

// Authenticate resolves a bearer token to an admin identity. Unknown,
// expired, or revoked tokens fail with ErrUnauthorized.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (Identity, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return nil, fmt.Errorf("admin session token is required: %w", sentinel.ErrUnauthorized)
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("invalid admin session token: %w", sentinel.ErrUnauthorized)
	}
	c, ok := parsed.Claims.(*claims)
	if !ok {
		return nil, fmt.Errorf("invalid admin session claims: %w", sentinel.ErrUnauthorized)
	}

	sess, err := s.store.GetSession(ctx, hashToken(tokenString))
	if err != nil {
		return nil, fmt.Errorf("admin session not found: %w", sentinel.ErrUnauthorized)
	}
	if sess.Expired(time.Now().UTC()) {
		if derr := s.store.DeleteSession(ctx, sess.Token); derr != nil {
			s.log.WithError(derr).Warn("remove expired admin session")
		}
		return nil, fmt.Errorf("admin session expired: %w", sentinel.ErrUnauthorized)
	}

	switch c.Role {
	case RoleOwner:
		return Owner{Subject: c.Subject, TokenID: c.TokenID}, nil
	case RoleTrustedAdmin:
		return TrustedAdmin{Subject: c.Subject, TokenID: c.TokenID}, nil
	default:
		return nil, fmt.Errorf("unknown admin role %q: %w", c.Role, sentinel.ErrUnauthorized)
	}
}

// Revoke invalidates an issued admin session token.
func (s *Service) Revoke(ctx context.Context, tokenString string) error {
	return s.store.DeleteSession(ctx, hashToken(tokenString))
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
