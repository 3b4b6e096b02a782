package sessions

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/metrics"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

// mirrorTimeout bounds each asynchronous mirror write.
const mirrorTimeout = 5 * time.Second

// Service issues and resolves bearer sessions. Local memory is authoritative;
// the mirror is consulted once on a local miss.
type Service struct {
	store  storage.SessionStore
	mirror storage.Mirror
	log    *logger.Logger
	ttl    time.Duration
}

// New constructs a session service with the default 24h TTL.
func New(store storage.SessionStore, mirror storage.Mirror, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("sessions")
	}
	return &Service{store: store, mirror: mirror, log: log, ttl: session.DefaultTTL}
}

// WithTTL overrides the session lifetime. Call before serving traffic.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// Create issues a session for the subject and mirrors it asynchronously.
func (s *Service) Create(ctx context.Context, subjectID, deviceFingerprint string) (session.Session, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return session.Session{}, fmt.Errorf("subject id is required: %w", sentinel.ErrInvalid)
	}

	token, err := newToken()
	if err != nil {
		return session.Session{}, fmt.Errorf("generate session token: %w", err)
	}

	now := time.Now().UTC()
	sess := session.Session{
		Token:             token,
		SubjectID:         subjectID,
		DeviceFingerprint: strings.TrimSpace(deviceFingerprint),
		CreatedAt:         now,
		ExpiresAt:         now.Add(s.ttl),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return session.Session{}, err
	}

	s.mirrorAsync("session", func(mctx context.Context) error {
		return s.mirror.SaveSession(mctx, sess)
	})

	s.log.WithField("subject_id", subjectID).Info("session issued")
	return sess, nil
}

// Get resolves a token. Expired sessions are removed and reported absent. On
// a local miss the mirror is consulted once and a live hit is cached back.
func (s *Service) Get(ctx context.Context, token string) (session.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return session.Session{}, fmt.Errorf("session token is required: %w", sentinel.ErrInvalid)
	}

	sess, err := s.store.GetSession(ctx, token)
	if err != nil {
		if s.mirror == nil {
			return session.Session{}, err
		}
		mirrored, merr := s.mirror.LoadSession(ctx, token)
		if merr != nil {
			return session.Session{}, err
		}
		if mirrored.Expired(time.Now().UTC()) {
			return session.Session{}, fmt.Errorf("session expired: %w", sentinel.ErrNotFound)
		}
		if perr := s.store.PutSession(ctx, mirrored); perr != nil {
			s.log.WithError(perr).Warn("cache mirrored session")
		}
		return mirrored, nil
	}

	if sess.Expired(time.Now().UTC()) {
		if derr := s.store.DeleteSession(ctx, token); derr != nil {
			s.log.WithError(derr).Warn("remove expired session")
		}
		return session.Session{}, fmt.Errorf("session expired: %w", sentinel.ErrNotFound)
	}
	return sess, nil
}

// Delete removes a session. Deleting an unknown token is not an error.
func (s *Service) Delete(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, strings.TrimSpace(token))
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

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
