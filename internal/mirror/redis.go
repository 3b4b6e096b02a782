package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/tiltcheck/trust-layer/internal/app/domain/account"
	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/domain/session"
	"github.com/tiltcheck/trust-layer/internal/app/domain/trust"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
)

// eventWindow bounds the mirrored analytics list.
const eventWindow = 10000

// Redis mirrors records as JSON values. Sessions carry a TTL matching their
// expiry so the mirror cleans up on its own.
type Redis struct {
	client *redis.Client
}

var _ storage.Mirror = (*Redis)(nil)

// NewRedis connects to the given address and verifies connectivity.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis mirror: %w", err)
	}
	return &Redis{client: client}, nil
}

// Name identifies the backend in logs.
func (r *Redis) Name() string { return "redis" }

// Close releases the client.
func (r *Redis) Close() error { return r.client.Close() }

func sessionKey(token string) string   { return "trustlayer:session:" + token }
func trustKey(subjectID string) string { return "trustlayer:trust:" + subjectID }
func accountKey(subjectID string) string {
	return "trustlayer:account:" + subjectID
}
func legalKey(subjectID string) string { return "trustlayer:legal:" + subjectID }

func (r *Redis) SaveSession(ctx context.Context, s session.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	ttl := time.Until(s.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, sessionKey(s.Token), data, ttl).Err()
}

func (r *Redis) LoadSession(ctx context.Context, token string) (session.Session, error) {
	data, err := r.client.Get(ctx, sessionKey(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return session.Session{}, fmt.Errorf("mirror session: %w", sentinel.ErrNotFound)
		}
		return session.Session{}, err
	}
	var s session.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return session.Session{}, fmt.Errorf("decode mirrored session: %w", err)
	}
	return s, nil
}

func (r *Redis) SaveTrustRecord(ctx context.Context, rec trust.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, trustKey(rec.SubjectID), data, 0).Err()
}

func (r *Redis) SaveAccount(ctx context.Context, acct account.Account) error {
	data, err := json.Marshal(acct)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, accountKey(acct.SubjectID), data, 0).Err()
}

func (r *Redis) SaveLegalRecord(ctx context.Context, rec account.LegalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, legalKey(rec.SubjectID), data, 0).Err()
}

func (r *Redis) SaveEvent(ctx context.Context, ev analytics.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, "trustlayer:events", data)
	pipe.LTrim(ctx, "trustlayer:events", 0, eventWindow-1)
	_, err = pipe.Exec(ctx)
	return err
}
