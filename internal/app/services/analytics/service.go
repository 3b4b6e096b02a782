// Package analytics ingests client-side tracking events and serves aggregate
// summaries. Events are schemaless JSON; only a few fields are extracted for
// counting, the raw payload is kept alongside.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/tidwall/gjson"

	"github.com/tiltcheck/trust-layer/internal/app/domain/analytics"
	"github.com/tiltcheck/trust-layer/internal/app/metrics"
	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage"
	"github.com/tiltcheck/trust-layer/pkg/logger"
)

const (
	mirrorTimeout  = 5 * time.Second
	maxEventBytes  = 64 << 10 // 64 KiB per tracked event
	typeBetaSignup = "beta_signup"
	typeMoneySaved = "money_saved"
	defaultLimit   = 100
)

// Service counts tracked events and exposes process-level health stats.
type Service struct {
	store  storage.AnalyticsStore
	mirror storage.Mirror
	log    *logger.Logger

	started time.Time

	mu          sync.Mutex
	total       int64
	byType      map[string]int64
	betaSignups int64
	moneySaved  float64
}

// New constructs an analytics service.
func New(store storage.AnalyticsStore, mirror storage.Mirror, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("analytics")
	}
	return &Service{
		store:   store,
		mirror:  mirror,
		log:     log,
		started: time.Now().UTC(),
		byType:  make(map[string]int64),
	}
}

// Track ingests one raw event. The payload must be a JSON object; type,
// userId and sessionId are extracted when present.
func (s *Service) Track(ctx context.Context, raw []byte) (analytics.Event, error) {
	if len(raw) == 0 || len(raw) > maxEventBytes {
		return analytics.Event{}, fmt.Errorf("event payload must be 1..%d bytes: %w", maxEventBytes, sentinel.ErrInvalid)
	}
	if !gjson.ValidBytes(raw) {
		return analytics.Event{}, fmt.Errorf("event payload is not valid JSON: %w", sentinel.ErrInvalid)
	}

	parsed := gjson.ParseBytes(raw)
	eventType := strings.TrimSpace(parsed.Get("type").String())
	if eventType == "" {
		eventType = "unknown"
	}

	ev := analytics.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     parsed.Get("userId").String(),
		SessionID:  parsed.Get("sessionId").String(),
		ReceivedAt: time.Now().UTC(),
		Payload:    json.RawMessage(append([]byte(nil), raw...)),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		return analytics.Event{}, err
	}

	s.mu.Lock()
	s.total++
	s.byType[eventType]++
	switch eventType {
	case typeBetaSignup:
		s.betaSignups++
	case typeMoneySaved:
		s.moneySaved += parsed.Get("amount").Float()
	}
	s.mu.Unlock()

	if s.mirror != nil {
		go func() {
			mctx, cancel := context.WithTimeout(context.Background(), mirrorTimeout)
			defer cancel()
			err := s.mirror.SaveEvent(mctx, ev)
			metrics.RecordMirrorWrite(s.mirror.Name(), err == nil)
			if err != nil {
				s.log.WithError(err).Warn("mirror event write failed")
			}
		}()
	}

	return ev, nil
}

// Summary aggregates counters and process stats.
func (s *Service) Summary(ctx context.Context) (analytics.Summary, error) {
	s.mu.Lock()
	byType := make(map[string]int64, len(s.byType))
	for k, v := range s.byType {
		byType[k] = v
	}
	summary := analytics.Summary{
		TotalEvents:     s.total,
		EventsByType:    byType,
		BetaSignups:     s.betaSignups,
		MoneySavedTotal: s.moneySaved,
	}
	s.mu.Unlock()

	summary.UptimeSeconds = time.Since(s.started).Seconds()
	if proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid())); err == nil {
		if mem, merr := proc.MemoryInfoWithContext(ctx); merr == nil && mem != nil {
			summary.MemoryRSSBytes = mem.RSS
		}
		if cpu, cerr := proc.CPUPercentWithContext(ctx); cerr == nil {
			summary.CPUPercent = cpu
		}
	}

	return summary, nil
}

// Recent returns the most recent tracked events, newest last.
func (s *Service) Recent(ctx context.Context, limit int) ([]analytics.Event, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.store.ListEvents(ctx, limit)
}
