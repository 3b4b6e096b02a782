package analytics

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tiltcheck/trust-layer/internal/app/sentinel"
	"github.com/tiltcheck/trust-layer/internal/app/storage/memory"
	"github.com/tiltcheck/trust-layer/internal/mirror"
)

func newService() *Service {
	return New(memory.New(), mirror.Noop{}, nil)
}

func TestTrackExtractsFields(t *testing.T) {
	svc := newService()

	ev, err := svc.Track(context.Background(), []byte(`{"type":"page_view","userId":"u1","sessionId":"s1","path":"/dashboard"}`))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if ev.ID == "" {
		t.Fatalf("event id not assigned")
	}
	if ev.Type != "page_view" || ev.UserID != "u1" || ev.SessionID != "s1" {
		t.Fatalf("fields not extracted: %+v", ev)
	}
	if !strings.Contains(string(ev.Payload), `"path":"/dashboard"`) {
		t.Fatalf("raw payload not retained: %s", ev.Payload)
	}
}

func TestTrackRejectsInvalidPayloads(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	if _, err := svc.Track(ctx, nil); !errors.Is(err, sentinel.ErrInvalid) {
		t.Fatalf("expected invalid for empty payload, got %v", err)
	}
	if _, err := svc.Track(ctx, []byte(`{"type":`)); !errors.Is(err, sentinel.ErrInvalid) {
		t.Fatalf("expected invalid for broken JSON, got %v", err)
	}
	if _, err := svc.Track(ctx, make([]byte, maxEventBytes+1)); !errors.Is(err, sentinel.ErrInvalid) {
		t.Fatalf("expected invalid for oversized payload, got %v", err)
	}
}

func TestTrackDefaultsUnknownType(t *testing.T) {
	svc := newService()

	ev, err := svc.Track(context.Background(), []byte(`{"userId":"u1"}`))
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if ev.Type != "unknown" {
		t.Fatalf("expected unknown type, got %q", ev.Type)
	}
}

func TestSummaryCounters(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	payloads := []string{
		`{"type":"page_view"}`,
		`{"type":"page_view"}`,
		`{"type":"beta_signup","userId":"u1"}`,
		`{"type":"money_saved","amount":12.5}`,
		`{"type":"money_saved","amount":7.5}`,
	}
	for _, p := range payloads {
		if _, err := svc.Track(ctx, []byte(p)); err != nil {
			t.Fatalf("track %s: %v", p, err)
		}
	}

	sum, err := svc.Summary(ctx)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.TotalEvents != 5 {
		t.Fatalf("expected 5 events, got %d", sum.TotalEvents)
	}
	if sum.EventsByType["page_view"] != 2 || sum.EventsByType["money_saved"] != 2 {
		t.Fatalf("per-type counts wrong: %v", sum.EventsByType)
	}
	if sum.BetaSignups != 1 {
		t.Fatalf("expected 1 beta signup, got %d", sum.BetaSignups)
	}
	if sum.MoneySavedTotal != 20 {
		t.Fatalf("expected 20 saved, got %v", sum.MoneySavedTotal)
	}
	if sum.UptimeSeconds < 0 {
		t.Fatalf("negative uptime")
	}
}

func TestRecentWindow(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := svc.Track(ctx, []byte(`{"type":"page_view"}`)); err != nil {
			t.Fatalf("track: %v", err)
		}
	}

	events, err := svc.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	all, err := svc.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("recent default: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("default limit must cover all 4 events, got %d", len(all))
	}
}
