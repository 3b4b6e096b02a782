package system

import (
	"context"
	"errors"
	"testing"
)

type recordingService struct {
	name    string
	started *[]string
	stopped *[]string
	failOn  bool
}

func (r *recordingService) Name() string { return r.name }

func (r *recordingService) Start(context.Context) error {
	if r.failOn {
		return errors.New("boom")
	}
	*r.started = append(*r.started, r.name)
	return nil
}

func (r *recordingService) Stop(context.Context) error {
	*r.stopped = append(*r.stopped, r.name)
	return nil
}

func TestStartStopOrder(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	for _, name := range []string{"a", "b", "c"} {
		if err := m.Register(&recordingService{name: name, started: &started, stopped: &stopped}); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if len(started) != 3 || started[0] != "a" || started[2] != "c" {
		t.Fatalf("unexpected start order %v", started)
	}
	if len(stopped) != 3 || stopped[0] != "c" || stopped[2] != "a" {
		t.Fatalf("stop must run in reverse order, got %v", stopped)
	}
}

func TestStartFailureRollsBack(t *testing.T) {
	var started, stopped []string
	m := NewManager()
	if err := m.Register(&recordingService{name: "a", started: &started, stopped: &stopped}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(&recordingService{name: "bad", started: &started, stopped: &stopped, failOn: true}); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := m.Start(context.Background()); err == nil {
		t.Fatalf("expected start failure")
	}
	if len(stopped) != 1 || stopped[0] != "a" {
		t.Fatalf("already-started services must be stopped, got %v", stopped)
	}
}

func TestRegisterRejections(t *testing.T) {
	m := NewManager()

	if err := m.Register(nil); err == nil {
		t.Fatalf("expected error for nil service")
	}
	if err := m.Register(NoopService{ServiceName: "dup"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "dup"}); err == nil {
		t.Fatalf("expected error for duplicate name")
	}

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Register(NoopService{ServiceName: "late"}); err == nil {
		t.Fatalf("expected error after start")
	}
}
