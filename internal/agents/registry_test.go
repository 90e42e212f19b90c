package agents

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(testLogger())
}

type fakeHost struct {
	name string
}

func TestRegisterWithExplicitID(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Register(&fakeHost{name: "alpha"}, "agent_1")
	if err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}
	if id != "agent_1" {
		t.Errorf("expected id agent_1, got %s", id)
	}

	rec, ok := r.Get("agent_1")
	if !ok {
		t.Fatal("expected agent to be retrievable")
	}
	if rec.State != StateActive {
		t.Errorf("expected new agent active, got %s", rec.State)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
	if rec.Metrics.TotalTasks() != 0 {
		t.Errorf("expected zero metrics, got %d tasks", rec.Metrics.TotalTasks())
	}
	if rec.Metrics.AgentID != "agent_1" {
		t.Errorf("expected metrics back-reference agent_1, got %s", rec.Metrics.AgentID)
	}
	if h, ok := rec.Handle.(*fakeHost); !ok || h.name != "alpha" {
		t.Errorf("expected opaque handle to round-trip, got %v", rec.Handle)
	}
}

func TestRegisterGeneratesID(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Register(nil, "")
	if err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}
	if !strings.HasPrefix(id, "agent_") {
		t.Errorf("expected generated id with agent_ prefix, got %s", id)
	}

	id2, err := r.Register(nil, "")
	if err != nil {
		t.Fatalf("failed to register second agent: %v", err)
	}
	if id == id2 {
		t.Errorf("expected unique generated ids, got %s twice", id)
	}
}

func TestRegisterDuplicateID(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(nil, "agent_1"); err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}

	_, err := r.Register(nil, "agent_1")
	if !errors.Is(err, ErrDuplicateID) {
		t.Errorf("expected ErrDuplicateID, got %v", err)
	}
	if r.Count() != 1 {
		t.Errorf("expected registry unchanged after duplicate, got %d agents", r.Count())
	}
}

func TestUnregister(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(nil, "agent_1"); err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}

	if !r.Unregister("agent_1") {
		t.Error("expected unregister to report removal")
	}
	if _, ok := r.Get("agent_1"); ok {
		t.Error("expected agent gone after unregister")
	}
	if r.Unregister("agent_1") {
		t.Error("expected second unregister to be a no-op")
	}
}

func TestRecordOutcome(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(nil, "agent_1"); err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}

	r.RecordOutcome("agent_1", true, 1.0)
	r.RecordOutcome("agent_1", true, 3.0)
	r.RecordOutcome("agent_1", false, 2.0)

	rec, _ := r.Get("agent_1")
	m := rec.Metrics
	if m.TasksCompleted != 2 {
		t.Errorf("expected 2 completed, got %d", m.TasksCompleted)
	}
	if m.TasksFailed != 1 {
		t.Errorf("expected 1 failed, got %d", m.TasksFailed)
	}
	if math.Abs(m.AvgResponseTime-2.0) > 1e-9 {
		t.Errorf("expected avg response 2.0, got %f", m.AvgResponseTime)
	}
	if math.Abs(m.SuccessRate-2.0/3.0) > 1e-9 {
		t.Errorf("expected success rate 2/3, got %f", m.SuccessRate)
	}
	if m.LastActivity == nil {
		t.Error("expected last activity to be set")
	} else if time.Since(*m.LastActivity) > time.Minute {
		t.Errorf("expected recent last activity, got %v", m.LastActivity)
	}
}

func TestRecordOutcomeCountersMatchCalls(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(nil, "agent_1"); err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}

	calls := 0
	for i := 0; i < 50; i++ {
		r.RecordOutcome("agent_1", i%3 == 0, float64(i%7))
		calls++

		rec, _ := r.Get("agent_1")
		m := rec.Metrics
		if m.TotalTasks() != int64(calls) {
			t.Fatalf("after %d calls: expected %d total tasks, got %d", calls, calls, m.TotalTasks())
		}
		if m.SuccessRate < 0 || m.SuccessRate > 1 {
			t.Fatalf("success rate out of range: %f", m.SuccessRate)
		}
		want := float64(m.TasksCompleted) / float64(m.TotalTasks())
		if math.Abs(m.SuccessRate-want) > 1e-9 {
			t.Fatalf("expected success rate %f, got %f", want, m.SuccessRate)
		}
	}
}

func TestRecordOutcomeUnknownAgent(t *testing.T) {
	r := newTestRegistry(t)

	if r.RecordOutcome("missing", true, 1.0) {
		t.Error("expected outcome for unknown agent to be dropped")
	}
	if r.Count() != 0 {
		t.Errorf("expected no agents created as a side effect, got %d", r.Count())
	}
}

func TestListActive(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 4; i++ {
		if _, err := r.Register(nil, fmt.Sprintf("agent_%d", i)); err != nil {
			t.Fatalf("failed to register agent: %v", err)
		}
	}
	r.SetState("agent_1", StateIdle)
	r.SetState("agent_3", StateLearning)

	active := r.ListActive()
	if len(active) != 2 {
		t.Fatalf("expected 2 active agents, got %d", len(active))
	}
	for _, rec := range active {
		if rec.State != StateActive {
			t.Errorf("expected only active agents, got %s in state %s", rec.ID, rec.State)
		}
	}

	if len(r.List()) != 4 {
		t.Errorf("expected 4 agents total, got %d", len(r.List()))
	}
}

func TestSetStateUnknownAgent(t *testing.T) {
	r := newTestRegistry(t)

	if r.SetState("missing", StateEvolving) {
		t.Error("expected state change on unknown agent to be a no-op")
	}
}

func TestSnapshotIsolatedFromRegistry(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(nil, "agent_1"); err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}
	r.RecordOutcome("agent_1", true, 1.0)

	rec, _ := r.Get("agent_1")
	rec.Metrics.TasksCompleted = 99
	rec.State = StateTerminated

	again, _ := r.Get("agent_1")
	if again.Metrics.TasksCompleted != 1 {
		t.Errorf("expected stored metrics untouched, got %d", again.Metrics.TasksCompleted)
	}
	if again.State != StateActive {
		t.Errorf("expected stored state untouched, got %s", again.State)
	}
}

func TestReset(t *testing.T) {
	r := newTestRegistry(t)

	for i := 0; i < 3; i++ {
		if _, err := r.Register(nil, ""); err != nil {
			t.Fatalf("failed to register agent: %v", err)
		}
	}

	r.Reset()

	if r.Count() != 0 {
		t.Errorf("expected empty registry after reset, got %d", r.Count())
	}
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := newTestRegistry(t)

	if _, err := r.Register(nil, "agent_1"); err != nil {
		t.Fatalf("failed to register agent: %v", err)
	}

	done := make(chan bool, 30)

	// Concurrent outcome recording
	for i := 0; i < 10; i++ {
		go func() {
			r.RecordOutcome("agent_1", true, 0.5)
			done <- true
		}()
	}

	// Concurrent registrations
	for i := 0; i < 10; i++ {
		go func(n int) {
			r.Register(nil, fmt.Sprintf("spawned_%d", n))
			done <- true
		}(i)
	}

	// Concurrent reads
	for i := 0; i < 10; i++ {
		go func() {
			r.Get("agent_1")
			r.List()
			r.ListActive()
			done <- true
		}()
	}

	for i := 0; i < 30; i++ {
		<-done
	}

	rec, _ := r.Get("agent_1")
	if rec.Metrics.TasksCompleted != 10 {
		t.Errorf("expected 10 completed tasks, got %d", rec.Metrics.TasksCompleted)
	}
	if r.Count() != 11 {
		t.Errorf("expected 11 agents, got %d", r.Count())
	}
}
