package jobs

import (
	"testing"
	"time"
)

func TestRepeatRegistryDeduplicatesByName(t *testing.T) {
	reg := newRepeatRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		reg.add(&repeatSchedule{
			queue:  QueueBuffers,
			name:   "sweep-expired",
			every:  5 * time.Second,
			nextAt: base.Add(5 * time.Second),
		})
	}

	if n := reg.countForQueue(QueueBuffers); n != 1 {
		t.Fatalf("expected 1 schedule after repeated registration, got %d", n)
	}
}

func TestRepeatRegistryDueAdvancesSchedule(t *testing.T) {
	reg := newRepeatRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reg.add(&repeatSchedule{
		queue:  QueueBuffers,
		name:   "sweep-expired",
		every:  5 * time.Second,
		nextAt: base,
	})

	fired := reg.due(QueueBuffers, base)
	if len(fired) != 1 {
		t.Fatalf("expected 1 due schedule, got %d", len(fired))
	}

	// not due again until the period elapses
	if fired := reg.due(QueueBuffers, base.Add(time.Second)); len(fired) != 0 {
		t.Fatalf("expected no due schedules, got %d", len(fired))
	}

	if fired := reg.due(QueueBuffers, base.Add(5*time.Second)); len(fired) != 1 {
		t.Fatalf("expected schedule due again after period, got %d", len(fired))
	}
}

func TestRepeatRegistryDueScopedToQueue(t *testing.T) {
	reg := newRepeatRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	reg.add(&repeatSchedule{queue: QueueBuffers, name: "sweep-expired", every: time.Second, nextAt: base})
	reg.add(&repeatSchedule{queue: QueueReminders, name: "reminder-catch-up", every: time.Second, nextAt: base})

	fired := reg.due(QueueBuffers, base)
	if len(fired) != 1 || fired[0].queue != QueueBuffers {
		t.Fatalf("expected only the buffers schedule, got %+v", fired)
	}

	// the other queue's schedule must not have been consumed
	if fired := reg.due(QueueReminders, base); len(fired) != 1 {
		t.Fatalf("expected reminders schedule still due, got %d", len(fired))
	}
}

func TestRepeatRegistryRemove(t *testing.T) {
	reg := newRepeatRegistry()
	reg.add(&repeatSchedule{queue: QueueBuffers, name: "sweep-expired", every: time.Second, nextAt: time.Now()})

	reg.remove(QueueBuffers, "sweep-expired")
	if n := reg.countForQueue(QueueBuffers); n != 0 {
		t.Fatalf("expected 0 schedules after removal, got %d", n)
	}
}
