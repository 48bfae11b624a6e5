package scheduler

import (
	"testing"
	"time"
)

func TestScheduler_OnceRunsExactlyOnce(t *testing.T) {
	s := New()
	calls := 0
	s.ScheduleOnce(time.Now(), func() { calls++ })

	ran := s.Run(time.Now())
	if ran != 1 || calls != 1 {
		t.Fatalf("expected one run, got ran=%d calls=%d", ran, calls)
	}

	ran = s.Run(time.Now())
	if ran != 0 {
		t.Fatalf("one-shot job should not run again, got %d", ran)
	}
}

func TestScheduler_PeriodicReArmsWithOffset(t *testing.T) {
	s := New()
	base := time.Now()
	calls := 0
	s.pq.Enqueue(&Job{Callback: func() { calls++ }, Period: time.Minute, Deadline: base})

	s.Run(base)
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}

	next := s.NextTime()
	if !next.Equal(base.Add(time.Minute)) {
		t.Fatalf("expected next deadline to be base+period, got %v want %v", next, base.Add(time.Minute))
	}

	s.Run(base)
	if calls != 1 {
		t.Fatalf("job should not fire again before its new deadline, got %d calls", calls)
	}

	s.Run(base.Add(time.Minute))
	if calls != 2 {
		t.Fatalf("expected second call at the re-armed deadline, got %d", calls)
	}
}

func TestScheduler_RunsDueJobsInDeadlineOrder(t *testing.T) {
	s := New()
	base := time.Now()
	var order []int

	s.ScheduleOnce(base.Add(2*time.Second), func() { order = append(order, 2) })
	s.ScheduleOnce(base, func() { order = append(order, 0) })
	s.ScheduleOnce(base.Add(time.Second), func() { order = append(order, 1) })

	s.Run(base.Add(3 * time.Second))

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected jobs to run in deadline order, got %v", order)
	}
}

func TestScheduler_NextTimeIsFarFutureWhenEmpty(t *testing.T) {
	s := New()
	if !s.NextTime().Equal(FarFuture) {
		t.Fatalf("empty scheduler should report FarFuture")
	}
}
