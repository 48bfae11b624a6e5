// Package scheduler drives the periodic maintenance jobs (routing
// table refresh, random pings, re-announce) that the I/O core runs
// between socket reads, via a monotonic-deadline min-heap.
package scheduler

import (
	"time"

	"github.com/vael/warren/pkg/utils/heap"
)

// FarFuture is returned by NextTime when no job is scheduled, so
// callers can use it directly as a select/poll timeout ceiling.
var FarFuture = time.Now().AddDate(100, 0, 0)

// Job is a unit of scheduled work. A zero Period makes it one-shot;
// a non-zero Period causes it to be re-inserted with Deadline +=
// Period every time it runs.
type Job struct {
	Callback func()
	Period   time.Duration
	Deadline time.Time
}

func (j *Job) periodic() bool { return j.Period > 0 }

// Scheduler is a single-writer min-heap of Jobs keyed by Deadline.
// It is owned entirely by the I/O thread; Run and NextTime must only
// be called from there.
type Scheduler struct {
	pq *heap.PriorityQueue[*Job]
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{
		pq: heap.NewPriorityQueue(func(a, b *Job) bool {
			return a.Deadline.Before(b.Deadline)
		}),
	}
}

// ScheduleOnce runs callback once at deadline.
func (s *Scheduler) ScheduleOnce(deadline time.Time, callback func()) *Job {
	j := &Job{Callback: callback, Deadline: deadline}
	s.pq.Enqueue(j)
	return j
}

// SchedulePeriodic runs callback every period, starting one period
// from now.
func (s *Scheduler) SchedulePeriodic(period time.Duration, callback func()) *Job {
	j := &Job{Callback: callback, Period: period, Deadline: time.Now().Add(period)}
	s.pq.Enqueue(j)
	return j
}

// Run pops and executes every job whose Deadline has passed as of
// now, in deadline order (jobs with equal deadlines run in no
// guaranteed order, since the heap is not stable). Periodic jobs are re-armed with
// Deadline += Period before the next Peek is consulted. Jobs run to
// completion synchronously; it is a caller error to register one that
// blocks.
func (s *Scheduler) Run(now time.Time) int {
	ran := 0
	for {
		j, ok := s.pq.Peek()
		if !ok || j.Deadline.After(now) {
			return ran
		}

		j, _ = s.pq.Dequeue()
		j.Callback()
		ran++

		if j.periodic() {
			j.Deadline = j.Deadline.Add(j.Period)
			s.pq.Enqueue(j)
		}
	}
}

// NextTime returns the earliest pending deadline, or FarFuture if no
// job is scheduled.
func (s *Scheduler) NextTime() time.Time {
	j, ok := s.pq.Peek()
	if !ok {
		return FarFuture
	}
	return j.Deadline
}

// Len reports the number of pending jobs.
func (s *Scheduler) Len() int { return s.pq.Len() }
