package actor

import (
	"runtime"
	"time"
)

// SchedulerPolicy selects the scheduling discipline the core's work queues
// use, per spec.md §6 ("scheduler.policy": work-stealing (default) or
// sharing).
type SchedulerPolicy string

const (
	// PolicyWorkStealing runs Scheduler's fixed worker pool with local
	// per-worker deques and steal-from-far-end, as implemented in
	// scheduler.go.
	PolicyWorkStealing SchedulerPolicy = "work-stealing"

	// PolicySharing names a discipline in which every worker runs off
	// one shared run queue instead of per-worker deques. No scheduler in
	// this package implements it; see SystemConfig.SchedulerPolicy.
	PolicySharing SchedulerPolicy = "sharing"
)

// SystemConfig holds configuration parameters for the ActorSystem,
// extended from the teacher's single-field version to cover every option
// spec.md §6's "To the configuration surface" table names.
type SystemConfig struct {
	// MailboxCapacity is the default capacity for actor mailboxes used
	// by the teacher's generic, typed Actor[M,R] (app-layer services).
	// Corresponds to the table's "mailbox.cap" for that actor kind;
	// values below 1 are raised to 1, so these mailboxes are always
	// bounded.
	MailboxCapacity int

	// SchedulerWorkers is "scheduler.workers": the fixed worker count
	// for the EventActor scheduler. 0 selects runtime.GOMAXPROCS(0).
	SchedulerWorkers int

	// SchedulerThroughput is "scheduler.throughput": the maximum number
	// of mailbox messages an EventActor processes per scheduler
	// resumption before yielding the worker back to the pool.
	SchedulerThroughput int

	// SchedulerPolicy is "scheduler.policy". NewActorSystemWithConfig
	// does not read it: the system always runs the work-stealing
	// Scheduler, whatever this field holds.
	SchedulerPolicy SchedulerPolicy

	// PriorityMailboxCap is "mailbox.cap" for the priority mailbox
	// (internal/actor's own EventActor/BlockingActor kind, distinct from
	// MailboxCapacity above); 0 means unbounded.
	PriorityMailboxCap int

	// ClockCleanupInterval is "clock.cleanup-interval". The TimerService
	// does not read it and never compacts its heap on a schedule:
	// cancelled entries are only discarded lazily as they reach the
	// front.
	ClockCleanupInterval time.Duration

	// ShutdownGrace is "shutdown.grace": the maximum time Shutdown waits
	// for actors to drain before giving up and returning an error.
	ShutdownGrace time.Duration

	// AddressCacheSize bounds the LRU cache of resolved remote
	// addresses (see address_cache.go). 0 disables caching.
	AddressCacheSize int
}

// DefaultConfig returns a default configuration for the ActorSystem.
func DefaultConfig() SystemConfig {
	return SystemConfig{
		MailboxCapacity:      100,
		SchedulerWorkers:     runtime.GOMAXPROCS(0),
		SchedulerThroughput:  64,
		SchedulerPolicy:      PolicyWorkStealing,
		PriorityMailboxCap:   0,
		ClockCleanupInterval: time.Minute,
		ShutdownGrace:        30 * time.Second,
		AddressCacheSize:     1024,
	}
}
