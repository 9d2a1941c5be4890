package actor

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// These tests cover spec.md §8's property invariants P1–P11, distinct from
// scenarios_test.go's seed-scenario tests: each one asserts a single
// structural guarantee of the C6–C14 surface, generating inputs with
// pgregory.net/rapid the way the teacher's internal/store/properties_test.go
// already does for this pack.

// TestSingleActivation covers P1: at most one worker ever executes a given
// EventActor's behavior concurrently, even under a flood of concurrent Tells
// from many goroutines.
func TestSingleActivation(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)

	var active atomic.Int32
	var sawOverlap atomic.Bool
	ea := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			if active.Add(1) > 1 {
				sawOverlap.Store(true)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil, nil
		},
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			_ = ea.Tell(context.Background(), NewPayload(v), false)
		}(i)
	}
	wg.Wait()

	require.Eventually(t, func() bool {
		return active.Load() == 0
	}, time.Second, time.Millisecond)
	require.False(t, sawOverlap.Load())
}

// TestRequestResponseBijection covers P2: every completed Ask resolves to
// exactly one of {success, error}, and the response a caller receives
// always correlates back to the request it issued.
func TestRequestResponseBijection(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	calc := sys.SpawnEventActor(NewBehavior(addArm()))

	rapid.Check(t, func(rt *rapid.T) {
		a := rapid.IntRange(-1000, 1000).Draw(rt, "a")
		b := rapid.IntRange(-1000, 1000).Draw(rt, "b")

		future := calc.Ask(context.Background(), NewPayload(a, b), false)
		result := future.Await(context.Background())

		// Exactly one of success/error: Unpack either yields a value
		// with a nil error, or a zero value with a non-nil error —
		// never both a usable value and an error.
		sum, err := result.Unpack()
		if err != nil {
			return
		}
		v, _ := sum.At(0)
		require.Equal(t, a+b, v)
	})
}

// TestLinkSymmetry covers P3: after linkTo(a, b), each side's link set
// contains the other; after unlinkFrom, neither does.
func TestLinkSymmetry(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	a := sys.SpawnEventActor(NewBehavior())
	b := sys.SpawnEventActor(NewBehavior())

	linkTo(a.cb, b.cb)

	a.cb.mu.Lock()
	_, aHasB := a.cb.links[b.cb.id]
	a.cb.mu.Unlock()
	b.cb.mu.Lock()
	_, bHasA := b.cb.links[a.cb.id]
	b.cb.mu.Unlock()
	require.True(t, aHasB)
	require.True(t, bHasA)

	unlinkFrom(a.cb, b.cb)

	a.cb.mu.Lock()
	_, aHasB = a.cb.links[b.cb.id]
	a.cb.mu.Unlock()
	b.cb.mu.Lock()
	_, bHasA = b.cb.links[a.cb.id]
	b.cb.mu.Unlock()
	require.False(t, aHasB)
	require.False(t, bHasA)
}

// TestExitPropagation covers P4: if a and b are linked and a terminates with
// a non-normal reason, the ExitNotification delivered to b carries that
// same reason, and b terminating itself in response to it (what every
// trap-exit-aware behavior in this implementation is expected to do — see
// DESIGN.md's Open Questions on why propagation stops at delivery rather
// than an automatic kill) leaves b with that reason recorded.
func TestExitPropagation(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)

	var b *EventActor
	notified := make(chan ExitReason, 1)
	b = sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{exitNotificationType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			v, _ := msg.At(0)
			en := v.(ExitNotification)
			b.Stop(en.Reason)
			notified <- en.Reason
			return nil, nil
		},
	}))
	a := sys.SpawnEventActor(NewBehavior())
	linkTo(a.cb, b.cb)

	reason := RuntimeError(17, "boom")
	a.Stop(reason)

	select {
	case got := <-notified:
		require.Equal(t, reason, got)
	case <-time.After(time.Second):
		t.Fatal("linked exit notification never arrived")
	}

	require.Eventually(t, func() bool {
		return !b.cb.IsAlive()
	}, time.Second, time.Millisecond)

	b.cb.mu.Lock()
	gotReason := b.cb.reason
	b.cb.mu.Unlock()
	require.Equal(t, reason, gotReason)
}

// TestUrgentPrecedence covers P5: an urgent message sent after N normal
// messages is dispatched no later than any of those N.
func TestUrgentPrecedence(t *testing.T) {
	t.Parallel()

	const n = 20
	order := make(chan string, n+1)

	sys := newTestSystem(t)
	gate := make(chan struct{})
	ea := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			<-gate
			v, _ := msg.At(0)
			if v.(int) == -1 {
				order <- "urgent"
			} else {
				order <- "normal"
			}
			return nil, nil
		},
	}))

	for i := 0; i < n; i++ {
		require.NoError(t, ea.Tell(context.Background(), NewPayload(i), false))
	}
	require.NoError(t, ea.Tell(context.Background(), NewPayload(-1), true))
	close(gate)

	results := make([]string, 0, n+1)
	for i := 0; i < n+1; i++ {
		select {
		case r := <-order:
			results = append(results, r)
		case <-time.After(2 * time.Second):
			t.Fatal("dispatch never completed")
		}
	}

	urgentIdx := -1
	for i, r := range results {
		if r == "urgent" {
			urgentIdx = i
			break
		}
	}
	require.NotEqual(t, -1, urgentIdx)
	require.Less(t, urgentIdx, n)
}

// TestAwaitedResponsePrecedence covers P6: a response an actor is awaiting
// jumps ahead of already-queued normal (and urgent) traffic in the same
// mailbox, since popLocked drains the awaited queue first regardless of
// enqueue order.
func TestAwaitedResponsePrecedence(t *testing.T) {
	t.Parallel()

	mb := newPriorityMailbox(0)

	normalEnv := mailboxEnvelope{
		payload: NewPayload(1),
		id:      NewMessageID(false, KindAsync, 1),
	}
	urgentEnv := mailboxEnvelope{
		payload: NewPayload(2),
		id:      NewMessageID(true, KindAsync, 2),
	}
	awaitedEnv := mailboxEnvelope{
		payload: NewPayload(3),
		id:      NewMessageID(false, KindResponse, 3),
	}

	require.NoError(t, mb.enqueueNormal(normalEnv))
	require.NoError(t, mb.enqueueUrgent(urgentEnv))
	require.NoError(t, mb.enqueueAwaited(awaitedEnv))

	first, ok := mb.tryDequeue()
	require.True(t, ok)
	require.Equal(t, KindResponse, first.id.Kind())

	second, ok := mb.tryDequeue()
	require.True(t, ok)
	require.True(t, second.id.Urgent())

	third, ok := mb.tryDequeue()
	require.True(t, ok)
	require.Equal(t, KindAsync, third.id.Kind())
	require.False(t, third.id.Urgent())
}

// TestMailboxFIFOPerSender covers P7: messages from the same sender to the
// same target dispatch in the order they were sent.
func TestMailboxFIFOPerSender(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)

	got := make(chan int, 100)
	ea := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			v, _ := msg.At(0)
			got <- v.(int)
			return nil, nil
		},
	}))

	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, ea.Tell(context.Background(), NewPayload(i), false))
	}

	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			require.Equal(t, i, v)
		case <-time.After(2 * time.Second):
			t.Fatalf("message %d never dispatched", i)
		}
	}
}

// TestTimerOrdering covers P8: actions scheduled with deadlines d1 < d2 fire
// in that order.
func TestTimerOrdering(t *testing.T) {
	t.Parallel()

	timers := NewTimerService()
	defer timers.Stop()

	fired := make(chan int, 2)
	now := time.Now()
	timers.Schedule(now.Add(40*time.Millisecond), func() { fired <- 2 })
	timers.Schedule(now.Add(10*time.Millisecond), func() { fired <- 1 })

	first := <-fired
	second := <-fired
	require.Equal(t, 1, first)
	require.Equal(t, 2, second)
}

// TestGroupFanOutExactlyOnce covers P9: a message sent to a group with N
// subscribers is delivered to each subscriber exactly once.
func TestGroupFanOutExactlyOnce(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(rt *rapid.T) {
		cfg := DefaultConfig()
		cfg.SchedulerWorkers = 2
		sys := NewActorSystemWithConfig(cfg)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = sys.Shutdown(ctx)
		}()

		n := rapid.IntRange(1, 8).Draw(rt, "subscribers")
		group := sys.Groups().GetOrCreate("local", "fanout-test")

		var counts sync.Map
		for i := 0; i < n; i++ {
			id := i
			counts.Store(id, new(int32))
			ea := sys.SpawnEventActor(NewBehavior(Arm{
				Shape: []reflect.Type{intType},
				Handle: func(ctx context.Context, msg Payload) (Payload, error) {
					c, _ := counts.Load(id)
					atomic.AddInt32(c.(*int32), 1)
					return nil, nil
				},
			}))
			group.Join(ea.Address())
		}

		delivered := group.Broadcast(NewPayload(1))
		require.Equal(t, n, delivered)

		require.Eventually(t, func() bool {
			all := true
			counts.Range(func(_, v any) bool {
				if atomic.LoadInt32(v.(*int32)) != 1 {
					all = false
					return false
				}
				return true
			})
			return all
		}, time.Second, time.Millisecond)
	})
}

// TestCowDetach covers P10: mutating a payload obtained via Detach does not
// alter the view held by another reference to the originally shared tuple.
func TestCowDetach(t *testing.T) {
	t.Parallel()

	shared := NewPayload(1, 2, 3).(dynamicPayload)
	aliased := shared.Retain()

	detached := shared.Detach().(dynamicPayload)
	detached.WriteSlot(0, func(v any) any { return 99 })

	v, _ := aliased.At(0)
	require.Equal(t, 1, v)

	v, _ = detached.At(0)
	require.Equal(t, 99, v)
}

// TestShutdownQuiescenceNoLateWork covers P11: after Shutdown returns, no
// worker runs a user handler and no timer fires again.
func TestShutdownQuiescenceNoLateWork(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SchedulerWorkers = 2
	sys := NewActorSystemWithConfig(cfg)

	var handlerRuns atomic.Int32
	ea := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			handlerRuns.Add(1)
			return nil, nil
		},
	}))
	_ = ea.Tell(context.Background(), NewPayload(1), false)

	var timerFired atomic.Bool
	sys.Timers().After(5*time.Millisecond, func() { timerFired.Store(true) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	runsAtShutdown := handlerRuns.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, runsAtShutdown, handlerRuns.Load())
	require.False(t, timerFired.Load())

	// A post-shutdown Tell is rejected outright (the control block is
	// already terminated) rather than silently queued and later run.
	require.ErrorIs(t, ea.Tell(context.Background(), NewPayload(2), false),
		ErrActorTerminated)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, runsAtShutdown, handlerRuns.Load())
}
