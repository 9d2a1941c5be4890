package actor

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var (
	intType              = reflect.TypeOf(0)
	exitNotificationType = reflect.TypeOf(ExitNotification{})
)

// Each test below corresponds to one of spec.md §8's seed scenarios,
// exercising the C6–C14 surface end to end rather than one component in
// isolation, matching the teacher's existing *_test.go style (t.Parallel,
// require, no table-driven marshal grids).

func newTestSystem(t *testing.T) *ActorSystem {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SchedulerWorkers = 2
	sys := NewActorSystemWithConfig(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sys.Shutdown(ctx)
	})
	return sys
}

// calculator arm shape: a two-int "add" request, replying with their sum.
func addArm() Arm {
	return Arm{
		Shape: []reflect.Type{intType, intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			a, _ := msg.At(0)
			b, _ := msg.At(1)
			return NewPayload(a.(int) + b.(int)), nil
		},
	}
}

// TestCalculatorRequest covers the "calculator request" seed scenario: a
// Go caller Asks an EventActor for a sum and receives the correlated reply.
func TestCalculatorRequest(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	calc := sys.SpawnEventActor(NewBehavior(addArm()))

	future := calc.Ask(context.Background(), NewPayload(2, 3), false)
	result := future.Await(context.Background())

	sum, err := result.Unpack()
	require.NoError(t, err)
	v, _ := sum.At(0)
	require.Equal(t, 5, v)
}

// TestMirrorActor covers the "mirror" scenario: an actor Tells another
// actor's payload straight back to whichever address sent it, using the
// ledger-based Request/replyTo path rather than a direct Ask.
func TestMirrorActor(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)

	mirror := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			return msg, nil
		},
	}))

	caller := sys.SpawnEventActor(NewBehavior())
	rt := caller.runtime

	fut := rt.Request(mirror.Address(), NewPayload(7), time.Second)
	result := fut.Await(context.Background())

	reply, err := result.Unpack()
	require.NoError(t, err)
	v, _ := reply.At(0)
	require.Equal(t, 7, v)
}

// TestDelayedSend covers the "delayed send" scenario: ActorRuntime.DelayedSend
// schedules a message that only arrives after its deadline elapses.
func TestDelayedSend(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)

	received := make(chan int, 1)
	target := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{intType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			v, _ := msg.At(0)
			received <- v.(int)
			return nil, nil
		},
	}))

	sender := sys.SpawnEventActor(NewBehavior())
	start := time.Now()
	sender.runtime.DelayedSend(50*time.Millisecond, target.Address(), NewPayload(99))

	select {
	case v := <-received:
		require.Equal(t, 99, v)
		require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed message never arrived")
	}
}

// TestLinkExitPropagation covers the "link exit propagation" scenario: when
// a linked actor terminates with a fault, its peer receives an
// ExitNotification whose reason is a fault.
func TestLinkExitPropagation(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)

	notified := make(chan ExitReason, 1)
	watcher := sys.SpawnEventActor(NewBehavior(Arm{
		Shape: []reflect.Type{exitNotificationType},
		Handle: func(ctx context.Context, msg Payload) (Payload, error) {
			v, _ := msg.At(0)
			notified <- v.(ExitNotification).Reason
			return nil, nil
		},
	}))

	victim := sys.SpawnEventActor(NewBehavior())
	linkTo(watcher.cb, victim.cb)

	victim.Stop(Kill())

	select {
	case reason := <-notified:
		require.True(t, reason.IsFault())
	case <-time.After(time.Second):
		t.Fatal("linked exit notification never arrived")
	}
}

// TestGroupBroadcast covers the "group broadcast" scenario: every
// subscriber of a group receives a payload forwarded through Broadcast.
func TestGroupBroadcast(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t)
	group := sys.Groups().GetOrCreate("local", "room-1")

	const n = 3
	got := make(chan int, n)
	for i := 0; i < n; i++ {
		ea := sys.SpawnEventActor(NewBehavior(Arm{
			Shape: []reflect.Type{intType},
			Handle: func(ctx context.Context, msg Payload) (Payload, error) {
				v, _ := msg.At(0)
				got <- v.(int)
				return nil, nil
			},
		}))
		group.Join(ea.Address())
	}

	delivered := group.Broadcast(NewPayload(42))
	require.Equal(t, n, delivered)

	for i := 0; i < n; i++ {
		select {
		case v := <-got:
			require.Equal(t, 42, v)
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the broadcast", i)
		}
	}
}

// TestShutdownQuiescence covers the "shutdown quiescence" scenario:
// Shutdown stops every spawned EventActor/BlockingActor and returns nil once
// they've all exited, well within the context deadline.
func TestShutdownQuiescence(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.SchedulerWorkers = 2
	sys := NewActorSystemWithConfig(cfg)

	for i := 0; i < 5; i++ {
		sys.SpawnEventActor(NewBehavior())
	}
	ba := sys.SpawnBlockingActor()
	go func() {
		_ = ba.Receive(context.Background(), NewBehavior())
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sys.Shutdown(ctx))

	require.False(t, ba.cb.IsAlive())
}
