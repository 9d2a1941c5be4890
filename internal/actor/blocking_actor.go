package actor

import (
	"context"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/fn/v2"
)

// BlockingActor is bound to its own dedicated goroutine rather than the
// scheduler's worker pool (spec.md §4.14, component C14): its receive
// calls block the goroutine directly on the mailbox's non-empty condition
// (or a timeout), instead of yielding back to a shared worker between
// dispatches. It shares the same control block (C6), priority mailbox
// (C5), and request ledger (C8) machinery as EventActor; only the
// execution model differs.
type BlockingActor struct {
	cb      *controlBlock
	mailbox *priorityMailbox
	ledger  *requestLedger
	timers  *TimerService
	dlo     *controlBlock

	quit     chan struct{}
	stopOnce sync.Once
}

// BlockingActorConfig mirrors EventActorConfig, minus Scheduler (a
// BlockingActor never touches the scheduler) and Initial (a blocking
// actor's body is an arbitrary Go function, not an installed Behavior —
// spec.md §6 "factory is ... an object providing an act() method" for the
// blocking case).
type BlockingActorConfig struct {
	Timers     *TimerService
	MailboxCap int
	DeadLetter *controlBlock
}

// NewBlockingActor allocates a control block and mailbox for a blocking
// actor. The caller is responsible for starting a goroutine that runs its
// own body and calls Receive/ReceiveWhile/ReceiveFor against the returned
// *BlockingActor (spec.md §4.14's act()).
func NewBlockingActor(cfg BlockingActorConfig) *BlockingActor {
	cb := newControlBlock()
	ba := &BlockingActor{
		cb:      cb,
		mailbox: newPriorityMailbox(cfg.MailboxCap),
		ledger:  newRequestLedger(cfg.Timers),
		timers:  cfg.Timers,
		dlo:     cfg.DeadLetter,
		quit:    make(chan struct{}),
	}
	cb.enqueueFn = func(env mailboxEnvelope) error {
		return ba.enqueue(env)
	}
	cb.markRunning()
	return ba
}

// Address returns this actor's address.
func (ba *BlockingActor) Address() Address {
	return ba.cb.addr
}

func (ba *BlockingActor) enqueue(env mailboxEnvelope) error {
	switch {
	case env.id.Kind() == KindResponse:
		return ba.mailbox.enqueueAwaited(env)
	case env.id.Urgent():
		return ba.mailbox.enqueueUrgent(env)
	default:
		return ba.mailbox.enqueueNormal(env)
	}
}

// Receive pops exactly one envelope, blocking until one is available or
// the actor is stopped, dispatches it through b, and returns (spec.md
// §4.14 "receive(behavior) pops one message ... dispatches it, and
// returns"). A KindResponse envelope is resolved against the request
// ledger instead of being dispatched to b, matching EventActor's dispatch
// rule, and Receive loops internally to fetch the next real message in
// that case.
func (ba *BlockingActor) Receive(ctx context.Context, b *Behavior) error {
	for {
		env, ok := ba.mailbox.waitForWork(ba.quit)
		if !ok {
			return ErrActorTerminated
		}

		if env.id.Kind() == KindResponse {
			if !ba.ledger.resolveResponse(env.id, env.payload) && ba.dlo != nil {
				_ = ba.dlo.enqueue(env)
			}
			continue
		}

		dispatchCtx := ctx
		if env.callerCtx != nil {
			dispatchCtx = env.callerCtx
		}

		result, _, err := b.Match(dispatchCtx, env.payload)

		if env.reply != nil {
			if err != nil {
				env.reply.Complete(fn.Err[Payload](err))
			} else {
				env.reply.Complete(fn.Ok(result))
			}
		} else if env.id.Kind() == KindRequest && !env.replyTo.IsZero() {
			respPayload := result
			if respPayload == nil {
				respPayload = NewPayload()
			}
			if targetCB := env.replyTo.resolveControlBlock(); targetCB != nil {
				_ = targetCB.enqueue(mailboxEnvelope{
					payload: respPayload,
					id:      env.id.AsResponse(),
				})
			}
		}

		return nil
	}
}

// ReceiveWhile repeatedly calls Receive until pred returns false or the
// actor stops (spec.md §4.14 "receive_while ... constructed on top of
// receive").
func (ba *BlockingActor) ReceiveWhile(ctx context.Context, b *Behavior, pred func() bool) error {
	for pred() {
		if err := ba.Receive(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// ReceiveFor calls Receive in a loop until d elapses, returning
// ErrTimerDisposed if the deadline is reached with no further messages
// delivered in that window (spec.md §4.14 "receive_for").
func (ba *BlockingActor) ReceiveFor(ctx context.Context, b *Behavior, d time.Duration) error {
	deadlineCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	for {
		err := ba.Receive(deadlineCtx, b)
		if err != nil {
			if deadlineCtx.Err() != nil {
				return ErrTimerDisposed
			}
			return err
		}
		if deadlineCtx.Err() != nil {
			return nil
		}
	}
}

// Request sends payload to target and blocks until the correlated response
// arrives or timeout elapses, using the same ledger-based correlation
// EventActor's ActorRuntime.Request uses.
func (ba *BlockingActor) Request(target Address, payload Payload, timeout time.Duration) fn.Result[Payload] {
	reqID := NewMessageID(false, KindRequest, nextSequence())
	future := ba.ledger.register(reqID, timeout)

	targetCB := target.resolveControlBlock()
	if targetCB == nil {
		ba.ledger.resolve(reqID.Sequence(), fn.Err[Payload](ErrNoSuchActor))
	} else if err := targetCB.enqueue(mailboxEnvelope{
		payload: payload, id: reqID, replyTo: ba.cb.addr,
	}); err != nil {
		ba.ledger.resolve(reqID.Sequence(), fn.Err[Payload](err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout+time.Second)
	defer cancel()
	return future.Await(ctx)
}

// Stop terminates the blocking actor: it wakes any goroutine parked in
// Receive's waitForWork, drains the mailbox to dead letters, and finalizes
// the control block with reason.
func (ba *BlockingActor) Stop(reason ExitReason) {
	ba.stopOnce.Do(func() {
		close(ba.quit)
		ba.mailbox.close()
		ba.ledger.cancelAll()

		for _, env := range ba.mailbox.drain() {
			if env.reply != nil {
				env.reply.Complete(fn.Err[Payload](ErrActorTerminated))
				continue
			}
			if ba.dlo != nil {
				_ = ba.dlo.enqueue(env)
			}
		}

		triggerExit(ba.cb, reason)
	})
}
