package db

import (
	"context"
	"database/sql"
	"log/slog"
)

// Store wraps the BaseDB with transaction support and additional
// business logic methods. It provides the TransactionExecutor for automatic
// retry on serialization errors.
type Store struct {
	*BaseDB

	// txExecutor handles transactional operations with automatic retry.
	txExecutor *TransactionExecutor[*Queries]

	log *slog.Logger
}

// NewStore creates a new Store instance wrapping the given database
// connection.
func NewStore(db *sql.DB) *Store {
	return NewStoreWithLogger(db, slog.Default())
}

// NewStoreWithLogger creates a new Store instance with a custom logger.
func NewStoreWithLogger(db *sql.DB, log *slog.Logger) *Store {
	baseDB := NewBaseDB(db)

	// Create query creator function for transaction executor.
	createQuery := func(tx *sql.Tx) *Queries {
		return New(tx)
	}

	return &Store{
		BaseDB: baseDB,
		txExecutor: NewTransactionExecutor(
			baseDB, createQuery, log,
		),
		log: log,
	}
}

// Queries returns the underlying Queries for direct access to the
// dead-letter and group-membership query methods.
func (s *Store) Queries() *Queries {
	return s.BaseDB.Queries
}

// ExecTx executes the given function within a database transaction with
// automatic retry on serialization errors. This is the preferred method for
// transactional operations.
func (s *Store) ExecTx(ctx context.Context, txOptions TxOptions,
	txBody func(*Queries) error,
) error {
	return s.txExecutor.ExecTx(ctx, txOptions, txBody)
}

// TxFunc is the function signature for transaction callbacks. The callback
// receives a Queries instance bound to the transaction.
type TxFunc func(ctx context.Context, q *Queries) error

// WithTx executes the given function within a database transaction with
// automatic retry on serialization errors. If the function returns an error,
// the transaction is rolled back. Otherwise, it is committed.
func (s *Store) WithTx(ctx context.Context, fn TxFunc) error {
	return s.ExecTx(ctx, WriteTxOption(), func(q *Queries) error {
		return fn(ctx, q)
	})
}

// WithReadTx executes the given function within a read-only database
// transaction. This is more efficient for read-only operations.
func (s *Store) WithReadTx(ctx context.Context, fn TxFunc) error {
	return s.ExecTx(ctx, ReadTxOption(), func(q *Queries) error {
		return fn(ctx, q)
	})
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.BaseDB.Close()
}

// DB returns the underlying database connection. This method exists for
// compatibility with code that expects a DB() method.
func (s *Store) DB() *sql.DB {
	return s.BaseDB.DB
}

// TxFuncResult is the function signature for transaction callbacks that return
// a value. The callback receives a Queries instance bound to the transaction.
type TxFuncResult[T any] func(ctx context.Context, q *Queries) (T, error)

// WithTxResult executes the given function within a database transaction and
// returns the result. If the function returns an error, the transaction is
// rolled back. Otherwise, it is committed and the result is returned.
func WithTxResult[T any](s *Store, ctx context.Context,
	fn TxFuncResult[T],
) (T, error) {
	var result T

	err := s.ExecTx(ctx, WriteTxOption(), func(q *Queries) error {
		var err error
		result, err = fn(ctx, q)
		return err
	})

	return result, err
}

// WithReadTxResult executes the given function within a read-only database
// transaction and returns the result.
func WithReadTxResult[T any](s *Store, ctx context.Context,
	fn TxFuncResult[T],
) (T, error) {
	var result T

	err := s.ExecTx(ctx, ReadTxOption(), func(q *Queries) error {
		var err error
		result, err = fn(ctx, q)
		return err
	})

	return result, err
}

// RecordDeadLetter persists one undeliverable payload. The actor core's
// payloadDeadLetters sink (internal/actor/system.go) calls this through a
// DeadLetterRecorder so a restarted node can still answer "what got dropped
// while I was running."
func (s *Store) RecordDeadLetter(ctx context.Context, fromActor int64,
	shape, reason string, occurredAt int64,
) error {
	return s.WithTx(ctx, func(ctx context.Context, q *Queries) error {
		_, err := q.InsertDeadLetter(ctx, InsertDeadLetterParams{
			FromActor:  fromActor,
			Shape:      shape,
			Reason:     reason,
			OccurredAt: occurredAt,
		})
		return err
	})
}

// RehydrateGroup loads the persisted subscriber rows for (module,
// identifier), used to repopulate a Group after a restart.
func (s *Store) RehydrateGroup(ctx context.Context, module,
	identifier string,
) ([]GroupMember, error) {
	var members []GroupMember
	err := s.WithReadTx(ctx, func(ctx context.Context, q *Queries) error {
		var err error
		members, err = q.ListGroupMembers(ctx, module, identifier)
		return err
	})
	return members, err
}

// UpsertGroupMember implements actor.GroupPersister, recording one group
// subscriber so it survives a restart.
func (s *Store) UpsertGroupMember(ctx context.Context, module,
	identifier string, actorID uint64, nodeHost []byte, nodeProc uint32,
	joinedAt int64,
) error {
	return s.WithTx(ctx, func(ctx context.Context, q *Queries) error {
		return q.UpsertGroupMember(ctx, UpsertGroupMemberParams{
			Module:     module,
			Identifier: identifier,
			ActorID:    int64(actorID),
			NodeHost:   nodeHost,
			NodeProc:   int64(nodeProc),
			JoinedAt:   joinedAt,
		})
	})
}

// DeleteGroupMember implements actor.GroupPersister, removing one group
// subscriber's persisted row.
func (s *Store) DeleteGroupMember(ctx context.Context, module,
	identifier string, actorID uint64,
) error {
	return s.WithTx(ctx, func(ctx context.Context, q *Queries) error {
		return q.DeleteGroupMember(ctx, DeleteGroupMemberParams{
			Module:     module,
			Identifier: identifier,
			ActorID:    int64(actorID),
		})
	})
}
