package db

import (
	"context"
	"database/sql"
)

// DBTX abstracts over *sql.DB and *sql.Tx so Queries can run either inside or
// outside a transaction, matching the shape sqlc generates for its own
// Queries type (see store.go's TransactionExecutor[*Queries] wiring).
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries is the actor-domain persistence surface: dead letters and group
// membership, the two pieces of durable state the actor core (internal/actor)
// produces that are worth surviving a process restart. Everything else about
// an actor's state is, by spec.md §3's design, transient and in-memory.
type Queries struct {
	db DBTX
}

// New builds a Queries bound to db, which may be a *sql.DB for standalone
// calls or a *sql.Tx when run through Store.ExecTx.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// DeadLetter is a single undeliverable payload recorded by the actor core's
// dead-letter sink.
type DeadLetter struct {
	ID         int64
	FromActor  int64
	Shape      string
	Reason     string
	OccurredAt int64
}

// InsertDeadLetterParams holds the fields for InsertDeadLetter.
type InsertDeadLetterParams struct {
	FromActor  int64
	Shape      string
	Reason     string
	OccurredAt int64
}

// InsertDeadLetter records one undeliverable payload.
func (q *Queries) InsertDeadLetter(ctx context.Context,
	arg InsertDeadLetterParams,
) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		INSERT INTO dead_letters (from_actor, shape, reason, occurred_at)
		VALUES (?, ?, ?, ?)
	`, arg.FromActor, arg.Shape, arg.Reason, arg.OccurredAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListDeadLetters returns the most recent dead letters, newest first, capped
// at limit rows.
func (q *Queries) ListDeadLetters(ctx context.Context, limit int64) ([]DeadLetter, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, from_actor, shape, reason, occurred_at
		FROM dead_letters
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(
			&d.ID, &d.FromActor, &d.Shape, &d.Reason, &d.OccurredAt,
		); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// GroupMember is a single row of a group's persisted subscriber set.
type GroupMember struct {
	Module     string
	Identifier string
	ActorID    int64
	NodeHost   []byte
	NodeProc   int64
	JoinedAt   int64
}

// UpsertGroupMemberParams holds the fields for UpsertGroupMember.
type UpsertGroupMemberParams struct {
	Module     string
	Identifier string
	ActorID    int64
	NodeHost   []byte
	NodeProc   int64
	JoinedAt   int64
}

// UpsertGroupMember records subscriber as a member of (module, identifier),
// replacing any stale row for the same actor id.
func (q *Queries) UpsertGroupMember(ctx context.Context,
	arg UpsertGroupMemberParams,
) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO group_members
			(module, identifier, actor_id, node_host, node_proc, joined_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (module, identifier, actor_id) DO UPDATE SET
			node_host = excluded.node_host,
			node_proc = excluded.node_proc,
			joined_at = excluded.joined_at
	`, arg.Module, arg.Identifier, arg.ActorID, arg.NodeHost, arg.NodeProc,
		arg.JoinedAt)
	return err
}

// DeleteGroupMemberParams holds the fields for DeleteGroupMember.
type DeleteGroupMemberParams struct {
	Module     string
	Identifier string
	ActorID    int64
}

// DeleteGroupMember removes one subscriber from a group's persisted set.
func (q *Queries) DeleteGroupMember(ctx context.Context,
	arg DeleteGroupMemberParams,
) error {
	_, err := q.db.ExecContext(ctx, `
		DELETE FROM group_members
		WHERE module = ? AND identifier = ? AND actor_id = ?
	`, arg.Module, arg.Identifier, arg.ActorID)
	return err
}

// ListGroupMembers returns every persisted subscriber of (module, identifier),
// used to rehydrate a Group's subscriber set on restart.
func (q *Queries) ListGroupMembers(ctx context.Context, module,
	identifier string,
) ([]GroupMember, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT module, identifier, actor_id, node_host, node_proc, joined_at
		FROM group_members
		WHERE module = ? AND identifier = ?
	`, module, identifier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(
			&m.Module, &m.Identifier, &m.ActorID, &m.NodeHost, &m.NodeProc,
			&m.JoinedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
