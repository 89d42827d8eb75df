package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/scheduler"
	"github.com/jmoiron/sqlx"
)

// Queries are written with '?' placeholders and rebound for the driver, so
// the same repositories serve SQLite and PostgreSQL.

func newSQLRepositories(db *sqlx.DB, closer io.Closer) *Repositories {
	return &Repositories{
		Results: NewSQLResultRepository(db),
		Ledger:  NewSQLLedger(db),
		Closer:  closer,
	}
}

type dbResult struct {
	TaskID      string    `db:"task_id"`
	ClientID    string    `db:"client_id"`
	State       string    `db:"state"`
	Reason      string    `db:"reason"`
	Layer       int       `db:"layer"`
	PolicyRound int64     `db:"policy_round"`
	Data        []byte    `db:"data"`
	FinishedAt  time.Time `db:"finished_at"`
}

type sqlResults struct {
	db *sqlx.DB
}

func NewSQLResultRepository(db *sqlx.DB) ResultRepository {
	return &sqlResults{db: db}
}

func (r *sqlResults) Save(ctx context.Context, res scheduler.Result) error {
	if res.TaskID == "" {
		return pkgerrors.ErrEmptyKey
	}

	data, err := json.Marshal(res)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	query := r.db.Rebind(`INSERT INTO repair_results (task_id, client_id, state, reason, layer, policy_round, data, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (task_id) DO UPDATE SET
			client_id = excluded.client_id,
			state = excluded.state,
			reason = excluded.reason,
			layer = excluded.layer,
			policy_round = excluded.policy_round,
			data = excluded.data,
			finished_at = excluded.finished_at`)

	if _, err := r.db.ExecContext(ctx, query,
		res.TaskID, res.ClientID, res.State.String(), string(res.Reason),
		int(res.Layer), int64(res.PolicyRound), data, res.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}

func (r *sqlResults) Get(ctx context.Context, taskID string) (scheduler.Result, error) {
	if taskID == "" {
		return scheduler.Result{}, pkgerrors.ErrEmptyKey
	}

	var row dbResult
	query := r.db.Rebind(`SELECT task_id, client_id, state, reason, layer, policy_round, data, finished_at
		FROM repair_results WHERE task_id = ?`)
	if err := r.db.GetContext(ctx, &row, query, taskID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return scheduler.Result{}, pkgerrors.ErrNotFound
		}

		return scheduler.Result{}, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return decode[scheduler.Result](row.Data)
}

func (r *sqlResults) List(ctx context.Context, offset, limit uint64) ([]scheduler.Result, uint64, error) {
	var total uint64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM repair_results`); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	var rows []dbResult
	query := r.db.Rebind(`SELECT task_id, client_id, state, reason, layer, policy_round, data, finished_at
		FROM repair_results ORDER BY task_id LIMIT ? OFFSET ?`)
	if err := r.db.SelectContext(ctx, &rows, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	results := make([]scheduler.Result, 0, len(rows))
	for _, row := range rows {
		res, err := decode[scheduler.Result](row.Data)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}

	return results, total, nil
}

type sqlLedger struct {
	db *sqlx.DB
}

var _ fl.Ledger = (*sqlLedger)(nil)

func NewSQLLedger(db *sqlx.DB) fl.Ledger {
	return &sqlLedger{db: db}
}

func (l *sqlLedger) SaveRound(ctx context.Context, state fl.RoundState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	query := l.db.Rebind(`INSERT INTO fl_rounds (round, completed, deadline, data) VALUES (?, ?, ?, ?)
		ON CONFLICT (round) DO UPDATE SET
			completed = excluded.completed,
			deadline = excluded.deadline,
			data = excluded.data`)
	if _, err := l.db.ExecContext(ctx, query, int64(state.Round), state.Completed, state.Deadline.UTC(), data); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}

func (l *sqlLedger) Round(ctx context.Context, round uint64) (fl.RoundState, error) {
	var data []byte
	if err := l.db.GetContext(ctx, &data, l.db.Rebind(`SELECT data FROM fl_rounds WHERE round = ?`), int64(round)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.RoundState{}, pkgerrors.ErrNotFound
		}

		return fl.RoundState{}, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return decode[fl.RoundState](data)
}

func (l *sqlLedger) SaveUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	query := l.db.Rebind(`INSERT INTO fl_policy_updates (round, issued_at, data) VALUES (?, ?, ?)
		ON CONFLICT (round) DO NOTHING`)
	if _, err := l.db.ExecContext(ctx, query, int64(update.Round), update.IssuedAt.UTC(), data); err != nil {
		return fmt.Errorf("%w: %w", ErrDBQuery, err)
	}

	return nil
}

func (l *sqlLedger) Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error) {
	return l.update(ctx, `SELECT data FROM fl_policy_updates WHERE round = ?`, int64(round))
}

func (l *sqlLedger) LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	return l.update(ctx, `SELECT data FROM fl_policy_updates ORDER BY round DESC LIMIT 1`)
}

func (l *sqlLedger) update(ctx context.Context, query string, args ...any) (fl.GlobalPolicyUpdate, error) {
	var data []byte
	if err := l.db.GetContext(ctx, &data, l.db.Rebind(query), args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fl.GlobalPolicyUpdate{}, pkgerrors.ErrNotFound
		}

		return fl.GlobalPolicyUpdate{}, fmt.Errorf("%w: %w", ErrDBScan, err)
	}

	return decode[fl.GlobalPolicyUpdate](data)
}
