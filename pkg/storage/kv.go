package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
	"github.com/absmach/fedrepair/pkg/fl"
	"github.com/absmach/fedrepair/pkg/scheduler"
)

const (
	resultsPrefix = "results/"
	roundsPrefix  = "rounds/"
	updatesPrefix = "updates/"
)

// roundKey zero pads so lexical key order is numeric round order.
func roundKey(prefix string, round uint64) string {
	return fmt.Sprintf("%s%020d", prefix, round)
}

type kvResults struct {
	kv Storage
}

func NewResultRepository(kv Storage) ResultRepository {
	return &kvResults{kv: kv}
}

func (r *kvResults) Save(ctx context.Context, res scheduler.Result) error {
	if res.TaskID == "" {
		return pkgerrors.ErrEmptyKey
	}

	data, err := json.Marshal(res)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	return r.kv.Put(ctx, resultsPrefix+res.TaskID, data)
}

func (r *kvResults) Get(ctx context.Context, taskID string) (scheduler.Result, error) {
	if taskID == "" {
		return scheduler.Result{}, pkgerrors.ErrEmptyKey
	}

	data, err := r.kv.Get(ctx, resultsPrefix+taskID)
	if err != nil {
		return scheduler.Result{}, err
	}

	return decode[scheduler.Result](data)
}

func (r *kvResults) List(ctx context.Context, offset, limit uint64) ([]scheduler.Result, uint64, error) {
	raw, total, err := r.kv.List(ctx, resultsPrefix, offset, limit)
	if err != nil {
		return nil, 0, err
	}

	results := make([]scheduler.Result, 0, len(raw))
	for _, data := range raw {
		res, err := decode[scheduler.Result](data)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, res)
	}

	return results, total, nil
}

type kvLedger struct {
	kv Storage
}

var _ fl.Ledger = (*kvLedger)(nil)

func NewLedger(kv Storage) fl.Ledger {
	return &kvLedger{kv: kv}
}

func (l *kvLedger) SaveRound(ctx context.Context, state fl.RoundState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	return l.kv.Put(ctx, roundKey(roundsPrefix, state.Round), data)
}

func (l *kvLedger) Round(ctx context.Context, round uint64) (fl.RoundState, error) {
	data, err := l.kv.Get(ctx, roundKey(roundsPrefix, round))
	if err != nil {
		return fl.RoundState{}, err
	}

	return decode[fl.RoundState](data)
}

// SaveUpdate keeps the first update recorded for a round; issued updates are
// immutable.
func (l *kvLedger) SaveUpdate(ctx context.Context, update fl.GlobalPolicyUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return errors.Join(ErrEncode, err)
	}

	err = l.kv.Create(ctx, roundKey(updatesPrefix, update.Round), data)
	if errors.Is(err, pkgerrors.ErrEntityExists) {
		return nil
	}

	return err
}

func (l *kvLedger) Update(ctx context.Context, round uint64) (fl.GlobalPolicyUpdate, error) {
	data, err := l.kv.Get(ctx, roundKey(updatesPrefix, round))
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}

	return decode[fl.GlobalPolicyUpdate](data)
}

func (l *kvLedger) LatestUpdate(ctx context.Context) (fl.GlobalPolicyUpdate, error) {
	_, total, err := l.kv.List(ctx, updatesPrefix, 0, 0)
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}
	if total == 0 {
		return fl.GlobalPolicyUpdate{}, pkgerrors.ErrNotFound
	}

	raw, _, err := l.kv.List(ctx, updatesPrefix, total-1, 1)
	if err != nil {
		return fl.GlobalPolicyUpdate{}, err
	}
	if len(raw) == 0 {
		return fl.GlobalPolicyUpdate{}, pkgerrors.ErrNotFound
	}

	return decode[fl.GlobalPolicyUpdate](raw[0])
}

func decode[T any](data []byte) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return v, errors.Join(ErrDecode, err)
	}

	return v, nil
}
