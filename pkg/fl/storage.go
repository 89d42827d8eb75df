package fl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sync"

	pkgerrors "github.com/absmach/fedrepair/pkg/errors"
)

// Ledger persists round bookkeeping and the policy updates issued so far so
// an aggregator can resume and redeliver after a restart.
type Ledger interface {
	SaveRound(ctx context.Context, state RoundState) error
	Round(ctx context.Context, round uint64) (RoundState, error)
	SaveUpdate(ctx context.Context, update GlobalPolicyUpdate) error
	Update(ctx context.Context, round uint64) (GlobalPolicyUpdate, error)
	LatestUpdate(ctx context.Context) (GlobalPolicyUpdate, error)
}

// FileLedger keeps one JSON document per round and per update on disk.
type FileLedger struct {
	roundsDir  string
	updatesDir string
	mu         sync.RWMutex
}

var _ Ledger = (*FileLedger)(nil)

func NewFileLedger(dir string) (*FileLedger, error) {
	roundsDir := filepath.Join(dir, "rounds")
	updatesDir := filepath.Join(dir, "updates")
	if err := os.MkdirAll(roundsDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create rounds directory: %w", err)
	}
	if err := os.MkdirAll(updatesDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create updates directory: %w", err)
	}

	return &FileLedger{
		roundsDir:  roundsDir,
		updatesDir: updatesDir,
	}, nil
}

func (l *FileLedger) SaveRound(_ context.Context, state RoundState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return writeJSON(filepath.Join(l.roundsDir, fmt.Sprintf("round_%d.json", state.Round)), state)
}

func (l *FileLedger) Round(_ context.Context, round uint64) (RoundState, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var state RoundState
	err := readJSON(filepath.Join(l.roundsDir, fmt.Sprintf("round_%d.json", round)), &state)

	return state, err
}

func (l *FileLedger) SaveUpdate(_ context.Context, update GlobalPolicyUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	return writeJSON(filepath.Join(l.updatesDir, fmt.Sprintf("update_%d.json", update.Round)), update)
}

func (l *FileLedger) Update(_ context.Context, round uint64) (GlobalPolicyUpdate, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var update GlobalPolicyUpdate
	err := readJSON(filepath.Join(l.updatesDir, fmt.Sprintf("update_%d.json", round)), &update)

	return update, err
}

func (l *FileLedger) LatestUpdate(ctx context.Context) (GlobalPolicyUpdate, error) {
	rounds, err := l.listUpdates()
	if err != nil {
		return GlobalPolicyUpdate{}, err
	}
	if len(rounds) == 0 {
		return GlobalPolicyUpdate{}, pkgerrors.ErrNotFound
	}

	return l.Update(ctx, slices.Max(rounds))
}

func (l *FileLedger) listUpdates() ([]uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries, err := os.ReadDir(l.updatesDir)
	if err != nil {
		return nil, err
	}

	var rounds []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		var round uint64
		if _, err := fmt.Sscanf(entry.Name(), "update_%d.json", &round); err == nil {
			rounds = append(rounds, round)
		}
	}

	return rounds, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", filepath.Base(path), err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}

	return os.Rename(tmp, path)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return pkgerrors.ErrNotFound
		}

		return fmt.Errorf("failed to read %s: %w", filepath.Base(path), err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", filepath.Base(path), err)
	}

	return nil
}
