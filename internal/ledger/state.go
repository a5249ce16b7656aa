package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"taxScope/internal/model"
	"taxScope/internal/storage/postgres"
)

// StateStore persists ledger checkpoints per wallet.
type StateStore interface {
	LoadCheckpoint(ctx context.Context, wallet string) (model.LedgerCheckpoint, bool, error)
	SaveCheckpoint(ctx context.Context, cp model.LedgerCheckpoint) error
}

// FileStateStore keeps one JSON checkpoint per wallet under Dir.
type FileStateStore struct {
	Dir string
}

func (s *FileStateStore) path(wallet string) string {
	return filepath.Join(s.Dir, strings.ToLower(wallet)+".json")
}

func (s *FileStateStore) LoadCheckpoint(ctx context.Context, wallet string) (model.LedgerCheckpoint, bool, error) {
	if s == nil || s.Dir == "" {
		return model.LedgerCheckpoint{}, false, nil
	}
	data, err := os.ReadFile(s.path(wallet))
	if err != nil {
		if os.IsNotExist(err) {
			return model.LedgerCheckpoint{}, false, nil
		}
		return model.LedgerCheckpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.LedgerCheckpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.LedgerCheckpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}

func (s *FileStateStore) SaveCheckpoint(ctx context.Context, cp model.LedgerCheckpoint) error {
	if s == nil || s.Dir == "" {
		return nil
	}
	if cp.Wallet == "" {
		return fmt.Errorf("checkpoint wallet required")
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	final := s.path(cp.Wallet)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}

// DBStateStore keeps checkpoints in the ledger_checkpoints table.
type DBStateStore struct {
	Store *postgres.Store
}

func (s *DBStateStore) LoadCheckpoint(ctx context.Context, wallet string) (model.LedgerCheckpoint, bool, error) {
	if s == nil || s.Store == nil {
		return model.LedgerCheckpoint{}, false, nil
	}
	return s.Store.LoadCheckpoint(ctx, wallet)
}

func (s *DBStateStore) SaveCheckpoint(ctx context.Context, cp model.LedgerCheckpoint) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveCheckpoint(ctx, cp)
}
