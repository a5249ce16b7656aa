package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Checkpoint tracks the last fully ingested block per wallet.
type Checkpoint struct {
	Wallets   map[string]uint64 `json:"wallets"`
	UpdatedAt string            `json:"updated_at"`
}

// CheckpointStore persists the ingest checkpoint to one JSON file.
type CheckpointStore struct {
	path    string
	enabled bool

	mu      sync.Mutex
	current Checkpoint
	loaded  bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != ""}
}

// LastBlock returns the last ingested block for wallet.
func (c *CheckpointStore) LastBlock(wallet string) (uint64, bool, error) {
	if !c.enabled {
		return 0, false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		return 0, false, err
	}
	block, ok := c.current.Wallets[wallet]
	return block, ok, nil
}

func (c *CheckpointStore) load() error {
	if c.loaded {
		return nil
	}
	c.current = Checkpoint{Wallets: make(map[string]uint64)}

	stat, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			c.loaded = true
			return nil
		}
		return fmt.Errorf("stat checkpoint: %w", err)
	}
	if stat.IsDir() {
		return fmt.Errorf("checkpoint path is a directory")
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("read checkpoint: %w", err)
	}
	if err := json.Unmarshal(data, &c.current); err != nil {
		return fmt.Errorf("parse checkpoint: %w", err)
	}
	if c.current.Wallets == nil {
		c.current.Wallets = make(map[string]uint64)
	}
	c.loaded = true
	return nil
}

// Save records block as ingested for wallet and rewrites the file.
func (c *CheckpointStore) Save(wallet string, block uint64) error {
	if !c.enabled {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.load(); err != nil {
		return err
	}

	dir := filepath.Dir(c.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	c.current.Wallets[wallet] = block
	c.current.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(c.current)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}
