package receipts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Record is one confirmed on-chain write, kept for local audit. The session
// itself is never persisted; only receipts are.
type Record struct {
	Workflow  string    `json:"workflow"`
	GoalID    string    `json:"goalId,omitempty"`
	Account   string    `json:"account"`
	TxHash    string    `json:"txHash"`
	Status    uint64    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store abstracts receipt persistence.
type Store interface {
	Append(ctx context.Context, record Record) error
	List(ctx context.Context, limit int) ([]Record, error)
}

// MemoryStore is mostly for testing.
type MemoryStore struct {
	mu      sync.RWMutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(_ context.Context, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *MemoryStore) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lastN(m.records, limit), nil
}

// FileStore persists the journal to disk. Suitable for local use; can be
// swapped with Postgres via config.
type FileStore struct {
	path    string
	mu      sync.Mutex
	records []Record
}

func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (f *FileStore) load() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	blob, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if len(blob) == 0 {
		return nil
	}
	return json.Unmarshal(blob, &f.records)
}

func (f *FileStore) persist() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	blob, err := json.MarshalIndent(f.records, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, blob, 0o600)
}

func (f *FileStore) Append(_ context.Context, record Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
	return f.persist()
}

func (f *FileStore) List(_ context.Context, limit int) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return lastN(f.records, limit), nil
}

// lastN copies out the most recent records, newest last.
func lastN(records []Record, limit int) []Record {
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]Record, limit)
	copy(out, records[len(records)-limit:])
	return out
}
