package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"taxScope/internal/model"
)

// JsonlStorage appends pipeline records to JSONL files.
type JsonlStorage struct {
	mu  sync.Mutex
	dir string
	txs string
}

// NewJsonlStorage writes result files under dir and raw transactions to txPath.
func NewJsonlStorage(dir, txPath string) *JsonlStorage {
	return &JsonlStorage{dir: dir, txs: txPath}
}

// PutTransactions appends raw transactions to the transaction file.
func (s *JsonlStorage) PutTransactions(_ context.Context, txs []model.RawTransaction) error {
	if s.txs == "" {
		return fmt.Errorf("transaction path is empty")
	}
	return appendAll(&s.mu, s.txs, txs)
}

// PutRealized appends realized events to realized.jsonl.
func (s *JsonlStorage) PutRealized(_ context.Context, events []model.RealizedEvent) error {
	return appendAll(&s.mu, filepath.Join(s.dir, "realized.jsonl"), events)
}

// PutIncome appends income events to income.jsonl.
func (s *JsonlStorage) PutIncome(_ context.Context, events []model.IncomeEvent) error {
	return appendAll(&s.mu, filepath.Join(s.dir, "income.jsonl"), events)
}

// PutReview appends review items to review.jsonl.
func (s *JsonlStorage) PutReview(_ context.Context, items []model.ReviewItem) error {
	return appendAll(&s.mu, filepath.Join(s.dir, "review.jsonl"), items)
}

func appendAll[T any](mu *sync.Mutex, path string, values []T) error {
	if len(values) == 0 {
		return nil
	}

	mu.Lock()
	defer mu.Unlock()

	writer, err := NewJSONLWriter(path, true)
	if err != nil {
		return err
	}
	for _, value := range values {
		if err := writer.Write(value); err != nil {
			writer.Close()
			return err
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}
