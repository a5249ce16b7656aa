package storage

import (
	"context"

	"taxScope/internal/model"
)

// TransactionSink receives raw transactions from the ingester.
type TransactionSink interface {
	PutTransactions(ctx context.Context, txs []model.RawTransaction) error
}

// ResultSink receives the ledger outputs of one wallet run.
type ResultSink interface {
	PutRealized(ctx context.Context, events []model.RealizedEvent) error
	PutIncome(ctx context.Context, events []model.IncomeEvent) error
	PutReview(ctx context.Context, items []model.ReviewItem) error
}

// ResultSinks fans results out to several sinks, in order.
type ResultSinks []ResultSink

func (s ResultSinks) PutRealized(ctx context.Context, events []model.RealizedEvent) error {
	for _, sink := range s {
		if err := sink.PutRealized(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (s ResultSinks) PutIncome(ctx context.Context, events []model.IncomeEvent) error {
	for _, sink := range s {
		if err := sink.PutIncome(ctx, events); err != nil {
			return err
		}
	}
	return nil
}

func (s ResultSinks) PutReview(ctx context.Context, items []model.ReviewItem) error {
	for _, sink := range s {
		if err := sink.PutReview(ctx, items); err != nil {
			return err
		}
	}
	return nil
}
