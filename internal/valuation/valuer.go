package valuation

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taxScope/internal/model"
	"taxScope/internal/pricing"
)

// PriceResolver is the part of pricing.Resolver the valuation stage needs.
type PriceResolver interface {
	Price(ctx context.Context, req model.PriceRequest) (model.PriceQuote, error)
}

// Valuer attaches USD prices to classified transactions.
type Valuer struct {
	resolver PriceResolver
	workers  int
	logger   *zap.Logger
}

// NewValuer builds a valuer. workers bounds ValueAll concurrency (minimum 1).
func NewValuer(resolver PriceResolver, workers int, logger *zap.Logger) *Valuer {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Valuer{resolver: resolver, workers: workers, logger: logger}
}

// Value prices every asset movement of ct at the transaction timestamp. Position
// movements are not valued. When any movement cannot be priced the result is
// flagged NeedsManualPrice and lists the unpriced tokens.
func (v *Valuer) Value(ctx context.Context, ct model.ClassifiedTransaction) model.ValuedTransaction {
	out := model.ValuedTransaction{Classified: ct}
	ts := ct.Tx.Time()

	for _, mv := range ct.Movements {
		if mv.Kind == model.KindPosition {
			continue
		}
		vm := model.ValuedMovement{
			AssetMovement: mv,
			Wallet:        ct.Tx.Wallet,
			TxHash:        ct.Tx.Hash,
			Timestamp:     ts,
			BlockNumber:   ct.Tx.BlockNumber,
			Category:      ct.Category,
		}

		quote, err := v.resolver.Price(ctx, model.PriceRequest{Token: mv.Token, Timestamp: ts, BlockNumber: ct.Tx.BlockNumber})
		if err != nil {
			if !errors.Is(err, pricing.ErrPriceUnavailable) {
				v.logger.Warn("price lookup failed",
					zap.String("tx", ct.Tx.Hash),
					zap.String("token", mv.Token),
					zap.Error(err),
				)
			}
			out.NeedsManualPrice = true
			out.Unpriced = append(out.Unpriced, mv.Token)
			out.Movements = append(out.Movements, vm)
			continue
		}

		vm.PriceUSD = quote.PriceUSD
		vm.ValueUSD = mv.Amount.Mul(quote.PriceUSD)
		vm.PriceSource = quote.Source
		out.Movements = append(out.Movements, vm)
	}
	return out
}

// ValueAll values txs concurrently and returns results in input order. It only
// fails when ctx is cancelled.
func (v *Valuer) ValueAll(ctx context.Context, txs []model.ClassifiedTransaction) ([]model.ValuedTransaction, error) {
	out := make([]model.ValuedTransaction, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range txs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = v.Value(gctx, txs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// ValueFee prices the native fee of ct at the transaction timestamp. It reports
// false when the wallet paid no fee. An unpriced fee keeps its quantity and is
// flagged rather than dropped.
func (v *Valuer) ValueFee(ctx context.Context, ct model.ClassifiedTransaction) (model.FeeEvent, bool) {
	if !ct.Fee.IsPositive() {
		return model.FeeEvent{}, false
	}
	ev := model.FeeEvent{
		Wallet:   ct.Tx.Wallet,
		TxHash:   ct.Tx.Hash,
		PaidAt:   ct.Tx.Time(),
		Category: ct.Category,
		Quantity: ct.Fee,
		Reverted: !ct.Tx.Succeeded(),
	}
	quote, err := v.resolver.Price(ctx, model.PriceRequest{Token: model.NativeToken, Timestamp: ev.PaidAt, BlockNumber: ct.Tx.BlockNumber})
	if err != nil {
		if !errors.Is(err, pricing.ErrPriceUnavailable) {
			v.logger.Warn("fee price lookup failed", zap.String("tx", ct.Tx.Hash), zap.Error(err))
		}
		ev.Unpriced = true
		return ev, true
	}
	ev.PriceUSD = quote.PriceUSD
	ev.ValueUSD = ct.Fee.Mul(quote.PriceUSD)
	ev.PriceSource = quote.Source
	return ev, true
}

// ValueFees prices the fees of txs concurrently, keeping input order and
// skipping transactions without a fee.
func (v *Valuer) ValueFees(ctx context.Context, txs []model.ClassifiedTransaction) ([]model.FeeEvent, error) {
	events := make([]model.FeeEvent, len(txs))
	paid := make([]bool, len(txs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)
	for i := range txs {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			events[i], paid[i] = v.ValueFee(gctx, txs[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make([]model.FeeEvent, 0, len(txs))
	for i, ok := range paid {
		if ok {
			out = append(out, events[i])
		}
	}
	return out, nil
}
