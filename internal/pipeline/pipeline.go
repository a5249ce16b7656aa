package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taxScope/internal/classify"
	"taxScope/internal/ledger"
	"taxScope/internal/model"
	"taxScope/internal/report"
	"taxScope/internal/storage"
	"taxScope/internal/valuation"
)

// Config controls a pipeline run.
type Config struct {
	Ledger      ledger.Config
	Concurrency int
}

// Deps are the stages a pipeline drives. State and Sink are optional.
type Deps struct {
	Classifier *classify.Classifier
	Valuer     *valuation.Valuer
	Assembler  *report.Assembler
	State      ledger.StateStore
	Sink       storage.ResultSink
	Logger     *zap.Logger
}

// TokenFailure is a wallet+token ledger run that was discarded.
type TokenFailure struct {
	Token  string
	TxHash string
	Err    error
}

// Result is the outcome of one wallet run. Realized, Income and Fees are the
// events this run produced; Report covers them together with every event of
// earlier runs restored from the checkpoint.
type Result struct {
	Wallet   string
	Report   model.TaxReport
	Realized []model.RealizedEvent
	Income   []model.IncomeEvent
	Fees     []model.FeeEvent
	Review   []model.ReviewItem
	Failures []TokenFailure
	// Skipped counts movements already applied by a restored checkpoint.
	Skipped int
}

// Pipeline turns raw wallet transactions into tax reports.
type Pipeline struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

func New(deps Deps, cfg Config) (*Pipeline, error) {
	if deps.Classifier == nil || deps.Valuer == nil || deps.Assembler == nil {
		return nil, fmt.Errorf("classifier, valuer and assembler are required")
	}
	if _, err := ledger.ParseMethod(string(cfg.Ledger.Method)); err != nil {
		return nil, err
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{deps: deps, cfg: cfg, logger: logger}, nil
}

// walletState is a wallet's restored ledgers and the events recorded with them.
type walletState struct {
	book    *ledger.Book
	history model.LedgerCheckpoint
}

// open builds the wallet's book and restores its checkpoint, if any.
func (p *Pipeline) open(ctx context.Context, wallet string) (*walletState, error) {
	book, err := ledger.NewBook(wallet, p.cfg.Ledger)
	if err != nil {
		return nil, err
	}
	st := &walletState{book: book}
	if p.deps.State == nil {
		return st, nil
	}
	cp, ok, err := p.deps.State.LoadCheckpoint(ctx, wallet)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if !ok {
		return st, nil
	}
	if err := book.Restore(cp); err != nil {
		return nil, fmt.Errorf("restore checkpoint: %w", err)
	}
	st.history = cp
	return st, nil
}

// Run groups txs by wallet and processes wallets concurrently. Every checkpoint
// is restored before any wallet starts, so a rejected checkpoint leaves all
// state and sinks untouched. Results are in ascending wallet order.
func (p *Pipeline) Run(ctx context.Context, txs []model.RawTransaction) ([]*Result, error) {
	byWallet := make(map[string][]model.RawTransaction)
	for _, tx := range txs {
		wallet := model.NormalizeAddress(tx.Wallet)
		if wallet == "" {
			continue
		}
		byWallet[wallet] = append(byWallet[wallet], tx)
	}
	wallets := make([]string, 0, len(byWallet))
	for wallet := range byWallet {
		wallets = append(wallets, wallet)
	}
	sort.Strings(wallets)

	states := make([]*walletState, len(wallets))
	for i, wallet := range wallets {
		st, err := p.open(ctx, wallet)
		if err != nil {
			return nil, fmt.Errorf("wallet %s: %w", wallet, err)
		}
		states[i] = st
	}

	results := make([]*Result, len(wallets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, wallet := range wallets {
		i, wallet := i, wallet
		g.Go(func() error {
			res, err := p.runWallet(gctx, wallet, byWallet[wallet], states[i])
			if err != nil {
				return fmt.Errorf("wallet %s: %w", wallet, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// RunWallet classifies, values and applies the transactions of one wallet, then
// assembles its report. Token runs whose ledger rejects a movement are discarded
// and surfaced as failures and review items; other tokens still commit.
func (p *Pipeline) RunWallet(ctx context.Context, wallet string, txs []model.RawTransaction) (*Result, error) {
	wallet = model.NormalizeAddress(wallet)
	st, err := p.open(ctx, wallet)
	if err != nil {
		return nil, err
	}
	return p.runWallet(ctx, wallet, txs, st)
}

func (p *Pipeline) runWallet(ctx context.Context, wallet string, txs []model.RawTransaction, st *walletState) (*Result, error) {
	logger := p.logger.With(zap.String("wallet", wallet))
	res := &Result{Wallet: wallet}
	book := st.book

	ordered := prepare(wallet, txs)
	classified := p.deps.Classifier.ClassifyAll(ordered)

	var auto []model.ClassifiedTransaction
	for _, ct := range classified {
		if ct.Category != model.CategoryUnknown {
			auto = append(auto, ct)
			continue
		}
		reason := model.ReviewUnknownCategory
		if !ct.Tx.Succeeded() {
			reason = model.ReviewReverted
		}
		res.Review = append(res.Review, reviewItem(ct, reason, ct.Rule, movementTokens(ct.Movements)))
	}

	valued, err := p.deps.Valuer.ValueAll(ctx, auto)
	if err != nil {
		return nil, fmt.Errorf("value transactions: %w", err)
	}
	res.Fees, err = p.deps.Valuer.ValueFees(ctx, classified)
	if err != nil {
		return nil, fmt.Errorf("value fees: %w", err)
	}

	var movements []model.ValuedMovement
	for _, vt := range valued {
		if vt.NeedsManualPrice {
			res.Review = append(res.Review, reviewItem(vt.Classified, model.ReviewNeedsManualPrice, "no price for "+fmt.Sprint(vt.Unpriced), vt.Unpriced))
			continue
		}
		movements = append(movements, vt.Movements...)
	}

	pending := movements[:0:0]
	for _, m := range movements {
		if book.Seen(m.Token, m.TxHash) {
			res.Skipped++
			continue
		}
		pending = append(pending, m)
	}

	outcome, failures, err := p.applyTokens(ctx, book, pending)
	if err != nil {
		return nil, err
	}
	res.Realized = outcome.Realized
	res.Income = outcome.Income
	res.Failures = failures

	byHash := make(map[string]model.ClassifiedTransaction, len(classified))
	for _, ct := range classified {
		byHash[ct.Tx.Hash] = ct
	}
	for _, f := range failures {
		logger.Error("ledger run discarded",
			zap.String("token", f.Token),
			zap.String("tx", f.TxHash),
			zap.Error(f.Err),
		)
		ct, ok := byHash[f.TxHash]
		if !ok {
			ct = model.ClassifiedTransaction{Tx: model.RawTransaction{Hash: f.TxHash, Wallet: wallet}, Category: model.CategoryUnknown}
		}
		res.Review = append(res.Review, reviewItem(ct, model.ReviewLedgerError, f.Err.Error(), []string{f.Token}))
	}
	sortReview(res.Review)

	history := ledger.Outcome{
		Realized: append([]model.RealizedEvent(nil), st.history.Realized...),
		Income:   append([]model.IncomeEvent(nil), st.history.Income...),
	}
	history.Merge(outcome)
	history.Sort()
	fees := mergeFees(st.history.Fees, res.Fees)

	if p.deps.State != nil {
		cp := book.Snapshot()
		cp.Realized = history.Realized
		cp.Income = history.Income
		cp.Fees = fees
		if err := p.deps.State.SaveCheckpoint(ctx, cp); err != nil {
			return nil, fmt.Errorf("save checkpoint: %w", err)
		}
	}

	rep := p.deps.Assembler.Assemble(history.Realized, history.Income, fees)
	rep.Wallet = wallet
	rep.Method = string(book.Method())
	rep.Review = res.Review
	if n := len(ordered); n > 0 && ordered[n-1].Time().After(rep.AsOf) {
		rep.AsOf = ordered[n-1].Time()
	}
	res.Report = rep

	if p.deps.Sink != nil {
		if err := p.deps.Sink.PutRealized(ctx, res.Realized); err != nil {
			return nil, fmt.Errorf("write realized events: %w", err)
		}
		if err := p.deps.Sink.PutIncome(ctx, res.Income); err != nil {
			return nil, fmt.Errorf("write income events: %w", err)
		}
		if err := p.deps.Sink.PutReview(ctx, res.Review); err != nil {
			return nil, fmt.Errorf("write review items: %w", err)
		}
	}

	unpricedFees := 0
	for _, fee := range res.Fees {
		if fee.Unpriced {
			unpricedFees++
		}
	}
	logger.Info("wallet processed",
		zap.Int("transactions", len(ordered)),
		zap.Int("movements", len(pending)),
		zap.Int("skipped", res.Skipped),
		zap.Int("realized", len(res.Realized)),
		zap.Int("realized_total", len(history.Realized)),
		zap.Int("income", len(res.Income)),
		zap.Int("fees", len(res.Fees)),
		zap.Int("unpriced_fees", unpricedFees),
		zap.Int("review", len(res.Review)),
		zap.Int("failed_tokens", len(res.Failures)),
	)
	return res, nil
}

// mergeFees keeps recorded fees for transactions absent from current and takes
// current for the rest, ordered by (time, hash).
func mergeFees(recorded, current []model.FeeEvent) []model.FeeEvent {
	fresh := make(map[string]struct{}, len(current))
	for _, fee := range current {
		fresh[fee.TxHash] = struct{}{}
	}
	out := make([]model.FeeEvent, 0, len(recorded)+len(current))
	for _, fee := range recorded {
		if _, ok := fresh[fee.TxHash]; !ok {
			out = append(out, fee)
		}
	}
	out = append(out, current...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PaidAt.Equal(out[j].PaidAt) {
			return out[i].PaidAt.Before(out[j].PaidAt)
		}
		return out[i].TxHash < out[j].TxHash
	})
	return out
}

// applyTokens runs every token on an isolated ledger copy in parallel and commits
// the successful runs once all have finished.
func (p *Pipeline) applyTokens(ctx context.Context, book *ledger.Book, movements []model.ValuedMovement) (ledger.Outcome, []TokenFailure, error) {
	groups := ledger.GroupByToken(movements)
	tokens := make([]string, 0, len(groups))
	for token := range groups {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	runs := make([]*ledger.RunResult, len(tokens))
	errs := make([]error, len(tokens))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, token := range tokens {
		i, token := i, token
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			runs[i], errs[i] = book.Run(token, groups[token])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ledger.Outcome{}, nil, err
	}

	var out ledger.Outcome
	var failures []TokenFailure
	for i, token := range tokens {
		if errs[i] != nil {
			failure := TokenFailure{Token: token, Err: errs[i]}
			var mvErr *ledger.MovementError
			if errors.As(errs[i], &mvErr) {
				failure.TxHash = mvErr.TxHash
			}
			failures = append(failures, failure)
			continue
		}
		book.Commit(runs[i])
		out.Merge(runs[i].Outcome)
	}
	out.Sort()
	return out, failures, nil
}

// prepare keeps txs of wallet, drops repeated hashes and orders by (timestamp, hash).
func prepare(wallet string, txs []model.RawTransaction) []model.RawTransaction {
	seen := make(map[string]struct{}, len(txs))
	out := make([]model.RawTransaction, 0, len(txs))
	for _, tx := range txs {
		tx.Hash = model.NormalizeAddress(tx.Hash)
		tx.Wallet = model.NormalizeAddress(tx.Wallet)
		if tx.Wallet != wallet {
			continue
		}
		if _, ok := seen[tx.Hash]; ok {
			continue
		}
		seen[tx.Hash] = struct{}{}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp != out[j].Timestamp {
			return out[i].Timestamp < out[j].Timestamp
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}

func reviewItem(ct model.ClassifiedTransaction, reason model.ReviewReason, detail string, tokens []string) model.ReviewItem {
	return model.ReviewItem{
		Wallet:    ct.Tx.Wallet,
		TxHash:    ct.Tx.Hash,
		Timestamp: ct.Tx.Time(),
		Category:  ct.Category,
		Reason:    reason,
		Detail:    detail,
		Tokens:    tokens,
	}
}

func movementTokens(movements []model.AssetMovement) []string {
	if len(movements) == 0 {
		return nil
	}
	tokens := make([]string, 0, len(movements))
	for _, m := range movements {
		tokens = append(tokens, m.Token)
	}
	return tokens
}

func sortReview(items []model.ReviewItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.Before(b.Timestamp)
		}
		if a.TxHash != b.TxHash {
			return a.TxHash < b.TxHash
		}
		return a.Reason < b.Reason
	})
}
