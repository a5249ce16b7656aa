package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"taxScope/internal/dex"
	"taxScope/internal/model"
	"taxScope/internal/retry"
	"taxScope/internal/storage"
)

// Chain is the RPC surface the ingester needs. *chain.Client satisfies it.
type Chain interface {
	ChainID(ctx context.Context) (uint64, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockTimestamp(ctx context.Context, number uint64) (uint64, error)
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	TransactionSender(ctx context.Context, tx *types.Transaction, block common.Hash, index uint) (common.Address, error)
	NonceAt(ctx context.Context, account common.Address, block uint64) (uint64, error)
	BlockTransactions(ctx context.Context, number uint64) (common.Hash, []*types.Transaction, error)
}

// RunConfig holds runtime settings for the ingester. A non-zero ChainID must
// match the endpoint. ScanSent also finds wallet-sent transactions without
// token logs, such as plain ETH sends.
type RunConfig struct {
	ChainID           uint64
	ScanSent          bool
	Wallets           []common.Address
	FromBlock         uint64
	ToBlock           uint64
	BatchSize         uint64
	CheckpointPath    string
	CheckpointEnabled bool
	MaxRetries        int
	RetryBackoff      time.Duration
	Concurrency       int
}

// Runner finds every transaction that moved a token in or out of the configured
// wallets, or that a wallet sent, and writes them with receipts to a
// transaction sink.
type Runner struct {
	cfg        RunConfig
	chain      Chain
	sink       storage.TransactionSink
	logger     *zap.Logger
	checkpoint *CheckpointStore

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewRunner builds a Runner with its dependencies.
func NewRunner(cfg RunConfig, chainClient Chain, sink storage.TransactionSink, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		cfg:        cfg,
		chain:      chainClient,
		sink:       sink,
		logger:     logger,
		seen:       make(map[string]struct{}),
		checkpoint: NewCheckpointStore(cfg.CheckpointPath, cfg.CheckpointEnabled),
	}
}

// Seed marks already ingested transactions so they are not fetched again.
func (r *Runner) Seed(txs []model.RawTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range txs {
		r.seen[seenKey(tx.Wallet, tx.Hash)] = struct{}{}
	}
}

// Run ingests every configured wallet over the block range, resuming each wallet
// after its checkpoint.
func (r *Runner) Run(ctx context.Context) error {
	if r.chain == nil {
		return fmt.Errorf("chain client is nil")
	}
	if r.sink == nil {
		return fmt.Errorf("transaction sink is nil")
	}
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if len(r.cfg.Wallets) == 0 {
		return fmt.Errorf("at least one wallet is required")
	}
	if err := r.verifyChain(ctx); err != nil {
		return err
	}

	to := r.cfg.ToBlock
	if to == 0 {
		latest, err := r.chain.LatestBlockNumber(ctx)
		if err != nil {
			return fmt.Errorf("get latest block: %w", err)
		}
		to = latest
	}

	for _, wallet := range r.cfg.Wallets {
		if err := r.runWallet(ctx, wallet, to); err != nil {
			return fmt.Errorf("wallet %s: %w", model.NormalizeAddress(wallet.Hex()), err)
		}
	}
	return nil
}

func (r *Runner) runWallet(ctx context.Context, wallet common.Address, to uint64) error {
	key := model.NormalizeAddress(wallet.Hex())
	logger := r.logger.With(zap.String("wallet", key))

	from := r.cfg.FromBlock
	last, ok, err := r.checkpoint.LastBlock(key)
	if err != nil {
		return err
	}
	if ok && last >= from {
		from = last + 1
		logger.Info("resume from checkpoint", zap.Uint64("last_processed", last), zap.Uint64("from", from))
	}
	if from > to {
		logger.Info("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return nil
	}

	ranges, err := SplitRange(from, to, r.cfg.BatchSize)
	if err != nil {
		return err
	}

	for _, blockRange := range ranges {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		hashes, err := r.walletHashes(ctx, wallet, blockRange)
		if err != nil {
			return fmt.Errorf("filter logs: %w", err)
		}
		written, err := r.ingest(ctx, wallet, hashes)
		if err != nil {
			return err
		}
		if err := r.checkpoint.Save(key, blockRange.To); err != nil {
			return err
		}

		logger.Info("batch complete",
			zap.Int("transactions", written),
			zap.Uint64("blocks", blockRange.Len()),
			zap.Uint64("from", blockRange.From),
			zap.Uint64("to", blockRange.To),
		)
	}
	return nil
}

// IngestHashes fetches specific transactions for wallet, skipping those already
// seen. It returns how many were written.
func (r *Runner) IngestHashes(ctx context.Context, wallet common.Address, hashes []common.Hash) (int, error) {
	if r.chain == nil || r.sink == nil {
		return 0, fmt.Errorf("chain client and sink are required")
	}
	if err := r.verifyChain(ctx); err != nil {
		return 0, err
	}
	return r.ingest(ctx, wallet, hashes)
}

func (r *Runner) verifyChain(ctx context.Context) error {
	if r.cfg.ChainID == 0 {
		return nil
	}
	var id uint64
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, 0, func(ctx context.Context) error {
		var err error
		id, err = r.chain.ChainID(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}
	if id != r.cfg.ChainID {
		return fmt.Errorf("rpc serves chain %d, configured %d", id, r.cfg.ChainID)
	}
	return nil
}

func (r *Runner) ingest(ctx context.Context, wallet common.Address, hashes []common.Hash) (int, error) {
	key := model.NormalizeAddress(wallet.Hex())
	pending := make([]common.Hash, 0, len(hashes))
	r.mu.Lock()
	for _, hash := range hashes {
		if _, ok := r.seen[seenKey(key, hash.Hex())]; ok {
			continue
		}
		pending = append(pending, hash)
	}
	r.mu.Unlock()
	if len(pending) == 0 {
		return 0, nil
	}

	txs := make([]model.RawTransaction, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for i, hash := range pending {
		i, hash := i, hash
		g.Go(func() error {
			tx, err := r.fetchTransaction(gctx, wallet, hash)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", hash.Hex(), err)
			}
			txs[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if err := r.sink.PutTransactions(ctx, txs); err != nil {
		return 0, fmt.Errorf("store transactions: %w", err)
	}
	r.mu.Lock()
	for _, tx := range txs {
		r.seen[seenKey(tx.Wallet, tx.Hash)] = struct{}{}
	}
	r.mu.Unlock()
	return len(txs), nil
}

type position struct {
	block uint64
	index uint
}

// walletHashes returns the hashes of transactions in blockRange whose Transfer
// logs name wallet as sender or recipient, plus those wallet sent when ScanSent
// is set, in chain order.
func (r *Runner) walletHashes(ctx context.Context, wallet common.Address, blockRange BlockRange) ([]common.Hash, error) {
	erc20, err := dex.ERC20ABI()
	if err != nil {
		return nil, err
	}
	transfer := erc20.Events["Transfer"].ID
	walletTopic := common.BytesToHash(common.LeftPadBytes(wallet.Bytes(), common.HashLength))

	queries := []ethereum.FilterQuery{
		{Topics: [][]common.Hash{{transfer}, {walletTopic}}},
		{Topics: [][]common.Hash{{transfer}, nil, {walletTopic}}},
	}

	found := make(map[common.Hash]position)
	for _, query := range queries {
		query.FromBlock = new(big.Int).SetUint64(blockRange.From)
		query.ToBlock = new(big.Int).SetUint64(blockRange.To)

		var logs []types.Log
		err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, 0, func(ctx context.Context) error {
			var err error
			logs, err = r.chain.FilterLogs(ctx, query)
			if err != nil {
				r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, log := range logs {
			if log.Removed {
				continue
			}
			found[log.TxHash] = position{block: log.BlockNumber, index: log.TxIndex}
		}
	}
	if r.cfg.ScanSent {
		if err := r.sentHashes(ctx, wallet, blockRange, found); err != nil {
			return nil, fmt.Errorf("scan sent: %w", err)
		}
	}

	hashes := make([]common.Hash, 0, len(found))
	for hash := range found {
		hashes = append(hashes, hash)
	}
	sort.Slice(hashes, func(i, j int) bool {
		a, b := found[hashes[i]], found[hashes[j]]
		if a.block != b.block {
			return a.block < b.block
		}
		return a.index < b.index
	})
	return hashes, nil
}

// sentHashes adds the transactions wallet sent within blockRange. The account
// nonce only grows when the wallet sends, so the range is bisected down to the
// blocks where it moved and only those blocks are fetched.
func (r *Runner) sentHashes(ctx context.Context, wallet common.Address, blockRange BlockRange, found map[common.Hash]position) error {
	var before uint64
	if blockRange.From > 0 {
		n, err := r.nonceAt(ctx, wallet, blockRange.From-1)
		if err != nil {
			return err
		}
		before = n
	}
	after, err := r.nonceAt(ctx, wallet, blockRange.To)
	if err != nil {
		return err
	}
	return r.bisectNonce(ctx, wallet, blockRange.From, blockRange.To, before, after, found)
}

func (r *Runner) bisectNonce(ctx context.Context, wallet common.Address, from, to, before, after uint64, found map[common.Hash]position) error {
	if after <= before {
		return nil
	}
	if from == to {
		return r.collectSent(ctx, wallet, from, found)
	}
	mid := from + (to-from)/2
	nonce, err := r.nonceAt(ctx, wallet, mid)
	if err != nil {
		return err
	}
	if err := r.bisectNonce(ctx, wallet, from, mid, before, nonce, found); err != nil {
		return err
	}
	return r.bisectNonce(ctx, wallet, mid+1, to, nonce, after, found)
}

func (r *Runner) collectSent(ctx context.Context, wallet common.Address, number uint64, found map[common.Hash]position) error {
	var blockHash common.Hash
	var txs []*types.Transaction
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, 0, func(ctx context.Context) error {
		var err error
		blockHash, txs, err = r.chain.BlockTransactions(ctx, number)
		if err != nil {
			r.logger.Warn("block fetch failed", zap.Error(err), zap.Uint64("block_number", number))
		}
		return err
	})
	if err != nil {
		return err
	}
	for i, tx := range txs {
		sender, err := r.chain.TransactionSender(ctx, tx, blockHash, uint(i))
		if err != nil {
			return fmt.Errorf("sender of %s: %w", tx.Hash().Hex(), err)
		}
		if sender == wallet {
			found[tx.Hash()] = position{block: number, index: uint(i)}
		}
	}
	return nil
}

func (r *Runner) nonceAt(ctx context.Context, wallet common.Address, block uint64) (uint64, error) {
	var nonce uint64
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, 0, func(ctx context.Context) error {
		var err error
		nonce, err = r.chain.NonceAt(ctx, wallet, block)
		if err != nil {
			r.logger.Warn("nonce fetch failed", zap.Error(err), zap.Uint64("block_number", block))
		}
		return err
	})
	return nonce, err
}

func (r *Runner) fetchTransaction(ctx context.Context, wallet common.Address, hash common.Hash) (model.RawTransaction, error) {
	var raw model.RawTransaction
	err := retry.Do(ctx, r.cfg.MaxRetries, r.cfg.RetryBackoff, 0, func(ctx context.Context) error {
		tx, pending, err := r.chain.TransactionByHash(ctx, hash)
		if err != nil {
			if errors.Is(err, ethereum.NotFound) {
				return retry.Permanent(err)
			}
			r.logger.Warn("transaction fetch failed", zap.Error(err), zap.String("tx", hash.Hex()))
			return err
		}
		if pending {
			return retry.Permanent(fmt.Errorf("transaction is pending"))
		}
		receipt, err := r.chain.TransactionReceipt(ctx, hash)
		if err != nil {
			r.logger.Warn("receipt fetch failed", zap.Error(err), zap.String("tx", hash.Hex()))
			return err
		}
		if receipt.BlockNumber == nil {
			return retry.Permanent(fmt.Errorf("receipt has no block number"))
		}
		from, err := r.chain.TransactionSender(ctx, tx, receipt.BlockHash, receipt.TransactionIndex)
		if err != nil {
			return fmt.Errorf("sender: %w", err)
		}
		ts, err := r.chain.BlockTimestamp(ctx, receipt.BlockNumber.Uint64())
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.Uint64("block_number", receipt.BlockNumber.Uint64()))
			return err
		}
		raw = buildRawTransaction(wallet, tx, from, receipt, ts)
		return nil
	})
	return raw, err
}

func seenKey(wallet, hash string) string {
	return model.NormalizeAddress(wallet) + ":" + model.NormalizeAddress(hash)
}
