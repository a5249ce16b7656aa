package pricing

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"taxScope/internal/model"
)

const divisionPrecision = 18

var errNoPool = errors.New("no priced pool")

// PoolLookup lists candidate pools and token decimals. *metadata.Registry satisfies it.
type PoolLookup interface {
	PoolsForToken(token string) []model.ContractMeta
	Token(address string) (model.TokenMeta, bool)
}

// PoolStateReader reads pool state at a block. *dex.PoolReader satisfies it.
type PoolStateReader interface {
	Reserves(ctx context.Context, pool string, blockNumber uint64) (*big.Int, *big.Int, error)
	SqrtPriceX96(ctx context.Context, pool string, blockNumber uint64) (*big.Int, error)
}

// PoolSource prices a token from the on-chain state of its pools at the
// transaction's block, against a counter-asset that is a stablecoin or is priced
// by the anchor source.
type PoolSource struct {
	lookup      PoolLookup
	reader      PoolStateReader
	stablecoins map[string]struct{}
	anchor      Source
}

// NewPoolSource builds a pool price source. anchor may be nil, in which case only
// stablecoin-paired pools are used.
func NewPoolSource(lookup PoolLookup, reader PoolStateReader, stablecoins []string, anchor Source) *PoolSource {
	return &PoolSource{
		lookup:      lookup,
		reader:      reader,
		stablecoins: StablecoinSet(stablecoins),
		anchor:      anchor,
	}
}

func (s *PoolSource) Name() string { return "pool" }

// Price walks candidate pools in ascending address order and returns the first
// price it can derive.
func (s *PoolSource) Price(ctx context.Context, req model.PriceRequest) (decimal.Decimal, error) {
	if req.BlockNumber == 0 {
		return decimal.Zero, fmt.Errorf("block number required")
	}
	token := model.NormalizeAddress(req.Token)

	var lastErr error
	for _, pool := range s.lookup.PoolsForToken(token) {
		counter := pool.Token1
		if pool.Token1 == token {
			counter = pool.Token0
		}
		if counter == token || counter == "" {
			continue
		}
		counterPrice, err := s.counterPrice(ctx, counter, req)
		if err != nil {
			lastErr = err
			continue
		}
		ratio, err := s.ratio(ctx, pool, token, req.BlockNumber)
		if err != nil {
			lastErr = err
			continue
		}
		if !ratio.IsPositive() {
			continue
		}
		return ratio.Mul(counterPrice), nil
	}
	if lastErr != nil {
		return decimal.Zero, lastErr
	}
	return decimal.Zero, errNoPool
}

func (s *PoolSource) counterPrice(ctx context.Context, counter string, req model.PriceRequest) (decimal.Decimal, error) {
	if _, ok := s.stablecoins[counter]; ok {
		return decimal.NewFromInt(1), nil
	}
	if s.anchor == nil {
		return decimal.Zero, fmt.Errorf("counter asset %s not priced", counter)
	}
	return s.anchor.Price(ctx, model.PriceRequest{Token: counter, Timestamp: req.Timestamp, BlockNumber: req.BlockNumber})
}

// ratio returns the price of token expressed in units of the pool's other token.
func (s *PoolSource) ratio(ctx context.Context, pool model.ContractMeta, token string, blockNumber uint64) (decimal.Decimal, error) {
	d0 := s.decimals(pool.Token0)
	d1 := s.decimals(pool.Token1)

	var price0 decimal.Decimal
	switch pool.PoolType {
	case model.PoolTypeCL:
		sqrt, err := s.reader.SqrtPriceX96(ctx, pool.Address, blockNumber)
		if err != nil {
			return decimal.Zero, err
		}
		if sqrt.Sign() == 0 {
			return decimal.Zero, fmt.Errorf("pool %s has zero price", pool.Address)
		}
		price0 = SqrtPriceToPrice(sqrt, d0, d1)
	default:
		r0, r1, err := s.reader.Reserves(ctx, pool.Address, blockNumber)
		if err != nil {
			return decimal.Zero, err
		}
		if r0.Sign() == 0 || r1.Sign() == 0 {
			return decimal.Zero, fmt.Errorf("pool %s has empty reserves", pool.Address)
		}
		reserve0 := decimal.NewFromBigInt(r0, -d0)
		reserve1 := decimal.NewFromBigInt(r1, -d1)
		price0 = reserve1.DivRound(reserve0, divisionPrecision)
	}

	if token == pool.Token0 {
		return price0, nil
	}
	if price0.IsZero() {
		return decimal.Zero, fmt.Errorf("pool %s has zero price", pool.Address)
	}
	return decimal.NewFromInt(1).DivRound(price0, divisionPrecision), nil
}

func (s *PoolSource) decimals(token string) int32 {
	if meta, ok := s.lookup.Token(token); ok {
		return int32(meta.Decimals)
	}
	return model.DefaultDecimals
}

// SqrtPriceToPrice converts a Q64.96 square-root price into the human price of
// token0 in token1: (sqrtP^2 / 2^192) * 10^(d0-d1).
func SqrtPriceToPrice(sqrtPriceX96 *big.Int, decimals0, decimals1 int32) decimal.Decimal {
	sq := new(big.Int).Mul(sqrtPriceX96, sqrtPriceX96)
	q192 := new(big.Int).Lsh(big.NewInt(1), 192)
	raw := decimal.NewFromBigInt(sq, 0).DivRound(decimal.NewFromBigInt(q192, 0), 36)
	return raw.Shift(decimals0 - decimals1).Round(divisionPrecision)
}
