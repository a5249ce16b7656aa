package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ContractCaller performs eth_call at a block height. *chain.Client satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// PoolReader reads historical pool state for pricing.
type PoolReader struct {
	caller ContractCaller
}

// NewPoolReader builds a PoolReader on top of an eth_call capable client.
func NewPoolReader(caller ContractCaller) *PoolReader {
	return &PoolReader{caller: caller}
}

// Reserves returns the basic pool reserves at the given block.
func (r *PoolReader) Reserves(ctx context.Context, pool string, blockNumber uint64) (*big.Int, *big.Int, error) {
	poolABI, err := PoolABI()
	if err != nil {
		return nil, nil, fmt.Errorf("parse pool abi: %w", err)
	}
	values, err := r.call(ctx, pool, poolABI, "getReserves", blockNumber)
	if err != nil {
		return nil, nil, err
	}
	if len(values) < 2 {
		return nil, nil, fmt.Errorf("unexpected reserves values: %d", len(values))
	}
	reserve0, err := asBigInt(values[0])
	if err != nil {
		return nil, nil, fmt.Errorf("reserve0: %w", err)
	}
	reserve1, err := asBigInt(values[1])
	if err != nil {
		return nil, nil, fmt.Errorf("reserve1: %w", err)
	}
	return reserve0, reserve1, nil
}

// SqrtPriceX96 returns slot0.sqrtPriceX96 of a concentrated liquidity pool at the given block.
func (r *PoolReader) SqrtPriceX96(ctx context.Context, pool string, blockNumber uint64) (*big.Int, error) {
	poolABI, err := CLPoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse cl pool abi: %w", err)
	}
	values, err := r.call(ctx, pool, poolABI, "slot0", blockNumber)
	if err != nil {
		return nil, err
	}
	if len(values) < 1 {
		return nil, fmt.Errorf("empty slot0")
	}
	sqrt, err := asBigInt(values[0])
	if err != nil {
		return nil, fmt.Errorf("sqrt price: %w", err)
	}
	return sqrt, nil
}

func (r *PoolReader) call(ctx context.Context, pool string, parsed abi.ABI, method string, blockNumber uint64) ([]interface{}, error) {
	if r.caller == nil {
		return nil, fmt.Errorf("contract caller is nil")
	}
	if !common.IsHexAddress(pool) {
		return nil, fmt.Errorf("invalid pool address: %s", pool)
	}
	addr := common.HexToAddress(pool)
	data, err := parsed.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	var block *big.Int
	if blockNumber > 0 {
		block = new(big.Int).SetUint64(blockNumber)
	}
	resp, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, block)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	values, err := parsed.Unpack(method, resp)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}
