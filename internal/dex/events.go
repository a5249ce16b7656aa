package dex

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"taxScope/internal/model"
)

// EventKind is the protocol meaning of a recognised log.
type EventKind string

const (
	EventTransfer        EventKind = "transfer"
	EventSwap            EventKind = "swap"
	EventLiquidityAdd    EventKind = "liquidity_add"
	EventLiquidityRemove EventKind = "liquidity_remove"
	EventFeeClaim        EventKind = "fee_claim"
	EventGaugeDeposit    EventKind = "gauge_deposit"
	EventGaugeWithdraw   EventKind = "gauge_withdraw"
	EventGaugeClaim      EventKind = "gauge_claim"
	EventLockDeposit     EventKind = "lock_deposit"
	EventLockWithdraw    EventKind = "lock_withdraw"
	EventRewardClaim     EventKind = "reward_claim"
)

// EventSet maps topic0 values to event kinds and keeps the parsed ABIs
// needed to decode payloads.
type EventSet struct {
	topicToKind  map[string]EventKind
	transfer     abi.Event
	lockDeposit  abi.Event
	lockWithdraw abi.Event
}

// NewEventSet parses every protocol ABI and builds the topic table.
func NewEventSet() (*EventSet, error) {
	erc20, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	pool, err := PoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	clPool, err := CLPoolABI()
	if err != nil {
		return nil, fmt.Errorf("parse cl pool abi: %w", err)
	}
	v2Swap, err := UniswapV2SwapABI()
	if err != nil {
		return nil, fmt.Errorf("parse v2 swap abi: %w", err)
	}
	gauge, err := GaugeABI()
	if err != nil {
		return nil, fmt.Errorf("parse gauge abi: %w", err)
	}
	ve, err := VotingEscrowABI()
	if err != nil {
		return nil, fmt.Errorf("parse voting escrow abi: %w", err)
	}
	rewards, err := RewardABI()
	if err != nil {
		return nil, fmt.Errorf("parse reward abi: %w", err)
	}

	set := &EventSet{
		topicToKind:  make(map[string]EventKind),
		transfer:     erc20.Events["Transfer"],
		lockDeposit:  ve.Events["Deposit"],
		lockWithdraw: ve.Events["Withdraw"],
	}
	register := func(event abi.Event, kind EventKind) {
		set.topicToKind[strings.ToLower(event.ID.Hex())] = kind
	}

	register(erc20.Events["Transfer"], EventTransfer)

	register(pool.Events["Swap"], EventSwap)
	register(pool.Events["Mint"], EventLiquidityAdd)
	register(pool.Events["Burn"], EventLiquidityRemove)
	register(pool.Events["Claim"], EventFeeClaim)

	register(v2Swap.Events["Swap"], EventSwap)

	register(clPool.Events["Swap"], EventSwap)
	register(clPool.Events["Mint"], EventLiquidityAdd)
	register(clPool.Events["Burn"], EventLiquidityRemove)
	register(clPool.Events["Collect"], EventFeeClaim)

	register(gauge.Events["Deposit"], EventGaugeDeposit)
	register(gauge.Events["Withdraw"], EventGaugeWithdraw)
	register(gauge.Events["ClaimRewards"], EventGaugeClaim)

	register(ve.Events["Deposit"], EventLockDeposit)
	register(ve.Events["Withdraw"], EventLockWithdraw)

	register(rewards.Events["ClaimRewards"], EventRewardClaim)

	return set, nil
}

// Identify returns the kind of a log by its topic0.
func (s *EventSet) Identify(log model.LogEntry) (EventKind, bool) {
	if len(log.Topics) == 0 {
		return "", false
	}
	kind, ok := s.topicToKind[strings.ToLower(log.Topics[0])]
	return kind, ok
}

// TransferTopic returns the Transfer topic0 used by the ingester's log filters.
func (s *EventSet) TransferTopic() string {
	return strings.ToLower(s.transfer.ID.Hex())
}
