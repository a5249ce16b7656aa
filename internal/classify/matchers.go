package classify

import (
	"taxScope/internal/dex"
	"taxScope/internal/model"
)

func matchMalformed(f *facts, _ shape) (model.ActionCategory, bool) {
	return model.CategoryUnknown, f.malformed
}

// matchLock resolves voting escrow activity. Create beats increase beats withdraw.
func matchLock(f *facts, _ shape) (model.ActionCategory, bool) {
	for _, depositType := range f.lockDeposits {
		if depositType == dex.CreateLockType {
			return model.CategoryLockCreate, true
		}
	}
	if len(f.lockDeposits) > 0 {
		return model.CategoryLockIncrease, true
	}
	if f.has(dex.EventLockWithdraw, model.RoleLock) {
		return model.CategoryLockWithdraw, true
	}
	return "", false
}

func matchGauge(f *facts, _ shape) (model.ActionCategory, bool) {
	if f.has(dex.EventGaugeDeposit, model.RoleGauge) {
		return model.CategoryGaugeStake, true
	}
	if f.has(dex.EventGaugeWithdraw, model.RoleGauge) {
		return model.CategoryGaugeUnstake, true
	}
	return "", false
}

func matchLiquidityEvents(f *facts, _ shape) (model.ActionCategory, bool) {
	if f.has(dex.EventLiquidityAdd, model.RolePool) {
		return model.CategoryLPAdd, true
	}
	if f.has(dex.EventLiquidityRemove, model.RolePool) {
		return model.CategoryLPRemove, true
	}
	return "", false
}

// matchLiquidityShape recognises liquidity changes on pools missing from metadata
// by the exchange of underlying assets for a position token.
func matchLiquidityShape(_ *facts, s shape) (model.ActionCategory, bool) {
	if s.positionIn && s.assetOut && !s.assetIn {
		return model.CategoryLPAdd, true
	}
	if s.positionOut && s.assetIn && !s.assetOut {
		return model.CategoryLPRemove, true
	}
	return "", false
}

func matchSwapEvents(f *facts, _ shape) (model.ActionCategory, bool) {
	if f.has(dex.EventSwap, model.RolePool) {
		return model.CategorySwap, true
	}
	return "", false
}

func matchSwapShape(_ *facts, s shape) (model.ActionCategory, bool) {
	if s.assetIn && s.assetOut && !s.positionIn && !s.positionOut {
		return model.CategorySwap, true
	}
	return "", false
}

func matchClaimEvents(f *facts, _ shape) (model.ActionCategory, bool) {
	if f.has(dex.EventGaugeClaim, model.RoleGauge) || f.has(dex.EventRewardClaim, model.RoleReward, model.RoleVoter) {
		return model.CategoryClaimRewards, true
	}
	if f.has(dex.EventFeeClaim, model.RolePool) {
		return model.CategoryClaimFees, true
	}
	return "", false
}

// matchClaimShape treats an inflow-only transaction sent by, or to, a protocol
// contract as a reward claim.
func matchClaimShape(f *facts, s shape) (model.ActionCategory, bool) {
	if !s.assetIn || s.assetOut || s.positionOut {
		return "", false
	}
	if s.protocolCounterparty || f.toRole == model.RoleVoter || f.toRole == model.RoleGauge || f.toRole == model.RoleReward {
		return model.CategoryClaimRewards, true
	}
	return "", false
}

func matchTransfer(f *facts, s shape) (model.ActionCategory, bool) {
	if len(f.movements) == 0 {
		return "", false
	}
	in := s.assetIn || s.positionIn
	out := s.assetOut || s.positionOut
	if in != out {
		return model.CategoryTransfer, true
	}
	return "", false
}

func matchUnknown(_ *facts, _ shape) (model.ActionCategory, bool) {
	return model.CategoryUnknown, true
}
