package model

import (
	"fmt"
	"strings"
)

// ActionCategory is the single action assigned to a transaction.
type ActionCategory string

const (
	CategorySwap         ActionCategory = "SWAP"
	CategoryLPAdd        ActionCategory = "LP_ADD"
	CategoryLPRemove     ActionCategory = "LP_REMOVE"
	CategoryGaugeStake   ActionCategory = "GAUGE_STAKE"
	CategoryGaugeUnstake ActionCategory = "GAUGE_UNSTAKE"
	CategoryLockCreate   ActionCategory = "LOCK_CREATE"
	CategoryLockIncrease ActionCategory = "LOCK_INCREASE"
	CategoryLockWithdraw ActionCategory = "LOCK_WITHDRAW"
	CategoryClaimFees    ActionCategory = "CLAIM_FEES"
	CategoryClaimRewards ActionCategory = "CLAIM_REWARDS"
	CategoryTransfer     ActionCategory = "TRANSFER"
	CategoryUnknown      ActionCategory = "UNKNOWN"
)

// AllCategories lists every category in declaration order.
var AllCategories = []ActionCategory{
	CategorySwap,
	CategoryLPAdd,
	CategoryLPRemove,
	CategoryGaugeStake,
	CategoryGaugeUnstake,
	CategoryLockCreate,
	CategoryLockIncrease,
	CategoryLockWithdraw,
	CategoryClaimFees,
	CategoryClaimRewards,
	CategoryTransfer,
	CategoryUnknown,
}

// ParseActionCategory accepts a category name in any case.
func ParseActionCategory(s string) (ActionCategory, error) {
	c := ActionCategory(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllCategories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown action category %q", s)
}

// MovementKind separates fungible assets from position tokens.
type MovementKind string

const (
	KindAsset    MovementKind = "asset"
	KindPosition MovementKind = "position"
)

// TaxTag marks an event as ordinary income or a capital event.
type TaxTag string

const (
	TagIncome  TaxTag = "income"
	TagCapital TaxTag = "capital"
)

// ParseTaxTag accepts "income" or "capital".
func ParseTaxTag(s string) (TaxTag, error) {
	switch TaxTag(strings.ToLower(strings.TrimSpace(s))) {
	case TagIncome:
		return TagIncome, nil
	case TagCapital:
		return TagCapital, nil
	}
	return "", fmt.Errorf("unknown tax tag %q", s)
}

// HoldingPeriod classifies how long disposed lots were held.
type HoldingPeriod string

const (
	HoldingNone  HoldingPeriod = ""
	HoldingShort HoldingPeriod = "short"
	HoldingLong  HoldingPeriod = "long"
	HoldingMixed HoldingPeriod = "mixed"
)
