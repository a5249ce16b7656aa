package ledger

import (
	"fmt"
	"strings"

	"taxScope/internal/model"
)

// Method selects which lots a disposal consumes first.
type Method string

const (
	FIFO Method = "FIFO"
	LIFO Method = "LIFO"
)

// ParseMethod accepts "fifo" or "lifo" in any case.
func ParseMethod(s string) (Method, error) {
	switch Method(strings.ToUpper(strings.TrimSpace(s))) {
	case FIFO:
		return FIFO, nil
	case LIFO:
		return LIFO, nil
	default:
		return "", fmt.Errorf("unsupported accounting method %q", s)
	}
}

// IncomeRules maps an action category to the tax tag of its inflows.
// Categories not listed are capital.
type IncomeRules map[model.ActionCategory]model.TaxTag

// DefaultIncomeRules tags reward and fee claims as ordinary income.
func DefaultIncomeRules() IncomeRules {
	return IncomeRules{
		model.CategoryClaimRewards: model.TagIncome,
		model.CategoryClaimFees:    model.TagIncome,
	}
}

// ParseIncomeRules parses CATEGORY=income|capital entries on top of the defaults.
func ParseIncomeRules(entries []string) (IncomeRules, error) {
	rules := DefaultIncomeRules()
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		key, value, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, fmt.Errorf("invalid income rule %q: want CATEGORY=income|capital", entry)
		}
		cat, err := model.ParseActionCategory(key)
		if err != nil {
			return nil, err
		}
		tag, err := model.ParseTaxTag(value)
		if err != nil {
			return nil, err
		}
		rules[cat] = tag
	}
	return rules, nil
}

// Tag returns the tag applied to inflows of cat.
func (r IncomeRules) Tag(cat model.ActionCategory) model.TaxTag {
	if tag, ok := r[cat]; ok {
		return tag
	}
	return model.TagCapital
}

type treatment int

const (
	treatAcquire treatment = iota
	treatDispose
	treatIncome
	treatDeposit
	treatRelease
)

func (r IncomeRules) treat(cat model.ActionCategory, inflow bool) treatment {
	if inflow {
		switch cat {
		case model.CategoryGaugeUnstake, model.CategoryLockWithdraw:
			return treatRelease
		}
		if r.Tag(cat) == model.TagIncome {
			return treatIncome
		}
		return treatAcquire
	}
	switch cat {
	case model.CategoryGaugeStake, model.CategoryLockCreate, model.CategoryLockIncrease:
		return treatDeposit
	}
	return treatDispose
}
