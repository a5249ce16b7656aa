package classify

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"taxScope/internal/dex"
	"taxScope/internal/metadata"
	"taxScope/internal/model"
)

var errInvalidWei = errors.New("invalid wei amount")

// verdict is the tagged result of a matcher that fired.
type verdict struct {
	category model.ActionCategory
	rule     string
}

// matcher inspects facts and either returns a verdict or declines.
type matcher struct {
	name  string
	match func(f *facts, s shape) (model.ActionCategory, bool)
}

// Classifier assigns exactly one action category to each transaction. It holds no
// mutable state and is safe for concurrent use.
type Classifier struct {
	lookup   metadata.Lookup
	events   *dex.EventSet
	matchers []matcher
}

// New builds a classifier over the given protocol metadata.
func New(lookup metadata.Lookup) (*Classifier, error) {
	if lookup == nil {
		return nil, fmt.Errorf("metadata lookup is nil")
	}
	events, err := dex.NewEventSet()
	if err != nil {
		return nil, err
	}
	return &Classifier{
		lookup: lookup,
		events: events,
		matchers: []matcher{
			{name: "malformed", match: matchMalformed},
			{name: "lock", match: matchLock},
			{name: "gauge", match: matchGauge},
			{name: "liquidity", match: matchLiquidityEvents},
			{name: "liquidity_shape", match: matchLiquidityShape},
			{name: "swap", match: matchSwapEvents},
			{name: "swap_shape", match: matchSwapShape},
			{name: "claim", match: matchClaimEvents},
			{name: "claim_shape", match: matchClaimShape},
			{name: "transfer", match: matchTransfer},
			{name: "unknown", match: matchUnknown},
		},
	}, nil
}

// Events exposes the event table the classifier recognises.
func (c *Classifier) Events() *dex.EventSet {
	return c.events
}

// Classify returns the classified form of tx. It never fails: ambiguous or
// malformed input yields UNKNOWN with the transfer-derived movements attached.
func (c *Classifier) Classify(tx model.RawTransaction) model.ClassifiedTransaction {
	paid, feeOK := fee(tx)
	if !tx.Succeeded() {
		return model.ClassifiedTransaction{
			Tx:        tx,
			Category:  model.CategoryUnknown,
			Rule:      "reverted",
			Movements: []model.AssetMovement{},
			Fee:       paid,
			Degraded:  !feeOK,
		}
	}

	f := gatherFacts(tx, c.lookup, c.events)
	s := f.shape(c.lookup)
	v := c.decide(f, s)

	movements := f.movements
	if movements == nil {
		movements = []model.AssetMovement{}
	}
	return model.ClassifiedTransaction{
		Tx:        tx,
		Category:  v.category,
		Rule:      v.rule,
		Movements: movements,
		Fee:       paid,
		Degraded:  f.malformed || !feeOK,
	}
}

// fee returns the native fee tx cost the wallet. Only the sender pays gas; a
// malformed gas price reports false.
func fee(tx model.RawTransaction) (decimal.Decimal, bool) {
	if tx.From == "" || model.NormalizeAddress(tx.From) != model.NormalizeAddress(tx.Wallet) {
		return decimal.Decimal{}, true
	}
	wei, err := tx.FeeWei()
	if err != nil {
		return decimal.Decimal{}, false
	}
	if wei == nil || wei.Sign() == 0 {
		return decimal.Decimal{}, true
	}
	return decimal.NewFromBigInt(wei, -model.NativeDecimals), true
}

// ClassifyAll classifies every transaction, preserving order.
func (c *Classifier) ClassifyAll(txs []model.RawTransaction) []model.ClassifiedTransaction {
	out := make([]model.ClassifiedTransaction, len(txs))
	for i, tx := range txs {
		out[i] = c.Classify(tx)
	}
	return out
}

func (c *Classifier) decide(f *facts, s shape) verdict {
	for _, m := range c.matchers {
		if category, ok := m.match(f, s); ok {
			return verdict{category: category, rule: m.name}
		}
	}
	return verdict{category: model.CategoryUnknown, rule: "unknown"}
}
