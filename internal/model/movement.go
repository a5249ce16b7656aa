package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetMovement is the wallet's net change in one token within one transaction.
// Amount is positive for inflows and negative for outflows.
type AssetMovement struct {
	Token        string          `json:"token"`
	Symbol       string          `json:"symbol"`
	Amount       decimal.Decimal `json:"amount"`
	Kind         MovementKind    `json:"kind"`
	Counterparty string          `json:"counterparty,omitempty"`
	LogIndex     uint64          `json:"log_index"`
}

// Inflow reports whether the wallet received the token.
func (m AssetMovement) Inflow() bool {
	return m.Amount.IsPositive()
}

// ClassifiedTransaction carries exactly one category for a raw transaction.
type ClassifiedTransaction struct {
	Tx        RawTransaction  `json:"tx"`
	Category  ActionCategory  `json:"category"`
	Rule      string          `json:"rule"`
	Movements []AssetMovement `json:"movements"`
	// Fee is the native fee the wallet paid as sender, in ETH.
	Fee      decimal.Decimal `json:"fee_eth"`
	Degraded bool            `json:"degraded,omitempty"`
}

// ValuedMovement is an asset movement with its USD valuation at transaction time.
type ValuedMovement struct {
	AssetMovement
	Wallet      string          `json:"wallet"`
	TxHash      string          `json:"tx_hash"`
	Timestamp   time.Time       `json:"timestamp"`
	BlockNumber uint64          `json:"block_number"`
	Category    ActionCategory  `json:"category"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	ValueUSD    decimal.Decimal `json:"value_usd"`
	PriceSource string          `json:"price_source"`
}

// Quantity is the unsigned amount moved.
func (m ValuedMovement) Quantity() decimal.Decimal {
	return m.Amount.Abs()
}

// ValuedTransaction is a classified transaction whose asset movements carry prices.
type ValuedTransaction struct {
	Classified       ClassifiedTransaction `json:"classified"`
	Movements        []ValuedMovement      `json:"movements"`
	NeedsManualPrice bool                  `json:"needs_manual_price"`
	Unpriced         []string              `json:"unpriced,omitempty"`
}
