package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a quantity of one token acquired at one time and cost.
type Lot struct {
	ID                int             `json:"id"`
	Token             string          `json:"token"`
	AcquiredAt        time.Time       `json:"acquired_at"`
	TxHash            string          `json:"tx_hash"`
	Category          ActionCategory  `json:"category"`
	OriginalQuantity  decimal.Decimal `json:"original_quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	CostBasisPerUnit  decimal.Decimal `json:"cost_basis_per_unit"`
}

// Exhausted reports whether nothing remains in the lot.
func (l Lot) Exhausted() bool {
	return !l.RemainingQuantity.IsPositive()
}

// LotConsumption records how much of a lot one disposal drew.
type LotConsumption struct {
	LotID        int             `json:"lot_id"`
	AcquiredAt   time.Time       `json:"acquired_at"`
	Quantity     decimal.Decimal `json:"quantity"`
	CostBasisUSD decimal.Decimal `json:"cost_basis_usd"`
}

// RealizedEvent is a disposal matched against one or more lots.
type RealizedEvent struct {
	Wallet        string           `json:"wallet"`
	Token         string           `json:"token"`
	Symbol        string           `json:"symbol"`
	TxHash        string           `json:"tx_hash"`
	DisposedAt    time.Time        `json:"disposed_at"`
	Quantity      decimal.Decimal  `json:"quantity"`
	ProceedsUSD   decimal.Decimal  `json:"proceeds_usd"`
	CostBasisUSD  decimal.Decimal  `json:"cost_basis_usd"`
	GainUSD       decimal.Decimal  `json:"gain_usd"`
	HoldingPeriod HoldingPeriod    `json:"holding_period,omitempty"`
	Category      ActionCategory   `json:"category"`
	Tag           TaxTag           `json:"tag"`
	Lots          []LotConsumption `json:"lots"`
}

// IncomeEvent is a receipt taxed as ordinary income at its fair market value.
type IncomeEvent struct {
	Wallet     string          `json:"wallet"`
	Token      string          `json:"token"`
	Symbol     string          `json:"symbol"`
	TxHash     string          `json:"tx_hash"`
	ReceivedAt time.Time       `json:"received_at"`
	Quantity   decimal.Decimal `json:"quantity"`
	PriceUSD   decimal.Decimal `json:"price_usd"`
	ValueUSD   decimal.Decimal `json:"value_usd"`
	Category   ActionCategory  `json:"category"`
	Tag        TaxTag          `json:"tag"`
}

// FeeEvent is the network fee a wallet paid to submit one transaction. Reverted
// transactions still pay it.
type FeeEvent struct {
	Wallet      string          `json:"wallet"`
	TxHash      string          `json:"tx_hash"`
	PaidAt      time.Time       `json:"paid_at"`
	Category    ActionCategory  `json:"category"`
	Quantity    decimal.Decimal `json:"quantity"`
	PriceUSD    decimal.Decimal `json:"price_usd"`
	ValueUSD    decimal.Decimal `json:"value_usd"`
	PriceSource string          `json:"price_source,omitempty"`
	Unpriced    bool            `json:"unpriced,omitempty"`
	Reverted    bool            `json:"reverted,omitempty"`
}

// CustodyPocket holds lots deposited into one staking or locking contract.
type CustodyPocket struct {
	Counterparty string `json:"counterparty"`
	Lots         []Lot  `json:"lots"`
}

// TokenLedgerState is the persisted state of one wallet+token ledger.
type TokenLedgerState struct {
	Token      string          `json:"token"`
	NextLotID  int             `json:"next_lot_id"`
	CursorUnix int64           `json:"cursor_unix"`
	CursorHash string          `json:"cursor_hash"`
	Applied    []string        `json:"applied"`
	Lots       []Lot           `json:"lots"`
	Custody    []CustodyPocket `json:"custody,omitempty"`
}

// LedgerCheckpoint is the persisted state of every ledger of one wallet, with
// the events those ledgers have emitted so far.
type LedgerCheckpoint struct {
	Wallet    string             `json:"wallet"`
	Method    string             `json:"method"`
	Tokens    []TokenLedgerState `json:"tokens"`
	Realized  []RealizedEvent    `json:"realized,omitempty"`
	Income    []IncomeEvent      `json:"income,omitempty"`
	Fees      []FeeEvent         `json:"fees,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`
}
