package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ReviewReason explains why a transaction left the automatic path.
type ReviewReason string

const (
	ReviewNeedsManualPrice ReviewReason = "needs_manual_price"
	ReviewUnknownCategory  ReviewReason = "unknown_category"
	ReviewReverted         ReviewReason = "reverted"
	ReviewLedgerError      ReviewReason = "ledger_error"
)

// ReviewItem is a transaction queued for a human decision.
type ReviewItem struct {
	Wallet    string         `json:"wallet"`
	TxHash    string         `json:"tx_hash"`
	Timestamp time.Time      `json:"timestamp"`
	Category  ActionCategory `json:"category"`
	Reason    ReviewReason   `json:"reason"`
	Detail    string         `json:"detail,omitempty"`
	Tokens    []string       `json:"tokens,omitempty"`
}

// TaxYearSummary partitions one tax year's events and totals them.
type TaxYearSummary struct {
	Year          int             `json:"year"`
	Start         time.Time       `json:"start"`
	End           time.Time       `json:"end"`
	Realized      []RealizedEvent `json:"realized"`
	Income        []IncomeEvent   `json:"income"`
	ProceedsUSD   decimal.Decimal `json:"proceeds_usd"`
	CostBasisUSD  decimal.Decimal `json:"cost_basis_usd"`
	ShortTermUSD  decimal.Decimal `json:"short_term_gain_usd"`
	LongTermUSD   decimal.Decimal `json:"long_term_gain_usd"`
	NetGainUSD    decimal.Decimal `json:"net_gain_usd"`
	IncomeUSD     decimal.Decimal `json:"income_usd"`
	Fees          []FeeEvent      `json:"fees,omitempty"`
	FeesUSD       decimal.Decimal `json:"fees_usd"`
	DisposalCount int             `json:"disposal_count"`
	IncomeCount   int             `json:"income_count"`
	FeeCount      int             `json:"fee_count"`
}

// TaxReport is the per-wallet output of the pipeline. AsOf is the time of the
// latest transaction the report covers.
type TaxReport struct {
	Wallet string           `json:"wallet"`
	Method string           `json:"method"`
	AsOf   time.Time        `json:"as_of"`
	Years  []TaxYearSummary `json:"years"`
	Review []ReviewItem     `json:"review,omitempty"`
}

// ReportRow is one flattened line of the tabular export.
type ReportRow struct {
	Wallet        string
	TaxYear       int
	Kind          string
	Timestamp     time.Time
	Token         string
	Symbol        string
	Quantity      decimal.Decimal
	ProceedsUSD   decimal.Decimal
	CostBasisUSD  decimal.Decimal
	GainUSD       decimal.Decimal
	ValueUSD      decimal.Decimal
	Category      ActionCategory
	Tag           TaxTag
	HoldingPeriod HoldingPeriod
	TxHash        string
}
