package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceRequest asks for the USD price of a token at a point in time.
type PriceRequest struct {
	Token       string    `json:"token"`
	Timestamp   time.Time `json:"timestamp"`
	BlockNumber uint64    `json:"block_number,omitempty"`
}

// PriceQuote is a resolved USD price.
type PriceQuote struct {
	Token     string          `json:"token"`
	Timestamp time.Time       `json:"timestamp"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Source    string          `json:"source"`
}

// PriceSample is one observation from an external price feed.
type PriceSample struct {
	Token     string          `json:"token"`
	Timestamp time.Time       `json:"timestamp"`
	PriceUSD  decimal.Decimal `json:"price_usd"`
	Source    string          `json:"source,omitempty"`
}
