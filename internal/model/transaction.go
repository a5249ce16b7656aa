package model

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// TxStatusSuccess is the receipt status of a transaction that did not revert.
const TxStatusSuccess = 1

// LogEntry is a receipt log attached to a raw transaction.
type LogEntry struct {
	Address  string   `json:"address"`
	Topics   []string `json:"topics"`
	Data     string   `json:"data"`
	LogIndex uint64   `json:"log_index"`
}

// RawTransaction is one wallet transaction together with its receipt logs.
type RawTransaction struct {
	Hash              string     `json:"hash"`
	Wallet            string     `json:"wallet"`
	BlockNumber       uint64     `json:"block_number"`
	Timestamp         uint64     `json:"timestamp"`
	From              string     `json:"from"`
	To                string     `json:"to"`
	Value             string     `json:"value"`
	Status            uint64     `json:"status"`
	GasUsed           uint64     `json:"gas_used,omitempty"`
	EffectiveGasPrice string     `json:"effective_gas_price,omitempty"`
	Logs              []LogEntry `json:"logs"`
	ContractAddresses []string   `json:"contract_addresses,omitempty"`
}

// Succeeded reports whether the transaction executed without reverting.
func (t RawTransaction) Succeeded() bool {
	return t.Status == TxStatusSuccess
}

// Time returns the block time in UTC.
func (t RawTransaction) Time() time.Time {
	return time.Unix(int64(t.Timestamp), 0).UTC()
}

// FeeWei is gas used times the effective gas price. It is nil when the receipt
// carries no gas data.
func (t RawTransaction) FeeWei() (*big.Int, error) {
	price := strings.TrimSpace(t.EffectiveGasPrice)
	if price == "" || t.GasUsed == 0 {
		return nil, nil
	}
	base := 10
	if strings.HasPrefix(price, "0x") || strings.HasPrefix(price, "0X") {
		price, base = price[2:], 16
	}
	wei, ok := new(big.Int).SetString(price, base)
	if !ok || wei.Sign() < 0 {
		return nil, fmt.Errorf("invalid effective gas price %q", t.EffectiveGasPrice)
	}
	return wei.Mul(wei, new(big.Int).SetUint64(t.GasUsed)), nil
}

// UnmarshalJSON decodes a RawTransaction and lowercases every address and hash.
func (t *RawTransaction) UnmarshalJSON(data []byte) error {
	type Alias RawTransaction
	var a Alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = RawTransaction(a)
	t.Normalize()
	return nil
}

// Normalize lowercases addresses, hashes and topics in place.
func (t *RawTransaction) Normalize() {
	t.Hash = NormalizeAddress(t.Hash)
	t.Wallet = NormalizeAddress(t.Wallet)
	t.From = NormalizeAddress(t.From)
	t.To = NormalizeAddress(t.To)
	for i := range t.Logs {
		t.Logs[i].Address = NormalizeAddress(t.Logs[i].Address)
		for j := range t.Logs[i].Topics {
			t.Logs[i].Topics[j] = NormalizeAddress(t.Logs[i].Topics[j])
		}
	}
	for i := range t.ContractAddresses {
		t.ContractAddresses[i] = NormalizeAddress(t.ContractAddresses[i])
	}
}

// NormalizeAddress returns the canonical lowercase form of a hex address or hash.
func NormalizeAddress(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
