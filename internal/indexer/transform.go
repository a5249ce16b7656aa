package indexer

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"taxScope/internal/model"
)

// buildRawTransaction joins a mined transaction, its sender and receipt into the
// wallet-scoped record the classifier consumes.
func buildRawTransaction(wallet common.Address, tx *types.Transaction, from common.Address, receipt *types.Receipt, timestamp uint64) model.RawTransaction {
	raw := model.RawTransaction{
		Hash:      tx.Hash().Hex(),
		Wallet:    wallet.Hex(),
		Timestamp: timestamp,
		From:      from.Hex(),
		Value:     "0",
		Status:    receipt.Status,
		GasUsed:   receipt.GasUsed,
		Logs:      make([]model.LogEntry, 0, len(receipt.Logs)),
	}
	if receipt.BlockNumber != nil {
		raw.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if tx.Value() != nil {
		raw.Value = tx.Value().String()
	}
	if receipt.EffectiveGasPrice != nil {
		raw.EffectiveGasPrice = receipt.EffectiveGasPrice.String()
	}
	if to := tx.To(); to != nil {
		raw.To = to.Hex()
	} else if receipt.ContractAddress != (common.Address{}) {
		raw.ContractAddresses = []string{receipt.ContractAddress.Hex()}
	}

	for _, log := range receipt.Logs {
		if log == nil || log.Removed {
			continue
		}
		raw.Logs = append(raw.Logs, buildLogEntry(*log))
	}
	raw.Normalize()
	return raw
}

func buildLogEntry(log types.Log) model.LogEntry {
	topics := make([]string, 0, len(log.Topics))
	for _, topic := range log.Topics {
		topics = append(topics, topic.Hex())
	}

	return model.LogEntry{
		Address:  log.Address.Hex(),
		Topics:   topics,
		Data:     hexutil.Encode(log.Data),
		LogIndex: uint64(log.Index),
	}
}
