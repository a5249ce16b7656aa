package dex

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"taxScope/internal/model"
)

// Transfer is a decoded ERC20 or ERC721 Transfer log.
type Transfer struct {
	Token    string
	From     string
	To       string
	Value    *big.Int
	NFT      bool
	LogIndex uint64
}

// LockDeposit is a decoded voting escrow Deposit log.
type LockDeposit struct {
	Provider    string
	TokenID     *big.Int
	DepositType uint8
	Value       *big.Int
}

// LockWithdraw is a decoded voting escrow Withdraw log.
type LockWithdraw struct {
	Provider string
	TokenID  *big.Int
	Value    *big.Int
}

// DecodeTransfer decodes a Transfer log. ERC721 transfers carry the token id
// as a fourth topic and are reported with NFT set and a value of one.
func (s *EventSet) DecodeTransfer(log model.LogEntry) (Transfer, error) {
	switch len(log.Topics) {
	case 3:
		topics, err := parseIndexedTopics(s.transfer, log.Topics)
		if err != nil {
			return Transfer{}, err
		}
		var indexed struct {
			From common.Address
			To   common.Address
		}
		if err := abi.ParseTopics(&indexed, indexedArguments(s.transfer.Inputs), topics); err != nil {
			return Transfer{}, fmt.Errorf("parse topics: %w", err)
		}
		values, err := unpackNonIndexed(s.transfer, log.Data)
		if err != nil {
			return Transfer{}, err
		}
		if len(values) != 1 {
			return Transfer{}, fmt.Errorf("unexpected transfer values: %d", len(values))
		}
		value, err := asBigInt(values[0])
		if err != nil {
			return Transfer{}, err
		}
		return Transfer{
			Token:    model.NormalizeAddress(log.Address),
			From:     addressString(indexed.From),
			To:       addressString(indexed.To),
			Value:    value,
			LogIndex: log.LogIndex,
		}, nil
	case 4:
		hashes, err := parseTopicHashes(log.Topics[1:3])
		if err != nil {
			return Transfer{}, err
		}
		return Transfer{
			Token:    model.NormalizeAddress(log.Address),
			From:     addressString(common.BytesToAddress(hashes[0].Bytes())),
			To:       addressString(common.BytesToAddress(hashes[1].Bytes())),
			Value:    big.NewInt(1),
			NFT:      true,
			LogIndex: log.LogIndex,
		}, nil
	default:
		return Transfer{}, fmt.Errorf("expected 3 or 4 topics, got %d", len(log.Topics))
	}
}

// DecodeLockDeposit decodes a voting escrow Deposit log.
func (s *EventSet) DecodeLockDeposit(log model.LogEntry) (LockDeposit, error) {
	topics, err := parseIndexedTopics(s.lockDeposit, log.Topics)
	if err != nil {
		return LockDeposit{}, err
	}
	var indexed struct {
		Provider    common.Address
		TokenId     *big.Int
		DepositType uint8
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(s.lockDeposit.Inputs), topics); err != nil {
		return LockDeposit{}, fmt.Errorf("parse topics: %w", err)
	}
	values, err := unpackNonIndexed(s.lockDeposit, log.Data)
	if err != nil {
		return LockDeposit{}, err
	}
	if len(values) != 3 {
		return LockDeposit{}, fmt.Errorf("unexpected deposit values: %d", len(values))
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return LockDeposit{}, err
	}
	return LockDeposit{
		Provider:    addressString(indexed.Provider),
		TokenID:     indexed.TokenId,
		DepositType: indexed.DepositType,
		Value:       value,
	}, nil
}

// DecodeLockWithdraw decodes a voting escrow Withdraw log.
func (s *EventSet) DecodeLockWithdraw(log model.LogEntry) (LockWithdraw, error) {
	topics, err := parseIndexedTopics(s.lockWithdraw, log.Topics)
	if err != nil {
		return LockWithdraw{}, err
	}
	var indexed struct {
		Provider common.Address
		TokenId  *big.Int
	}
	if err := abi.ParseTopics(&indexed, indexedArguments(s.lockWithdraw.Inputs), topics); err != nil {
		return LockWithdraw{}, fmt.Errorf("parse topics: %w", err)
	}
	values, err := unpackNonIndexed(s.lockWithdraw, log.Data)
	if err != nil {
		return LockWithdraw{}, err
	}
	if len(values) != 2 {
		return LockWithdraw{}, fmt.Errorf("unexpected withdraw values: %d", len(values))
	}
	value, err := asBigInt(values[0])
	if err != nil {
		return LockWithdraw{}, err
	}
	return LockWithdraw{
		Provider: addressString(indexed.Provider),
		TokenID:  indexed.TokenId,
		Value:    value,
	}, nil
}

func addressString(addr common.Address) string {
	return model.NormalizeAddress(addr.Hex())
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string) ([]interface{}, error) {
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	values, err := event.Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return values, nil
}
