package classify

import (
	"math/big"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"taxScope/internal/dex"
	"taxScope/internal/metadata"
	"taxScope/internal/model"
)

// event is a recognised log together with its emitter's protocol role.
type event struct {
	kind    dex.EventKind
	address string
	role    model.ContractRole
	log     model.LogEntry
}

// facts is everything the matchers may inspect about one transaction.
type facts struct {
	tx           model.RawTransaction
	events       []event
	movements    []model.AssetMovement
	lockDeposits []uint8
	// withdrawn and released total, per voting escrow, the amounts its Withdraw
	// logs report and the tokens it actually sent the wallet.
	withdrawn    map[string]*big.Int
	released     map[string]*big.Int
	toRole       model.ContractRole
	malformed    bool
}

func (f *facts) has(kind dex.EventKind, roles ...model.ContractRole) bool {
	for _, ev := range f.events {
		if ev.kind != kind {
			continue
		}
		if len(roles) == 0 {
			return true
		}
		for _, role := range roles {
			if ev.role == role {
				return true
			}
		}
	}
	return false
}

// shape summarises movement directions split by kind.
type shape struct {
	assetIn, assetOut       bool
	positionIn, positionOut bool
	protocolCounterparty    bool
}

func (f *facts) shape(lookup metadata.Lookup) shape {
	var s shape
	for _, m := range f.movements {
		in := m.Inflow()
		switch {
		case m.Kind == model.KindPosition && in:
			s.positionIn = true
		case m.Kind == model.KindPosition:
			s.positionOut = true
		case in:
			s.assetIn = true
		default:
			s.assetOut = true
		}
		if m.Counterparty != "" {
			if _, ok := lookup.Contract(m.Counterparty); ok {
				s.protocolCounterparty = true
			}
		}
	}
	return s
}

type netFlow struct {
	token        string
	amount       *big.Int
	nft          bool
	counterparty string
	logIndex     uint64
	order        int
}

func gatherFacts(tx model.RawTransaction, lookup metadata.Lookup, events *dex.EventSet) *facts {
	f := &facts{tx: tx, withdrawn: make(map[string]*big.Int), released: make(map[string]*big.Int)}
	wallet := model.NormalizeAddress(tx.Wallet)
	if c, ok := lookup.Contract(tx.To); ok {
		f.toRole = c.Role
	}

	flows := make(map[string]*netFlow)
	var order []string
	addFlow := func(token string, delta *big.Int, nft bool, counterparty string, logIndex uint64) {
		flow, ok := flows[token]
		if !ok {
			flow = &netFlow{token: token, amount: new(big.Int), counterparty: counterparty, logIndex: logIndex, order: len(order)}
			flows[token] = flow
			order = append(order, token)
		}
		flow.amount.Add(flow.amount, delta)
		flow.nft = flow.nft || nft
	}

	if model.NormalizeAddress(tx.From) == wallet && tx.Value != "" {
		value, err := parseWei(tx.Value)
		if err != nil {
			f.malformed = true
		} else if value.Sign() > 0 {
			addFlow(model.NativeToken, new(big.Int).Neg(value), false, model.NormalizeAddress(tx.To), 0)
		}
	}

	for _, log := range tx.Logs {
		kind, ok := events.Identify(log)
		if !ok {
			continue
		}
		ev := event{kind: kind, address: model.NormalizeAddress(log.Address), log: log}
		if c, ok := lookup.Contract(ev.address); ok {
			ev.role = c.Role
		}

		switch kind {
		case dex.EventTransfer:
			transfer, err := events.DecodeTransfer(log)
			if err != nil {
				f.malformed = true
				continue
			}
			if transfer.From == wallet && transfer.To != wallet {
				addFlow(transfer.Token, new(big.Int).Neg(transfer.Value), transfer.NFT, transfer.To, log.LogIndex)
			} else if transfer.To == wallet && transfer.From != wallet {
				addFlow(transfer.Token, transfer.Value, transfer.NFT, transfer.From, log.LogIndex)
				if c, ok := lookup.Contract(transfer.From); ok && c.Role == model.RoleLock && !transfer.NFT {
					accumulate(f.released, transfer.From, transfer.Value)
				}
			}
		case dex.EventLockDeposit:
			if ev.role == model.RoleLock {
				deposit, err := events.DecodeLockDeposit(log)
				if err != nil {
					f.malformed = true
					continue
				}
				f.lockDeposits = append(f.lockDeposits, deposit.DepositType)
			}
		case dex.EventLockWithdraw:
			if ev.role == model.RoleLock {
				withdrawal, err := events.DecodeLockWithdraw(log)
				if err != nil {
					f.malformed = true
					continue
				}
				accumulate(f.withdrawn, ev.address, withdrawal.Value)
			}
		}
		f.events = append(f.events, ev)
	}

	// An escrow withdrawal must release exactly what it reports.
	for escrow, amount := range f.withdrawn {
		released, ok := f.released[escrow]
		if !ok {
			released = new(big.Int)
		}
		if released.Cmp(amount) != 0 {
			f.malformed = true
		}
	}

	for _, token := range order {
		flow := flows[token]
		if flow.amount.Sign() == 0 {
			continue
		}
		f.movements = append(f.movements, buildMovement(flow, lookup))
	}
	sort.SliceStable(f.movements, func(i, j int) bool {
		return f.movements[i].LogIndex < f.movements[j].LogIndex
	})
	return f
}

func buildMovement(flow *netFlow, lookup metadata.Lookup) model.AssetMovement {
	kind := model.KindAsset
	if flow.nft {
		kind = model.KindPosition
	} else if c, ok := lookup.Contract(flow.token); ok && c.IsPool() {
		kind = model.KindPosition
	}

	decimals := int32(model.DefaultDecimals)
	symbol := ""
	if meta, ok := lookup.Token(flow.token); ok {
		decimals = int32(meta.Decimals)
		symbol = meta.Symbol
	} else if c, ok := lookup.Contract(flow.token); ok {
		symbol = c.Symbol
	}
	amount := decimal.NewFromBigInt(flow.amount, -decimals)
	if flow.nft {
		amount = decimal.NewFromBigInt(flow.amount, 0)
	}

	return model.AssetMovement{
		Token:        flow.token,
		Symbol:       symbol,
		Amount:       amount,
		Kind:         kind,
		Counterparty: flow.counterparty,
		LogIndex:     flow.logIndex,
	}
}

func accumulate(totals map[string]*big.Int, key string, value *big.Int) {
	total, ok := totals[key]
	if !ok {
		total = new(big.Int)
		totals[key] = total
	}
	total.Add(total, value)
}

func parseWei(value string) (*big.Int, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return hexutil.DecodeBig(strings.ToLower(value))
	}
	out, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, errInvalidWei
	}
	return out, nil
}
