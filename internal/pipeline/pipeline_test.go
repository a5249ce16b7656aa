package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"taxScope/internal/classify"
	"taxScope/internal/dex"
	"taxScope/internal/ledger"
	"taxScope/internal/metadata"
	"taxScope/internal/model"
	"taxScope/internal/pricing"
	"taxScope/internal/report"
	"taxScope/internal/storage"
	"taxScope/internal/valuation"
)

const (
	wallet  = "0x1111111111111111111111111111111111111111"
	friend  = "0x8888888888888888888888888888888888888888"
	rewards = "0x6666666666666666666666666666666666666666"
	aero    = "0x940181a94a35a4569e4529a3cdfb74e38fd98631"
	usdc    = "0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"
	weth    = "0x4200000000000000000000000000000000000006"
	mystery = "0x9999999999999999999999999999999999999999"

	base = 1735689600
)

func units(whole int64, decimals int) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func addrTopic(addr string) string {
	return common.BytesToHash(common.LeftPadBytes(common.HexToAddress(addr).Bytes(), 32)).Hex()
}

func transfer(t *testing.T, token, from, to string, amount *big.Int, index uint64) model.LogEntry {
	t.Helper()
	erc20, err := dex.ERC20ABI()
	if err != nil {
		t.Fatalf("abi: %v", err)
	}
	ev := erc20.Events["Transfer"]
	data, err := ev.Inputs.NonIndexed().Pack(amount)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return model.LogEntry{
		Address:  token,
		Topics:   []string{ev.ID.Hex(), addrTopic(from), addrTopic(to)},
		Data:     hexutil.Encode(data),
		LogIndex: index,
	}
}

func tx(hash string, ts uint64, logs ...model.LogEntry) model.RawTransaction {
	return model.RawTransaction{
		Hash:        hash,
		Wallet:      wallet,
		BlockNumber: 100 + ts - base,
		Timestamp:   ts,
		From:        wallet,
		To:          friend,
		Value:       "0",
		Status:      model.TxStatusSuccess,
		Logs:        logs,
	}
}

// paid sets the gas of a wallet-sent transaction to a 0.0001 ETH fee.
func paid(raw model.RawTransaction) model.RawTransaction {
	raw.GasUsed = 100000
	raw.EffectiveGasPrice = "1000000000"
	return raw
}

func fixture(t *testing.T) []model.RawTransaction {
	reverted := paid(tx("0x06", base+360, transfer(t, aero, wallet, friend, units(1, 18), 0)))
	reverted.Status = 0
	return []model.RawTransaction{
		tx("0x00", base+60, transfer(t, usdc, friend, wallet, units(100, 6), 0)),
		tx("0x01", base+120, transfer(t, aero, friend, wallet, units(10, 18), 0)),
		tx("0x02", base+180,
			transfer(t, usdc, wallet, friend, units(100, 6), 0),
			transfer(t, aero, friend, wallet, units(50, 18), 1),
		),
		tx("0x03", base+240, transfer(t, aero, rewards, wallet, units(5, 18), 0)),
		tx("0x05", base+300, transfer(t, mystery, friend, wallet, units(7, 18), 0)),
		reverted,
		paid(tx("0x04", base+36000, transfer(t, aero, wallet, friend, units(60, 18), 0))),
		tx("0x07", base+39600, transfer(t, weth, wallet, friend, units(1, 18), 0)),
		// Duplicate delivery of the same transaction.
		tx("0x01", base+120, transfer(t, aero, friend, wallet, units(10, 18), 0)),
	}
}

func newPipeline(t *testing.T, state ledger.StateStore, sink storage.ResultSink) *Pipeline {
	t.Helper()
	reg := metadata.NewRegistry([]model.ContractMeta{
		{Address: rewards, Role: model.RoleReward},
	}, []model.TokenMeta{
		{Address: aero, Decimals: 18, Symbol: "AERO"},
		{Address: usdc, Decimals: 6, Symbol: "USDC"},
		{Address: weth, Decimals: 18, Symbol: "WETH"},
	})
	classifier, err := classify.New(reg)
	if err != nil {
		t.Fatalf("classifier: %v", err)
	}
	feed := pricing.NewStaticFeed([]model.PriceSample{
		{Token: aero, Timestamp: time.Unix(base, 0), PriceUSD: decimal.NewFromInt(2)},
		{Token: aero, Timestamp: time.Unix(base+36000, 0), PriceUSD: decimal.NewFromInt(3)},
		{Token: weth, Timestamp: time.Unix(base+39600, 0), PriceUSD: decimal.NewFromInt(3000)},
		{Token: model.NativeToken, Timestamp: time.Unix(base, 0), PriceUSD: decimal.NewFromInt(3000)},
		{Token: model.NativeToken, Timestamp: time.Unix(base+36000, 0), PriceUSD: decimal.NewFromInt(3000)},
	})
	resolver := pricing.NewResolver(pricing.ResolverConfig{Stablecoins: []string{usdc}}, []pricing.Source{
		pricing.NewFeedSource("static", feed, time.Hour),
	}, nil)

	p, err := New(Deps{
		Classifier: classifier,
		Valuer:     valuation.NewValuer(resolver, 4, nil),
		Assembler:  report.NewAssembler(report.CalendarYear(), 0),
		State:      state,
		Sink:       sink,
	}, Config{Ledger: ledger.Config{Method: ledger.FIFO}, Concurrency: 4})
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p
}

func TestRunWalletEndToEnd(t *testing.T) {
	p := newPipeline(t, nil, nil)
	res, err := p.RunWallet(context.Background(), wallet, fixture(t))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(res.Realized) != 2 {
		t.Fatalf("realized = %d, want 2", len(res.Realized))
	}
	usdcSale, aeroSale := res.Realized[0], res.Realized[1]
	if usdcSale.TxHash != "0x02" || usdcSale.Token != usdc || !usdcSale.GainUSD.IsZero() {
		t.Fatalf("usdc disposal mismatch: %+v", usdcSale)
	}
	if aeroSale.TxHash != "0x04" || !aeroSale.ProceedsUSD.Equal(decimal.NewFromInt(180)) ||
		!aeroSale.CostBasisUSD.Equal(decimal.NewFromInt(120)) || !aeroSale.GainUSD.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("aero disposal mismatch: %+v", aeroSale)
	}
	if aeroSale.Category != model.CategoryTransfer {
		t.Fatalf("aero disposal category = %s", aeroSale.Category)
	}

	if len(res.Income) != 1 || res.Income[0].Category != model.CategoryClaimRewards || !res.Income[0].ValueUSD.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("income mismatch: %+v", res.Income)
	}

	wantReview := map[string]model.ReviewReason{
		"0x05": model.ReviewNeedsManualPrice,
		"0x06": model.ReviewReverted,
		"0x07": model.ReviewLedgerError,
	}
	if len(res.Review) != len(wantReview) {
		t.Fatalf("review = %+v", res.Review)
	}
	for _, item := range res.Review {
		if wantReview[item.TxHash] != item.Reason {
			t.Fatalf("review %s reason = %s", item.TxHash, item.Reason)
		}
	}
	if len(res.Failures) != 1 || res.Failures[0].Token != weth || res.Failures[0].TxHash != "0x07" {
		t.Fatalf("failures = %+v", res.Failures)
	}

	if len(res.Fees) != 2 || res.Fees[0].TxHash != "0x06" || !res.Fees[0].Reverted || res.Fees[1].TxHash != "0x04" {
		t.Fatalf("fees = %+v", res.Fees)
	}
	if !res.Fees[1].ValueUSD.Equal(decimal.RequireFromString("0.3")) {
		t.Fatalf("fee value = %s", res.Fees[1].ValueUSD)
	}

	if len(res.Report.Years) != 1 || res.Report.Years[0].Year != 2025 {
		t.Fatalf("years = %+v", res.Report.Years)
	}
	if !res.Report.Years[0].FeesUSD.Equal(decimal.RequireFromString("0.6")) || res.Report.Years[0].FeeCount != 2 {
		t.Fatalf("fee totals = %s/%d", res.Report.Years[0].FeesUSD, res.Report.Years[0].FeeCount)
	}
	if !res.Report.AsOf.Equal(time.Unix(base+39600, 0)) {
		t.Fatalf("as of = %s", res.Report.AsOf)
	}
	if !res.Report.Years[0].NetGainUSD.Equal(decimal.NewFromInt(60)) || !res.Report.Years[0].IncomeUSD.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("year totals mismatch: %+v", res.Report.Years[0])
	}
	if res.Report.Method != "FIFO" || res.Report.Wallet != wallet {
		t.Fatalf("report header mismatch: %s %s", res.Report.Method, res.Report.Wallet)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	var outputs [][]byte
	for i := 0; i < 3; i++ {
		results, err := newPipeline(t, nil, nil).Run(context.Background(), fixture(t))
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if len(results) != 1 {
			t.Fatalf("results = %d", len(results))
		}
		path := filepath.Join(dir, "report.csv")
		if err := storage.WriteReportCSV(path, report.Rows(results[0].Report)); err != nil {
			t.Fatalf("write csv: %v", err)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read csv: %v", err)
		}
		outputs = append(outputs, data)
	}
	for i := 1; i < len(outputs); i++ {
		if !bytes.Equal(outputs[0], outputs[i]) {
			t.Fatalf("run %d differs:\n%s\nvs\n%s", i, outputs[0], outputs[i])
		}
	}
}

func TestRunWalletResumesFromCheckpoint(t *testing.T) {
	state := &ledger.FileStateStore{Dir: t.TempDir()}
	all := fixture(t)

	first, err := newPipeline(t, state, nil).RunWallet(context.Background(), wallet, all[:4])
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if len(first.Realized) != 1 || len(first.Income) != 1 {
		t.Fatalf("first run events = %d/%d", len(first.Realized), len(first.Income))
	}

	sinkDir := t.TempDir()
	sink := storage.NewJsonlStorage(sinkDir, "")
	second, err := newPipeline(t, state, sink).RunWallet(context.Background(), wallet, all)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Skipped != 5 {
		t.Fatalf("skipped = %d, want 5", second.Skipped)
	}
	if len(second.Realized) != 1 || second.Realized[0].TxHash != "0x04" || !second.Realized[0].CostBasisUSD.Equal(decimal.NewFromInt(120)) {
		t.Fatalf("resumed realized mismatch: %+v", second.Realized)
	}
	if len(second.Income) != 0 {
		t.Fatalf("income replayed on resume")
	}

	fresh, err := newPipeline(t, nil, nil).RunWallet(context.Background(), wallet, all)
	if err != nil {
		t.Fatalf("stateless run: %v", err)
	}
	if got, want := csvBytes(t, second.Report), csvBytes(t, fresh.Report); !bytes.Equal(got, want) {
		t.Fatalf("resumed report differs from a full run:\n%s\nvs\n%s", got, want)
	}

	written, err := storage.ReadJSONL[model.RealizedEvent](filepath.Join(sinkDir, "realized.jsonl"))
	if err != nil {
		t.Fatalf("read sink: %v", err)
	}
	if len(written) != 1 || written[0].TxHash != "0x04" {
		t.Fatalf("sink mismatch: %+v", written)
	}
}

func csvBytes(t *testing.T, rep model.TaxReport) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "report.csv")
	if err := storage.WriteReportCSV(path, report.Rows(rep)); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	return data
}

func TestRunWithStateIsRepeatable(t *testing.T) {
	state := &ledger.FileStateStore{Dir: t.TempDir()}

	first, err := newPipeline(t, state, nil).Run(context.Background(), fixture(t))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := newPipeline(t, state, nil).Run(context.Background(), fixture(t))
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(second[0].Realized) != 0 || len(second[0].Income) != 0 {
		t.Fatalf("second run re-emitted events: %d/%d", len(second[0].Realized), len(second[0].Income))
	}

	if !bytes.Equal(csvBytes(t, first[0].Report), csvBytes(t, second[0].Report)) {
		t.Fatalf("rows differ across identical runs")
	}
	a, err := json.Marshal(first[0].Report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	b, err := json.Marshal(second[0].Report)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Fatalf("report json differs:\n%s\nvs\n%s", a, b)
	}
	if n := len(second[0].Report.Years[0].Realized); n != 2 {
		t.Fatalf("report realized = %d, want 2", n)
	}
}

func TestRunRejectsMismatchedCheckpointBeforeWriting(t *testing.T) {
	const other = "0x2222222222222222222222222222222222222222"
	state := &ledger.FileStateStore{Dir: t.TempDir()}
	if err := state.SaveCheckpoint(context.Background(), model.LedgerCheckpoint{Wallet: other, Method: string(ledger.LIFO)}); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	txs := fixture(t)
	for _, raw := range fixture(t) {
		raw.Wallet = other
		raw.From = other
		txs = append(txs, raw)
	}

	sinkDir := t.TempDir()
	p := newPipeline(t, state, storage.NewJsonlStorage(sinkDir, ""))
	p.cfg.Concurrency = 1
	if _, err := p.Run(context.Background(), txs); !errors.Is(err, ledger.ErrMethodMismatch) {
		t.Fatalf("expected method mismatch, got %v", err)
	}

	if _, ok, err := state.LoadCheckpoint(context.Background(), wallet); err != nil || ok {
		t.Fatalf("first wallet checkpoint written: ok=%v err=%v", ok, err)
	}
	if _, err := os.Stat(filepath.Join(sinkDir, "realized.jsonl")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("sink written before rejection: %v", err)
	}
}

func TestNewRequiresStages(t *testing.T) {
	if _, err := New(Deps{}, Config{}); err == nil {
		t.Fatalf("expected error without stages")
	}
}
