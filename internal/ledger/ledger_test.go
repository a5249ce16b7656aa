package ledger

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taxScope/internal/model"
)

const (
	wallet = "0x1111111111111111111111111111111111111111"
	aero   = "0x940181a94a35a4569e4529a3cdfb74e38fd98631"
	weth   = "0x4200000000000000000000000000000000000006"
	escrow = "0xebf418fe2512e7e6bd9b87a8f0f294acdc67e6b4"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func mv(hash string, day int, cat model.ActionCategory, token, amount, price string) model.ValuedMovement {
	amt := decimal.RequireFromString(amount)
	p := decimal.RequireFromString(price)
	return model.ValuedMovement{
		AssetMovement: model.AssetMovement{Token: token, Amount: amt, Kind: model.KindAsset},
		Wallet:        wallet,
		TxHash:        hash,
		Timestamp:     t0.AddDate(0, 0, day),
		Category:      cat,
		PriceUSD:      p,
		ValueUSD:      amt.Mul(p),
	}
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func twoLots(t *testing.T, method Method) *Ledger {
	t.Helper()
	l := NewLedger(wallet, aero, method, 0)
	if _, err := l.Acquire(mv("0x01", 0, model.CategorySwap, aero, "10", "1")); err != nil {
		t.Fatalf("acquire A: %v", err)
	}
	if _, err := l.Acquire(mv("0x02", 1, model.CategorySwap, aero, "5", "2")); err != nil {
		t.Fatalf("acquire B: %v", err)
	}
	return l
}

func TestDisposeFIFO(t *testing.T) {
	l := twoLots(t, FIFO)
	ev, err := l.Dispose(mv("0x03", 2, model.CategorySwap, aero, "-12", "3"))
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if !ev.CostBasisUSD.Equal(dec("14")) {
		t.Fatalf("cost basis = %s, want 14", ev.CostBasisUSD)
	}
	if !ev.ProceedsUSD.Equal(dec("36")) || !ev.GainUSD.Equal(dec("22")) {
		t.Fatalf("proceeds/gain = %s/%s", ev.ProceedsUSD, ev.GainUSD)
	}
	if len(ev.Lots) != 2 || ev.Lots[0].LotID != 1 || !ev.Lots[0].Quantity.Equal(dec("10")) || !ev.Lots[1].Quantity.Equal(dec("2")) {
		t.Fatalf("consumption mismatch: %+v", ev.Lots)
	}
	lots := l.Lots()
	if !lots[0].Exhausted() || !lots[1].RemainingQuantity.Equal(dec("3")) {
		t.Fatalf("remaining mismatch: %+v", lots)
	}
}

func TestDisposeLIFO(t *testing.T) {
	l := twoLots(t, LIFO)
	ev, err := l.Dispose(mv("0x03", 2, model.CategorySwap, aero, "-12", "3"))
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if !ev.CostBasisUSD.Equal(dec("17")) {
		t.Fatalf("cost basis = %s, want 17", ev.CostBasisUSD)
	}
	if ev.Lots[0].LotID != 2 || !ev.Lots[1].Quantity.Equal(dec("7")) {
		t.Fatalf("consumption mismatch: %+v", ev.Lots)
	}
	lots := l.Lots()
	if !lots[0].RemainingQuantity.Equal(dec("3")) || !lots[1].Exhausted() {
		t.Fatalf("remaining mismatch: %+v", lots)
	}
}

func TestPartialConsumptionKeepsLotIdentity(t *testing.T) {
	l := NewLedger(wallet, aero, FIFO, 0)
	acquired, err := l.Acquire(mv("0x01", 0, model.CategorySwap, aero, "10", "1.5"))
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Dispose(mv("0x02", 1, model.CategorySwap, aero, "-3", "2")); err != nil {
		t.Fatalf("dispose: %v", err)
	}
	lots := l.Lots()
	if len(lots) != 1 {
		t.Fatalf("lots = %d, want 1", len(lots))
	}
	got := lots[0]
	if got.ID != acquired.ID || !got.AcquiredAt.Equal(acquired.AcquiredAt) || !got.CostBasisPerUnit.Equal(dec("1.5")) {
		t.Fatalf("lot identity changed: %+v", got)
	}
	if !got.RemainingQuantity.Equal(dec("7")) || !got.OriginalQuantity.Equal(dec("10")) {
		t.Fatalf("quantities = %s/%s", got.RemainingQuantity, got.OriginalQuantity)
	}
}

func TestInsufficientLotsLeavesLedgerUnchanged(t *testing.T) {
	l := twoLots(t, FIFO)
	before := l.Lots()
	_, err := l.Dispose(mv("0x03", 2, model.CategorySwap, aero, "-16", "1"))
	if !errors.Is(err, ErrInsufficientLots) {
		t.Fatalf("err = %v, want ErrInsufficientLots", err)
	}
	var lotErr *InsufficientLotError
	if !errors.As(err, &lotErr) || !lotErr.Available.Equal(dec("15")) || !lotErr.Requested.Equal(dec("16")) {
		t.Fatalf("unexpected error detail: %v", err)
	}
	if !reflect.DeepEqual(before, l.Lots()) {
		t.Fatalf("lots mutated on failure")
	}
	if l.Applied("0x03") {
		t.Fatalf("failed movement marked applied")
	}
}

func TestOrderingAndDuplicates(t *testing.T) {
	l := NewLedger(wallet, aero, FIFO, 0)
	if _, err := l.Acquire(mv("0xbb", 1, model.CategorySwap, aero, "1", "1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(mv("0xbb", 2, model.CategorySwap, aero, "1", "1")); !errors.Is(err, ErrDuplicateMovement) {
		t.Fatalf("err = %v, want ErrDuplicateMovement", err)
	}
	if _, err := l.Acquire(mv("0xcc", 0, model.CategorySwap, aero, "1", "1")); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("err = %v, want ErrOutOfOrder", err)
	}
	if _, err := l.Acquire(mv("0xaa", 1, model.CategorySwap, aero, "1", "1")); !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("same timestamp lower hash: err = %v, want ErrOutOfOrder", err)
	}
	if _, err := l.Acquire(mv("0xcc", 1, model.CategorySwap, aero, "1", "1")); err != nil {
		t.Fatalf("same timestamp higher hash: %v", err)
	}
	if _, err := l.Acquire(mv("0xdd", 3, model.CategorySwap, weth, "1", "1")); !errors.Is(err, ErrWrongToken) {
		t.Fatalf("err = %v, want ErrWrongToken", err)
	}
}

func TestHoldingPeriod(t *testing.T) {
	l := NewLedger(wallet, aero, FIFO, 365*24*time.Hour)
	if _, err := l.Acquire(mv("0x01", 0, model.CategorySwap, aero, "1", "1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := l.Acquire(mv("0x02", 300, model.CategorySwap, aero, "1", "1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ev, err := l.Dispose(mv("0x03", 400, model.CategorySwap, aero, "-1", "1"))
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if ev.HoldingPeriod != model.HoldingLong {
		t.Fatalf("holding = %q, want long", ev.HoldingPeriod)
	}
	if _, err := l.Acquire(mv("0x04", 401, model.CategorySwap, aero, "1", "1")); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	ev, err = l.Dispose(mv("0x05", 402, model.CategorySwap, aero, "-2", "1"))
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if ev.HoldingPeriod != model.HoldingShort {
		t.Fatalf("holding = %q, want short", ev.HoldingPeriod)
	}
}

func TestCustodyDepositAndRelease(t *testing.T) {
	l := twoLots(t, FIFO)
	lock := mv("0x03", 2, model.CategoryLockCreate, aero, "-12", "3")
	lock.Counterparty = escrow
	if err := l.Deposit(lock); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !l.Held().Equal(dec("3")) || !l.InCustody().Equal(dec("12")) {
		t.Fatalf("held/custody = %s/%s", l.Held(), l.InCustody())
	}
	pocket := l.Custody(escrow)
	if len(pocket) != 2 || pocket[0].ID != 1 || !pocket[1].RemainingQuantity.Equal(dec("2")) {
		t.Fatalf("pocket mismatch: %+v", pocket)
	}

	withdraw := mv("0x04", 400, model.CategoryLockWithdraw, aero, "13", "4")
	withdraw.Counterparty = escrow
	income, err := l.Release(withdraw)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if income == nil || !income.Quantity.Equal(dec("1")) || !income.ValueUSD.Equal(dec("4")) {
		t.Fatalf("excess income mismatch: %+v", income)
	}
	if !l.Held().Equal(dec("16")) || !l.InCustody().IsZero() {
		t.Fatalf("held/custody = %s/%s", l.Held(), l.InCustody())
	}

	// Basis of the released lots is unchanged by custody.
	ev, err := l.Dispose(mv("0x05", 401, model.CategorySwap, aero, "-10", "5"))
	if err != nil {
		t.Fatalf("dispose: %v", err)
	}
	if !ev.CostBasisUSD.Equal(dec("10")) {
		t.Fatalf("cost basis = %s, want 10", ev.CostBasisUSD)
	}
}

func TestBookIncomeSeeding(t *testing.T) {
	book, err := NewBook(wallet, Config{Method: FIFO})
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	out, err := book.Apply([]model.ValuedMovement{
		mv("0x01", 0, model.CategoryClaimRewards, aero, "100", "2"),
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(out.Income) != 1 || !out.Income[0].ValueUSD.Equal(dec("200")) || out.Income[0].Tag != model.TagIncome {
		t.Fatalf("income mismatch: %+v", out.Income)
	}
	if len(out.Realized) != 0 {
		t.Fatalf("unexpected realized events")
	}
	l, ok := book.Ledger(aero)
	if !ok {
		t.Fatalf("ledger missing")
	}
	lots := l.Lots()
	if len(lots) != 1 || !lots[0].OriginalQuantity.Equal(dec("100")) || !lots[0].CostBasisPerUnit.Equal(dec("2")) {
		t.Fatalf("seeded lot mismatch: %+v", lots)
	}
}

func TestBookIncomeRulesOverride(t *testing.T) {
	rules, err := ParseIncomeRules([]string{"claim_fees=capital"})
	if err != nil {
		t.Fatalf("parse rules: %v", err)
	}
	book, err := NewBook(wallet, Config{Method: FIFO, IncomeRules: rules})
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	out, err := book.Apply([]model.ValuedMovement{mv("0x01", 0, model.CategoryClaimFees, aero, "5", "1")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(out.Income) != 0 {
		t.Fatalf("fees tagged capital must not produce income")
	}
	if !book.Seen(aero, "0x01") {
		t.Fatalf("movement should be applied")
	}
	if _, err := ParseIncomeRules([]string{"SWAP"}); err == nil {
		t.Fatalf("expected error for malformed rule")
	}
}

func TestBookConservation(t *testing.T) {
	book, err := NewBook(wallet, Config{Method: LIFO})
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	movements := []model.ValuedMovement{
		mv("0x01", 0, model.CategorySwap, aero, "50", "1"),
		mv("0x02", 1, model.CategoryClaimRewards, aero, "7.25", "1.1"),
		mv("0x03", 2, model.CategorySwap, aero, "-20.5", "1.2"),
		mv("0x04", 3, model.CategoryLPAdd, aero, "-10", "1.3"),
		mv("0x05", 4, model.CategoryLPRemove, aero, "12.125", "1.4"),
		mv("0x06", 5, model.CategoryTransfer, aero, "-1", "1.5"),
	}
	if _, err := book.Apply(movements); err != nil {
		t.Fatalf("apply: %v", err)
	}
	net := decimal.Zero
	for _, m := range movements {
		net = net.Add(m.Amount)
	}
	l, _ := book.Ledger(aero)
	if !l.Held().Equal(net) {
		t.Fatalf("held = %s, net = %s", l.Held(), net)
	}
}

func TestBookApplyIsolatesFailedToken(t *testing.T) {
	book, err := NewBook(wallet, Config{Method: FIFO})
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	out, err := book.Apply([]model.ValuedMovement{
		mv("0x01", 0, model.CategorySwap, aero, "5", "1"),
		mv("0x01", 0, model.CategorySwap, weth, "-1", "3000"),
		mv("0x02", 1, model.CategorySwap, aero, "-2", "1"),
	})
	if !errors.Is(err, ErrInsufficientLots) {
		t.Fatalf("err = %v, want ErrInsufficientLots", err)
	}
	if len(out.Realized) != 1 || out.Realized[0].Token != aero {
		t.Fatalf("aero run should still commit: %+v", out.Realized)
	}
	if _, ok := book.Ledger(weth); ok {
		t.Fatalf("failed token must not be committed")
	}
}

func TestBookRunDiscardsOnError(t *testing.T) {
	book, err := NewBook(wallet, Config{Method: FIFO})
	if err != nil {
		t.Fatalf("new book: %v", err)
	}
	if _, err := book.Apply([]model.ValuedMovement{mv("0x01", 0, model.CategorySwap, aero, "5", "1")}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	_, err = book.Run(aero, []model.ValuedMovement{
		mv("0x02", 1, model.CategorySwap, aero, "-2", "1"),
		mv("0x03", 2, model.CategorySwap, aero, "-9", "1"),
	})
	if err == nil {
		t.Fatalf("expected run error")
	}
	l, _ := book.Ledger(aero)
	if !l.Held().Equal(dec("5")) || l.Applied("0x02") {
		t.Fatalf("failed run leaked into committed ledger")
	}
}

func TestSnapshotRestoreResume(t *testing.T) {
	cfg := Config{Method: FIFO}
	first, _ := NewBook(wallet, cfg)
	all := []model.ValuedMovement{
		mv("0x01", 0, model.CategorySwap, aero, "10", "1"),
		mv("0x02", 1, model.CategorySwap, aero, "5", "2"),
		mv("0x03", 2, model.CategorySwap, aero, "-12", "3"),
	}
	want, err := first.Apply(all)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	second, _ := NewBook(wallet, cfg)
	if _, err := second.Apply(all[:2]); err != nil {
		t.Fatalf("apply head: %v", err)
	}
	store := &FileStateStore{Dir: t.TempDir()}
	if err := store.SaveCheckpoint(context.Background(), second.Snapshot()); err != nil {
		t.Fatalf("save: %v", err)
	}
	cp, ok, err := store.LoadCheckpoint(context.Background(), wallet)
	if err != nil || !ok {
		t.Fatalf("load: ok=%v err=%v", ok, err)
	}

	resumed, _ := NewBook(wallet, cfg)
	if err := resumed.Restore(cp); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !resumed.Seen(aero, "0x01") || resumed.Seen(aero, "0x03") {
		t.Fatalf("applied set not restored")
	}
	got, err := resumed.Apply(all[2:])
	if err != nil {
		t.Fatalf("apply tail: %v", err)
	}
	if !reflect.DeepEqual(eventKeys(got.Realized), eventKeys(want.Realized)) {
		t.Fatalf("resumed events differ:\n got %v\nwant %v", eventKeys(got.Realized), eventKeys(want.Realized))
	}
	if _, err := resumed.Apply(all[2:]); !errors.Is(err, ErrDuplicateMovement) {
		t.Fatalf("err = %v, want ErrDuplicateMovement", err)
	}

	lifo, _ := NewBook(wallet, Config{Method: LIFO})
	if err := lifo.Restore(cp); !errors.Is(err, ErrMethodMismatch) {
		t.Fatalf("err = %v, want ErrMethodMismatch", err)
	}
}

func TestParseMethod(t *testing.T) {
	if m, err := ParseMethod(" lifo "); err != nil || m != LIFO {
		t.Fatalf("parse lifo: %v %v", m, err)
	}
	if _, err := ParseMethod("hifo"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := NewBook(wallet, Config{Method: "avg"}); err == nil {
		t.Fatalf("expected config error")
	}
}

func eventKeys(events []model.RealizedEvent) []string {
	keys := make([]string, 0, len(events))
	for _, ev := range events {
		key := fmt.Sprintf("%s|%s|%s|%s|%s", ev.TxHash, ev.Quantity, ev.ProceedsUSD, ev.CostBasisUSD, ev.GainUSD)
		for _, c := range ev.Lots {
			key += fmt.Sprintf("|%d:%s", c.LotID, c.Quantity)
		}
		keys = append(keys, key)
	}
	return keys
}
