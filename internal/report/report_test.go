package report

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"taxScope/internal/model"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestParseBoundary(t *testing.T) {
	b, err := ParseBoundary("04-06", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if b.Month != time.April || b.Day != 6 || b.Location != time.UTC {
		t.Fatalf("boundary mismatch: %+v", b)
	}
	for _, bad := range []string{"13-01", "4/6", "02-29", "00-10", "01-32"} {
		if _, err := ParseBoundary(bad, "UTC"); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
	if _, err := ParseBoundary("01-01", "Not/AZone"); err == nil {
		t.Fatalf("expected time zone error")
	}
}

func TestYearOfUsesStartYear(t *testing.T) {
	b := Boundary{Month: time.April, Day: 6, Location: time.FixedZone("UK", 0)}
	cases := []struct {
		at   time.Time
		want int
	}{
		{time.Date(2024, 4, 5, 23, 59, 59, 0, time.UTC), 2023},
		{time.Date(2024, 4, 6, 0, 0, 0, 0, time.UTC), 2024},
		{time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC), 2024},
	}
	for _, tc := range cases {
		if got := b.YearOf(tc.at); got != tc.want {
			t.Fatalf("YearOf(%s) = %d, want %d", tc.at, got, tc.want)
		}
	}

	shifted := Boundary{Month: time.January, Day: 1, Location: time.FixedZone("UTC+9", 9*3600)}
	if got := shifted.YearOf(time.Date(2024, 12, 31, 16, 0, 0, 0, time.UTC)); got != 2025 {
		t.Fatalf("zone-shifted year = %d, want 2025", got)
	}
}

func TestAssembleGroupsAndTotals(t *testing.T) {
	realized := []model.RealizedEvent{
		{Wallet: "0xw", Token: "0xt", TxHash: "0x02", DisposedAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			Quantity: dec("1"), ProceedsUSD: dec("50"), CostBasisUSD: dec("20"), GainUSD: dec("30"), HoldingPeriod: model.HoldingLong, Tag: model.TagCapital},
		{Wallet: "0xw", Token: "0xt", TxHash: "0x01", DisposedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Quantity: dec("1"), ProceedsUSD: dec("10"), CostBasisUSD: dec("15"), GainUSD: dec("-5"), HoldingPeriod: model.HoldingShort, Tag: model.TagCapital},
		{Wallet: "0xw", Token: "0xt", TxHash: "0x03", DisposedAt: time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
			Quantity: dec("2"), ProceedsUSD: dec("8"), CostBasisUSD: dec("2"), GainUSD: dec("6"), Tag: model.TagCapital},
	}
	income := []model.IncomeEvent{
		{Wallet: "0xw", Token: "0xr", TxHash: "0x04", ReceivedAt: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
			Quantity: dec("100"), PriceUSD: dec("2"), ValueUSD: dec("200"), Category: model.CategoryClaimRewards, Tag: model.TagIncome},
	}

	fees := []model.FeeEvent{
		{Wallet: "0xw", TxHash: "0x02", PaidAt: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Quantity: dec("0.001"), ValueUSD: dec("3"), Category: model.CategorySwap},
		{Wallet: "0xw", TxHash: "0x05", PaidAt: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Quantity: dec("0.001"), ValueUSD: dec("2"), Reverted: true},
	}

	a := NewAssembler(CalendarYear(), 0)
	rep := a.Assemble(realized, income, fees)
	if rep.Wallet != "0xw" {
		t.Fatalf("wallet = %s", rep.Wallet)
	}
	if !rep.AsOf.Equal(time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("as of = %s", rep.AsOf)
	}
	if len(rep.Years) != 2 || rep.Years[0].Year != 2024 || rep.Years[1].Year != 2025 {
		t.Fatalf("years mismatch: %+v", rep.Years)
	}
	y := rep.Years[0]
	if y.DisposalCount != 2 || y.IncomeCount != 1 || y.FeeCount != 1 {
		t.Fatalf("counts = %d/%d/%d", y.DisposalCount, y.IncomeCount, y.FeeCount)
	}
	if !y.FeesUSD.Equal(dec("3")) || !rep.Years[1].FeesUSD.Equal(dec("2")) {
		t.Fatalf("fee totals = %s %s", y.FeesUSD, rep.Years[1].FeesUSD)
	}
	if !y.ProceedsUSD.Equal(dec("60")) || !y.CostBasisUSD.Equal(dec("35")) || !y.NetGainUSD.Equal(dec("25")) {
		t.Fatalf("totals mismatch: %s %s %s", y.ProceedsUSD, y.CostBasisUSD, y.NetGainUSD)
	}
	if !y.ShortTermUSD.Equal(dec("-5")) || !y.LongTermUSD.Equal(dec("30")) || !y.IncomeUSD.Equal(dec("200")) {
		t.Fatalf("split mismatch: %s %s %s", y.ShortTermUSD, y.LongTermUSD, y.IncomeUSD)
	}
	if y.Realized[0].TxHash != "0x01" {
		t.Fatalf("events not in time order")
	}
	if realized[0].TxHash != "0x02" {
		t.Fatalf("input was reordered")
	}
	if !rep.Years[1].Start.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("start = %s", rep.Years[1].Start)
	}

	rows := Rows(rep)
	if len(rows) != 6 {
		t.Fatalf("rows = %d, want 6", len(rows))
	}
	if rows[0].TxHash != "0x01" || rows[1].Kind != RowKindIncome || rows[4].TaxYear != 2025 {
		t.Fatalf("row order mismatch: %+v", rows)
	}
	if rows[2].Kind != RowKindFee || rows[2].TxHash != "0x02" || rows[2].Symbol != model.NativeSymbol || !rows[2].ValueUSD.Equal(dec("3")) {
		t.Fatalf("fee row mismatch: %+v", rows[2])
	}
	if rows[3].Kind != RowKindDisposal || rows[3].TxHash != "0x02" {
		t.Fatalf("disposal row mismatch: %+v", rows[3])
	}
	if rows[5].Kind != RowKindFee || rows[5].TxHash != "0x05" {
		t.Fatalf("reverted fee row mismatch: %+v", rows[5])
	}

	again := a.Assemble(realized, income, fees)
	if !again.AsOf.Equal(rep.AsOf) {
		t.Fatalf("as of differs across identical inputs")
	}
}

func TestAssembleSplitsMixedHolding(t *testing.T) {
	year := 365 * 24 * time.Hour
	disposed := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	ev := model.RealizedEvent{
		Wallet: "0xw", Token: "0xt", TxHash: "0x01", DisposedAt: disposed,
		Quantity: dec("4"), ProceedsUSD: dec("40"), CostBasisUSD: dec("16"), GainUSD: dec("24"),
		HoldingPeriod: model.HoldingMixed,
		Lots: []model.LotConsumption{
			{LotID: 1, AcquiredAt: disposed.Add(-2 * year), Quantity: dec("1"), CostBasisUSD: dec("1")},
			{LotID: 2, AcquiredAt: disposed.Add(-24 * time.Hour), Quantity: dec("3"), CostBasisUSD: dec("15")},
		},
	}
	rep := NewAssembler(CalendarYear(), year).Assemble([]model.RealizedEvent{ev}, nil, nil)
	y := rep.Years[0]
	if !y.LongTermUSD.Equal(dec("9")) || !y.ShortTermUSD.Equal(dec("15")) {
		t.Fatalf("split = long %s short %s, want 9/15", y.LongTermUSD, y.ShortTermUSD)
	}
}
