package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"taxScope/internal/model"
)

const (
	RowKindDisposal = "disposal"
	RowKindIncome   = "income"
	RowKindFee      = "fee"
)

// Assembler groups ledger outputs into tax years. It never recomputes basis.
type Assembler struct {
	boundary Boundary
	longTerm time.Duration
}

// NewAssembler builds an assembler. longTerm splits mixed-holding disposals into
// their short and long parts; zero leaves them out of both totals.
func NewAssembler(boundary Boundary, longTerm time.Duration) *Assembler {
	return &Assembler{boundary: boundary, longTerm: longTerm}
}

// Assemble partitions realized, income and fee events by tax year and totals
// each year. Inputs are not modified. AsOf is the latest event time.
func (a *Assembler) Assemble(realized []model.RealizedEvent, income []model.IncomeEvent, fees []model.FeeEvent) model.TaxReport {
	years := make(map[int]*model.TaxYearSummary)
	get := func(year int) *model.TaxYearSummary {
		if s, ok := years[year]; ok {
			return s
		}
		s := &model.TaxYearSummary{
			Year:  year,
			Start: a.boundary.Start(year),
			End:   a.boundary.Start(year + 1),
		}
		years[year] = s
		return s
	}

	var report model.TaxReport
	seen := func(wallet string, at time.Time) {
		if report.Wallet == "" {
			report.Wallet = wallet
		}
		if at.After(report.AsOf) {
			report.AsOf = at.UTC()
		}
	}
	for _, ev := range realized {
		seen(ev.Wallet, ev.DisposedAt)
		s := get(a.boundary.YearOf(ev.DisposedAt))
		s.Realized = append(s.Realized, ev)
		s.ProceedsUSD = s.ProceedsUSD.Add(ev.ProceedsUSD)
		s.CostBasisUSD = s.CostBasisUSD.Add(ev.CostBasisUSD)
		s.NetGainUSD = s.NetGainUSD.Add(ev.GainUSD)
		short, long := a.splitGain(ev)
		s.ShortTermUSD = s.ShortTermUSD.Add(short)
		s.LongTermUSD = s.LongTermUSD.Add(long)
		s.DisposalCount++
	}
	for _, ev := range income {
		seen(ev.Wallet, ev.ReceivedAt)
		s := get(a.boundary.YearOf(ev.ReceivedAt))
		s.Income = append(s.Income, ev)
		s.IncomeUSD = s.IncomeUSD.Add(ev.ValueUSD)
		s.IncomeCount++
	}
	for _, ev := range fees {
		seen(ev.Wallet, ev.PaidAt)
		s := get(a.boundary.YearOf(ev.PaidAt))
		s.Fees = append(s.Fees, ev)
		s.FeesUSD = s.FeesUSD.Add(ev.ValueUSD)
		s.FeeCount++
	}

	labels := make([]int, 0, len(years))
	for year := range years {
		labels = append(labels, year)
	}
	sort.Ints(labels)
	for _, year := range labels {
		s := years[year]
		sortRealized(s.Realized)
		sortIncome(s.Income)
		sortFees(s.Fees)
		report.Years = append(report.Years, *s)
	}
	return report
}

// splitGain attributes a disposal's gain to short and long holding. Mixed
// disposals allocate proceeds to each lot by quantity.
func (a *Assembler) splitGain(ev model.RealizedEvent) (decimal.Decimal, decimal.Decimal) {
	switch ev.HoldingPeriod {
	case model.HoldingShort:
		return ev.GainUSD, decimal.Zero
	case model.HoldingLong:
		return decimal.Zero, ev.GainUSD
	case model.HoldingMixed:
	default:
		return decimal.Zero, decimal.Zero
	}
	if a.longTerm <= 0 || !ev.Quantity.IsPositive() {
		return decimal.Zero, decimal.Zero
	}

	short, long := decimal.Zero, decimal.Zero
	allocated := decimal.Zero
	for i, lot := range ev.Lots {
		proceeds := ev.ProceedsUSD.Mul(lot.Quantity).DivRound(ev.Quantity, 18)
		if i == len(ev.Lots)-1 {
			proceeds = ev.ProceedsUSD.Sub(allocated)
		}
		allocated = allocated.Add(proceeds)
		gain := proceeds.Sub(lot.CostBasisUSD)
		if ev.DisposedAt.Sub(lot.AcquiredAt) >= a.longTerm {
			long = long.Add(gain)
		} else {
			short = short.Add(gain)
		}
	}
	return short, long
}

// Rows flattens a report into tabular export rows, tax years ascending and rows
// within a year in (timestamp, tx hash, token, kind) order.
func Rows(report model.TaxReport) []model.ReportRow {
	var rows []model.ReportRow
	for _, year := range report.Years {
		start := len(rows)
		for _, ev := range year.Realized {
			rows = append(rows, model.ReportRow{
				Wallet:        ev.Wallet,
				TaxYear:       year.Year,
				Kind:          RowKindDisposal,
				Timestamp:     ev.DisposedAt,
				Token:         ev.Token,
				Symbol:        ev.Symbol,
				Quantity:      ev.Quantity,
				ProceedsUSD:   ev.ProceedsUSD,
				CostBasisUSD:  ev.CostBasisUSD,
				GainUSD:       ev.GainUSD,
				Category:      ev.Category,
				Tag:           ev.Tag,
				HoldingPeriod: ev.HoldingPeriod,
				TxHash:        ev.TxHash,
			})
		}
		for _, ev := range year.Income {
			rows = append(rows, model.ReportRow{
				Wallet:    ev.Wallet,
				TaxYear:   year.Year,
				Kind:      RowKindIncome,
				Timestamp: ev.ReceivedAt,
				Token:     ev.Token,
				Symbol:    ev.Symbol,
				Quantity:  ev.Quantity,
				ValueUSD:  ev.ValueUSD,
				Category:  ev.Category,
				Tag:       ev.Tag,
				TxHash:    ev.TxHash,
			})
		}
		for _, ev := range year.Fees {
			rows = append(rows, model.ReportRow{
				Wallet:    ev.Wallet,
				TaxYear:   year.Year,
				Kind:      RowKindFee,
				Timestamp: ev.PaidAt,
				Token:     model.NativeToken,
				Symbol:    model.NativeSymbol,
				Quantity:  ev.Quantity,
				ValueUSD:  ev.ValueUSD,
				Category:  ev.Category,
				TxHash:    ev.TxHash,
			})
		}
		yearRows := rows[start:]
		sort.SliceStable(yearRows, func(i, j int) bool {
			a, b := yearRows[i], yearRows[j]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.Before(b.Timestamp)
			}
			if a.TxHash != b.TxHash {
				return a.TxHash < b.TxHash
			}
			if a.Token != b.Token {
				return a.Token < b.Token
			}
			return a.Kind < b.Kind
		})
	}
	return rows
}

func sortRealized(events []model.RealizedEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.DisposedAt.Equal(b.DisposedAt) {
			return a.DisposedAt.Before(b.DisposedAt)
		}
		if a.TxHash != b.TxHash {
			return a.TxHash < b.TxHash
		}
		return a.Token < b.Token
	})
}

func sortIncome(events []model.IncomeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.ReceivedAt.Equal(b.ReceivedAt) {
			return a.ReceivedAt.Before(b.ReceivedAt)
		}
		if a.TxHash != b.TxHash {
			return a.TxHash < b.TxHash
		}
		return a.Token < b.Token
	})
}

func sortFees(events []model.FeeEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.PaidAt.Equal(b.PaidAt) {
			return a.PaidAt.Before(b.PaidAt)
		}
		return a.TxHash < b.TxHash
	})
}
