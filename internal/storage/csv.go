package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"taxScope/internal/model"
)

// ReportHeader is the column order of the tabular report export.
var ReportHeader = []string{
	"wallet",
	"tax_year",
	"kind",
	"timestamp",
	"token",
	"symbol",
	"quantity",
	"proceeds_usd",
	"cost_basis_usd",
	"gain_usd",
	"value_usd",
	"category",
	"tag",
	"holding_period",
	"tx_hash",
}

// WriteReportCSV writes report rows with a header line.
func WriteReportCSV(path string, rows []model.ReportRow) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir: %w", err)
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write(ReportHeader); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, row := range rows {
		if err := writer.Write(reportRecord(row)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush report: %w", err)
	}
	return nil
}

func reportRecord(row model.ReportRow) []string {
	return []string{
		row.Wallet,
		strconv.Itoa(row.TaxYear),
		row.Kind,
		row.Timestamp.UTC().Format(time.RFC3339),
		row.Token,
		row.Symbol,
		row.Quantity.String(),
		row.ProceedsUSD.StringFixed(2),
		row.CostBasisUSD.StringFixed(2),
		row.GainUSD.StringFixed(2),
		row.ValueUSD.StringFixed(2),
		string(row.Category),
		string(row.Tag),
		string(row.HoldingPeriod),
		row.TxHash,
	}
}
