package evalsink

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/brandtrace/ownership-cli/internal/model"
)

var xlsxHeader = []string{
	"resolved_at", "query_id", "brand", "product", "barcode",
	"beneficiary", "country", "confidence", "label", "method",
	"verification", "chain", "stages", "duration_ms",
}

// XLSXSink appends one row per resolution to an Excel workbook, the
// format the evaluation spreadsheets use. Rows accumulate in memory and
// the workbook is written on Close.
type XLSXSink struct {
	mu    sync.Mutex
	path  string
	file  *xlsx.File
	sheet *xlsx.Sheet
}

// NewXLSXSink opens the workbook at path, creating it (with a header
// row) if absent.
func NewXLSXSink(path string) (*XLSXSink, error) {
	s := &XLSXSink{path: path}

	if _, err := os.Stat(path); err == nil {
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "evalsink: open workbook")
		}
		sheet, ok := f.Sheet["resolutions"]
		if !ok {
			if sheet, err = f.AddSheet("resolutions"); err != nil {
				return nil, eris.Wrap(err, "evalsink: add sheet")
			}
			writeRow(sheet, xlsxHeader...)
		}
		s.file, s.sheet = f, sheet
		return s, nil
	}

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("resolutions")
	if err != nil {
		return nil, eris.Wrap(err, "evalsink: add sheet")
	}
	writeRow(sheet, xlsxHeader...)
	s.file, s.sheet = f, sheet
	return s, nil
}

func (s *XLSXSink) Write(_ context.Context, res *model.Resolution) error {
	if res == nil || res.Result == nil {
		return nil
	}
	r := res.Result

	var chain []string
	for _, e := range r.OwnershipChain {
		chain = append(chain, e.Name)
	}

	stages := 0
	durationMS := int64(0)
	if res.Trace != nil {
		stages = len(res.Trace.Stages)
		durationMS = res.Trace.TotalDuration.Milliseconds()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeRow(s.sheet,
		r.ResolvedAt.UTC().Format(time.RFC3339),
		r.QueryID,
		res.Query.Brand,
		res.Query.ProductName,
		res.Query.Barcode,
		r.FinancialBeneficiary,
		r.BeneficiaryCountry,
		fmt.Sprintf("%d", r.ConfidenceScore),
		string(r.ConfidenceLabel),
		string(r.ResultType),
		string(r.VerificationStatus),
		strings.Join(chain, " > "),
		fmt.Sprintf("%d", stages),
		fmt.Sprintf("%d", durationMS),
	)
	return nil
}

// Close flushes the workbook to disk.
func (s *XLSXSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return eris.Wrap(s.file.Save(s.path), "evalsink: save workbook")
}

func writeRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}
