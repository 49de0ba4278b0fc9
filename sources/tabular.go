package sources

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/teranos/intake/errors"
)

// TabularFetcher reads an uploaded CSV or Excel file from local disk
type TabularFetcher struct {
	batchSize int
	logger    *zap.SugaredLogger
}

// NewTabularFetcher creates a file fetcher
func NewTabularFetcher(batchSize int, logger *zap.SugaredLogger) *TabularFetcher {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &TabularFetcher{batchSize: batchSize, logger: logger.Named("sources.tabular")}
}

// FetchSample parses the file and keeps the first n rows
func (f *TabularFetcher) FetchSample(ctx context.Context, ref Ref, n int) (*Table, error) {
	table, err := f.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(table.Rows) > n {
		table.Rows = table.Rows[:n]
	}
	return table, nil
}

// FetchAll parses the whole file. Pages are reported for progress only.
func (f *TabularFetcher) FetchAll(ctx context.Context, ref Ref, onPage func(Page)) (*Table, error) {
	table, err := f.read(ctx, ref)
	if err != nil {
		return nil, err
	}
	emitPages(table.Rows, f.batchSize, onPage)
	return table, nil
}

func (f *TabularFetcher) read(ctx context.Context, ref Ref) (*Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.Location == "" {
		return nil, errors.NewInvalidRequestError("file path is empty")
	}

	var records [][]string
	var sheet string
	var err error
	switch ext := strings.ToLower(filepath.Ext(ref.Location)); ext {
	case ".csv":
		records, err = readCSV(ref.Location)
	case ".xlsx", ".xls":
		records, sheet, err = readWorkbook(ref.Location, ref.Options.SheetName)
	default:
		return nil, errors.NewInvalidRequestError("unsupported file type %q (accepted: .csv, .xlsx, .xls)", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", filepath.Base(ref.Location))
	}
	if len(records) == 0 {
		return nil, errors.Newf("%s has no header row", filepath.Base(ref.Location))
	}

	table := &Table{Headers: normalizeHeaders(records[0]), SheetTitle: sheet}
	for _, cells := range records[1:] {
		if row := rowFields(table.Headers, cells); row != nil {
			table.Rows = append(table.Rows, row)
		}
	}
	f.logger.Debugw("Parsed file",
		"file", filepath.Base(ref.Location),
		"headers", len(table.Headers),
		"rows", len(table.Rows))
	return table, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true

	var records [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// readWorkbook returns the rows of sheetName, or of the first sheet
func readWorkbook(path, sheetName string) ([][]string, string, error) {
	wb, err := excelize.OpenFile(path)
	if err != nil {
		return nil, "", err
	}
	defer wb.Close()

	if sheetName == "" {
		sheets := wb.GetSheetList()
		if len(sheets) == 0 {
			return nil, "", errors.New("workbook has no sheets")
		}
		sheetName = sheets[0]
	}
	rows, err := wb.GetRows(sheetName)
	if err != nil {
		return nil, "", err
	}
	return rows, sheetName, nil
}
