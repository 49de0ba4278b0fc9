package sources

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/sources/googleauth"
)

// fallbackSheetTitle is used when sheet metadata cannot be read
const fallbackSheetTitle = "Sheet1"

// sampleColumns bounds the width of the sample range
const sampleColumns = "ZZ"

// SpreadsheetFetcher reads a Google Sheet through the Sheets API
type SpreadsheetFetcher struct {
	newService func(ctx context.Context, ref Ref) (*sheets.Service, error)
	limiter    *googleauth.RateLimiter
	batchSize  int
	logger     *zap.SugaredLogger
}

// NewSpreadsheetFetcher authenticates with the configured credentials file
func NewSpreadsheetFetcher(cfg am.GoogleConfig, limiter *googleauth.RateLimiter, batchSize int, logger *zap.SugaredLogger) *SpreadsheetFetcher {
	return newSpreadsheetFetcher(func(ctx context.Context, ref Ref) (*sheets.Service, error) {
		opts, err := googleauth.ClientOptions(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		return googleauth.NewSheetsService(ctx, opts...)
	}, limiter, batchSize, logger)
}

// NewSpreadsheetFetcherWithOptions builds the service from explicit client options
func NewSpreadsheetFetcherWithOptions(opts []option.ClientOption, limiter *googleauth.RateLimiter, batchSize int, logger *zap.SugaredLogger) *SpreadsheetFetcher {
	return newSpreadsheetFetcher(func(ctx context.Context, ref Ref) (*sheets.Service, error) {
		return googleauth.NewSheetsService(ctx, opts...)
	}, limiter, batchSize, logger)
}

func newSpreadsheetFetcher(newService func(context.Context, Ref) (*sheets.Service, error), limiter *googleauth.RateLimiter, batchSize int, logger *zap.SugaredLogger) *SpreadsheetFetcher {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &SpreadsheetFetcher{
		newService: newService,
		limiter:    limiter,
		batchSize:  batchSize,
		logger:     logger.Named("sources.spreadsheet"),
	}
}

// quoteTitle renders a sheet title for A1 notation
func quoteTitle(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}

// sheetTitle is the requested tab, else the first tab, else Sheet1
func (f *SpreadsheetFetcher) sheetTitle(ctx context.Context, srv *sheets.Service, ref Ref) string {
	if ref.Options.SheetName != "" {
		return ref.Options.SheetName
	}
	meta, err := googleauth.Call(ctx, f.limiter, func() (*sheets.Spreadsheet, error) {
		return srv.Spreadsheets.Get(ref.Location).Fields("sheets.properties.title").Context(ctx).Do()
	})
	if err != nil || len(meta.Sheets) == 0 || meta.Sheets[0].Properties == nil || meta.Sheets[0].Properties.Title == "" {
		f.logger.Warnw("Sheet metadata unavailable, using default tab",
			"spreadsheet_id", ref.Location, "error", err)
		return fallbackSheetTitle
	}
	return meta.Sheets[0].Properties.Title
}

func (f *SpreadsheetFetcher) values(ctx context.Context, srv *sheets.Service, id, a1 string) ([][]string, error) {
	resp, err := googleauth.Call(ctx, f.limiter, func() (*sheets.ValueRange, error) {
		return srv.Spreadsheets.Values.Get(id, a1).Context(ctx).Do()
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read range %s", a1)
	}
	out := make([][]string, len(resp.Values))
	for i, row := range resp.Values {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		out[i] = cells
	}
	return out, nil
}

func (f *SpreadsheetFetcher) open(ctx context.Context, ref Ref) (*sheets.Service, error) {
	if ref.Location == "" {
		return nil, errors.NewInvalidRequestError("spreadsheet id is empty")
	}
	return f.newService(ctx, ref)
}

// FetchSample reads the header row and the first n data rows
func (f *SpreadsheetFetcher) FetchSample(ctx context.Context, ref Ref, n int) (*Table, error) {
	srv, err := f.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	title := f.sheetTitle(ctx, srv, ref)
	a1 := fmt.Sprintf("%s!A1:%s%d", quoteTitle(title), sampleColumns, n+1)

	rows, err := f.values(ctx, srv, ref.Location, a1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.Newf("sheet %q is empty or inaccessible", title)
	}

	table := &Table{Headers: normalizeHeaders(rows[0]), SheetTitle: title, RangeUsed: a1}
	for _, cells := range rows[1:] {
		if row := rowFields(table.Headers, cells); row != nil {
			table.Rows = append(table.Rows, row)
		}
	}
	return table, nil
}

// FetchAll reads the header row, then batches of rows from row 2 until a batch comes back empty
func (f *SpreadsheetFetcher) FetchAll(ctx context.Context, ref Ref, onPage func(Page)) (*Table, error) {
	srv, err := f.open(ctx, ref)
	if err != nil {
		return nil, err
	}
	title := f.sheetTitle(ctx, srv, ref)
	quoted := quoteTitle(title)

	headerRows, err := f.values(ctx, srv, ref.Location, quoted+"!1:1")
	if err != nil {
		return nil, err
	}
	if len(headerRows) == 0 || len(headerRows[0]) == 0 {
		return nil, errors.Newf("sheet %q has no header row", title)
	}

	table := &Table{Headers: normalizeHeaders(headerRows[0]), SheetTitle: title}
	lastCol := ColumnLetter(len(table.Headers))

	for start := 2; ; start += f.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + f.batchSize - 1
		a1 := fmt.Sprintf("%s!A%d:%s%d", quoted, start, lastCol, end)

		batch, err := f.values(ctx, srv, ref.Location, a1)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		page := Page{Start: start, End: end}
		for _, cells := range batch {
			if row := rowFields(table.Headers, cells); row != nil {
				page.Rows = append(page.Rows, row)
			}
		}
		table.Rows = append(table.Rows, page.Rows...)
		table.RangeUsed = fmt.Sprintf("%s!A1:%s%d", quoted, lastCol, start+len(batch)-1)

		f.logger.Debugw("Fetched rows", "start", start, "end", end, "rows", len(page.Rows))
		if onPage != nil {
			onPage(page)
		}
	}
	return table, nil
}
