// Package sources reads candidate rows out of the data source a job points at.
//
// Every fetcher yields a header row plus ordered rows keyed by header, so the
// field mapper and the normalizer never care where the data came from.
package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/model"
)

// DefaultBatchSize is how many rows a paged fetch reads per request
const DefaultBatchSize = 5

// Ref locates a job's source data
type Ref struct {
	Type     model.SourceType
	Location string // spreadsheet id, file path or report URL
	Options  model.SourceOptions
}

// RefFor returns the source reference of a job
func RefFor(job *model.Job) Ref {
	return Ref{Type: job.SourceType, Location: job.SourceRef, Options: job.SourceOptions}
}

// Table is fetched source data
type Table struct {
	Headers    []string
	Rows       []*model.Fields
	SheetTitle string
	RangeUsed  string
	// IDField is the column holding the source's own record id, if any
	IDField string
}

// Page is one batch of a paged fetch; Start and End are 1-based sheet rows
type Page struct {
	Start int
	End   int
	Rows  []*model.Fields
}

// Fetcher reads one kind of source
type Fetcher interface {
	// FetchSample returns the headers and at most n leading rows
	FetchSample(ctx context.Context, ref Ref, n int) (*Table, error)
	// FetchAll returns every row, calling onPage (if non-nil) after each batch
	FetchAll(ctx context.Context, ref Ref, onPage func(Page)) (*Table, error)
}

// Registry picks the fetcher for a source type
type Registry map[model.SourceType]Fetcher

// For returns the fetcher registered for t
func (r Registry) For(t model.SourceType) (Fetcher, error) {
	f, ok := r[t]
	if !ok || f == nil {
		return nil, errors.NewInvalidRequestError("no fetcher for source type %q", t)
	}
	return f, nil
}

// normalizeHeaders trims headers, names blank ones after their column and
// suffixes duplicates so every header is a distinct key
func normalizeHeaders(raw []string) []string {
	out := make([]string, len(raw))
	seen := make(map[string]int, len(raw))
	for i, h := range raw {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = "Column " + ColumnLetter(i+1)
		}
		seen[h]++
		if n := seen[h]; n > 1 {
			h = fmt.Sprintf("%s_%d", h, n)
		}
		out[i] = h
	}
	return out
}

// rowFields pairs cells with headers; cells beyond the headers are dropped.
// Returns nil for a row with no non-blank cell.
func rowFields(headers []string, cells []string) *model.Fields {
	f := model.NewFields()
	blank := true
	for i, h := range headers {
		v := ""
		if i < len(cells) {
			v = strings.TrimSpace(cells[i])
		}
		if v != "" {
			blank = false
		}
		f.Set(h, v)
	}
	if blank {
		return nil
	}
	return f
}

// ColumnLetter converts a 1-based column number to A1 notation (1 → A, 27 → AA)
func ColumnLetter(n int) string {
	if n < 1 {
		return "A"
	}
	var b []byte
	for n > 0 {
		n--
		b = append([]byte{byte('A' + n%26)}, b...)
		n /= 26
	}
	return string(b)
}

// emitPages reports rows in batches for sources read in one go
func emitPages(rows []*model.Fields, batch int, onPage func(Page)) {
	if onPage == nil {
		return
	}
	if batch < 1 {
		batch = DefaultBatchSize
	}
	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		onPage(Page{Start: start + 2, End: end + 1, Rows: rows[start:end]})
	}
}
