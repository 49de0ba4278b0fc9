package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/api/option"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/internal/httpclient"
	"github.com/teranos/intake/model"
)

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(1))
	assert.Equal(t, "Z", ColumnLetter(26))
	assert.Equal(t, "AA", ColumnLetter(27))
	assert.Equal(t, "AZ", ColumnLetter(52))
	assert.Equal(t, "ZZ", ColumnLetter(702))
}

func TestNormalizeHeaders(t *testing.T) {
	got := normalizeHeaders([]string{"\ufeffName", " Email ", "", "Name"})
	assert.Equal(t, []string{"Name", "Email", "Column C", "Name_2"}, got)
}

func TestRegistry(t *testing.T) {
	r := Registry{model.SourceTabularFile: NewTabularFetcher(0, nil)}
	_, err := r.For(model.SourceTabularFile)
	require.NoError(t, err)

	_, err = r.For(model.SourceHRReport)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTabularCSV(t *testing.T) {
	path := writeFile(t, "candidates.csv", "Name,Email,Resume\n"+
		"Kirby,kirby@dreamland.io,https://example.com/kirby.pdf\n"+
		",,\n"+
		"Yugi,\"yugi@duel.io\",none,extra-cell\n"+
		"TAS Bot,tas@speedrun.io\n")

	f := NewTabularFetcher(2, nil)
	var pages []Page
	table, err := f.FetchAll(context.Background(), Ref{Type: model.SourceTabularFile, Location: path}, func(p Page) {
		pages = append(pages, p)
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Name", "Email", "Resume"}, table.Headers)
	require.Len(t, table.Rows, 3, "blank row dropped")
	assert.Equal(t, "yugi@duel.io", table.Rows[1].Value("Email"))
	assert.Equal(t, []string{"Name", "Email", "Resume"}, table.Rows[1].Keys(), "extra cells dropped")
	assert.Equal(t, "", table.Rows[2].Value("Resume"))

	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[0].Start)
	assert.Equal(t, 3, pages[0].End)
	assert.Len(t, pages[1].Rows, 1)

	sample, err := f.FetchSample(context.Background(), Ref{Location: path}, 1)
	require.NoError(t, err)
	assert.Len(t, sample.Rows, 1)
}

func TestTabularXLSX(t *testing.T) {
	wb := excelize.NewFile()
	sheet := wb.GetSheetName(0)
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]interface{}{"Full Name", "Email", "Years"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A2", &[]interface{}{"Kirby", "kirby@dreamland.io", 4}))
	path := filepath.Join(t.TempDir(), "candidates.xlsx")
	require.NoError(t, wb.SaveAs(path))
	require.NoError(t, wb.Close())

	table, err := NewTabularFetcher(5, nil).FetchAll(context.Background(), Ref{Location: path}, nil)
	require.NoError(t, err)
	assert.Equal(t, sheet, table.SheetTitle)
	assert.Equal(t, []string{"Full Name", "Email", "Years"}, table.Headers)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, "4", table.Rows[0].Value("Years"))
}

func TestTabularRejectsOtherTypes(t *testing.T) {
	path := writeFile(t, "resume.pdf", "%PDF-1.4")
	_, err := NewTabularFetcher(5, nil).FetchAll(context.Background(), Ref{Location: path}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}

func TestTabularEmptyFile(t *testing.T) {
	path := writeFile(t, "empty.csv", "")
	_, err := NewTabularFetcher(5, nil).FetchAll(context.Background(), Ref{Location: path}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")
}

func newHRFetcher(srv *httptest.Server) *HRReportFetcher {
	return NewHRReportFetcherWithClient(httpclient.WrapClient(srv.Client()),
		am.HRReportConfig{Username: "isu_intake", Password: "s3cret"}, 2, nil)
}

func TestHRReport(t *testing.T) {
	var gotFormat string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotFormat = r.URL.Query().Get("format")
		gotUser, gotPass, _ = r.BasicAuth()
		_, _ = w.Write([]byte(`{"Report_Entry":[
			{"Worker_ID":"W-1","Worker_Legal_Name":"Kirby","Email_Address":"kirby@dreamland.io","Years":4},
			{"Worker_ID":"W-2","Worker_Legal_Name":"Yugi","Location":"Domino"},
			null
		]}`))
	}))
	defer srv.Close()

	var pages int
	table, err := newHRFetcher(srv).FetchAll(context.Background(),
		Ref{Type: model.SourceHRReport, Location: srv.URL + "/ccx/service/customreport2/acme/Candidates?Job=123"},
		func(Page) { pages++ })
	require.NoError(t, err)

	assert.Equal(t, "json", gotFormat)
	assert.Equal(t, "isu_intake", gotUser)
	assert.Equal(t, "s3cret", gotPass)
	assert.Equal(t, []string{"Worker_ID", "Worker_Legal_Name", "Email_Address", "Years", "Location"}, table.Headers)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, "4", table.Rows[0].Value("Years"))
	v, ok := table.Rows[1].Get("Email_Address")
	assert.True(t, ok)
	assert.Empty(t, v)
	assert.Equal(t, "Worker_ID", table.IDField)
	assert.Equal(t, 1, pages)
}

func TestHRReportShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		rows    int
		idField string
		wantErr bool
	}{
		{"entries envelope", `{"entries":[{"Candidate_ID":"C-1","Name":"Yugi"}]}`, 1, "Candidate_ID", false},
		{"bare array", `[{"ID":"1","Name":"Kirby"},{"ID":"2","Name":"TAS Bot"}]`, 2, "ID", false},
		{"no entries", `{"data":[]}`, 0, "", true},
		{"not json", `<html>login</html>`, 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			table, err := newHRFetcher(srv).FetchSample(context.Background(), Ref{Location: srv.URL}, 5)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, table.Rows, tt.rows)
			assert.Equal(t, tt.idField, table.IDField)
		})
	}
}

func TestHRReportHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newHRFetcher(srv).FetchAll(context.Background(), Ref{Location: srv.URL}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestReportURL(t *testing.T) {
	got, err := reportURL("https://wd5.example.com/report?format=csv&Job=7")
	require.NoError(t, err)
	assert.Contains(t, got, "format=json")
	assert.Contains(t, got, "Job=7")

	_, err = reportURL("not a url")
	require.Error(t, err)
}

// fakeSheets serves a tiny subset of the Sheets v4 REST API
type fakeSheets struct {
	title    string
	metaFail bool
	rows     [][]string // row 1 is the header
	ranges   []string
}

var a1Rows = regexp.MustCompile(`!A(\d+):[A-Z]+(\d+)$`)

func (s *fakeSheets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	const prefix = "/v4/spreadsheets/sheet-1"
	switch {
	case r.URL.Path == prefix:
		if s.metaFail {
			http.Error(w, `{"error":{"code":404,"message":"not found"}}`, http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"sheets": []interface{}{map[string]interface{}{"properties": map[string]interface{}{"title": s.title}}},
		})
	case strings.HasPrefix(r.URL.Path, prefix+"/values/"):
		a1 := strings.TrimPrefix(r.URL.Path, prefix+"/values/")
		s.ranges = append(s.ranges, a1)

		from, to := 1, 1
		if m := a1Rows.FindStringSubmatch(a1); m != nil {
			from, _ = strconv.Atoi(m[1])
			to, _ = strconv.Atoi(m[2])
		}
		var values [][]string
		for i := from; i <= to && i <= len(s.rows); i++ {
			values = append(values, s.rows[i-1])
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"range": a1, "values": values})
	default:
		http.NotFound(w, r)
	}
}

func newSheetsFetcher(t *testing.T, fake *fakeSheets) *SpreadsheetFetcher {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewSpreadsheetFetcherWithOptions([]option.ClientOption{
		option.WithEndpoint(srv.URL + "/"),
		option.WithHTTPClient(srv.Client()),
	}, nil, 5, nil)
}

func sevenCandidates() [][]string {
	rows := [][]string{{"Name", "Email", "Resume"}}
	for i := 1; i <= 7; i++ {
		rows = append(rows, []string{"Candidate " + strconv.Itoa(i), "c" + strconv.Itoa(i) + "@example.com", "none"})
	}
	return rows
}

func TestSpreadsheetFetchAllPagesFromRowTwo(t *testing.T) {
	fake := &fakeSheets{title: "Kirby's Applicants", rows: sevenCandidates()}
	f := newSheetsFetcher(t, fake)

	var pages []Page
	table, err := f.FetchAll(context.Background(), Ref{Type: model.SourceSpreadsheet, Location: "sheet-1"}, func(p Page) {
		pages = append(pages, p)
	})
	require.NoError(t, err)

	assert.Equal(t, "Kirby's Applicants", table.SheetTitle)
	assert.Equal(t, []string{"Name", "Email", "Resume"}, table.Headers)
	assert.Len(t, table.Rows, 7)
	assert.Equal(t, "c7@example.com", table.Rows[6].Value("Email"))

	require.Len(t, pages, 2)
	assert.Equal(t, 2, pages[0].Start)
	assert.Equal(t, 6, pages[0].End)
	assert.Equal(t, 7, pages[1].Start)
	assert.Len(t, pages[1].Rows, 2)

	assert.Equal(t, []string{
		"'Kirby''s Applicants'!1:1",
		"'Kirby''s Applicants'!A2:C6",
		"'Kirby''s Applicants'!A7:C11",
		"'Kirby''s Applicants'!A12:C16",
	}, fake.ranges, "stops on the first empty batch")
	assert.Equal(t, "'Kirby''s Applicants'!A1:C8", table.RangeUsed)
}

func TestSpreadsheetFetchSample(t *testing.T) {
	fake := &fakeSheets{title: "Candidates", rows: sevenCandidates()}
	table, err := newSheetsFetcher(t, fake).FetchSample(context.Background(), Ref{Location: "sheet-1"}, 5)
	require.NoError(t, err)

	assert.Len(t, table.Rows, 5)
	assert.Equal(t, "'Candidates'!A1:ZZ6", table.RangeUsed)
}

func TestSpreadsheetFallsBackToSheet1(t *testing.T) {
	fake := &fakeSheets{metaFail: true, rows: sevenCandidates()}
	table, err := newSheetsFetcher(t, fake).FetchSample(context.Background(), Ref{Location: "sheet-1"}, 2)
	require.NoError(t, err)
	assert.Equal(t, "Sheet1", table.SheetTitle)
}

func TestSpreadsheetNamedTab(t *testing.T) {
	fake := &fakeSheets{title: "ignored", rows: sevenCandidates()}
	table, err := newSheetsFetcher(t, fake).FetchSample(context.Background(),
		Ref{Location: "sheet-1", Options: model.SourceOptions{SheetName: "Backend"}}, 1)
	require.NoError(t, err)
	assert.Equal(t, "Backend", table.SheetTitle)
	assert.Equal(t, []string{"'Backend'!A1:ZZ2"}, fake.ranges)
}

func TestSpreadsheetEmptyID(t *testing.T) {
	f := NewSpreadsheetFetcherWithOptions(nil, nil, 5, nil)
	_, err := f.FetchAll(context.Background(), Ref{}, nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequestError(err))
}
