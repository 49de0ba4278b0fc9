package sources

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/internal/httpclient"
	"github.com/teranos/intake/model"
)

// idFieldCandidates are checked in order for the report's record id
var idFieldCandidates = []string{"Worker_ID", "Candidate_ID", "ID"}

// HRReportFetcher downloads an HR-system report (Workday RaaS style) as JSON
type HRReportFetcher struct {
	client    *httpclient.SaferClient
	username  string
	password  string
	batchSize int
	logger    *zap.SugaredLogger
}

// NewHRReportFetcher uses a guarded client with the configured timeout (default 60s)
func NewHRReportFetcher(cfg am.HRReportConfig, batchSize int, logger *zap.SugaredLogger) *HRReportFetcher {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return NewHRReportFetcherWithClient(httpclient.NewSaferClient(timeout), cfg, batchSize, logger)
}

// NewHRReportFetcherWithClient uses client as is
func NewHRReportFetcherWithClient(client *httpclient.SaferClient, cfg am.HRReportConfig, batchSize int, logger *zap.SugaredLogger) *HRReportFetcher {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &HRReportFetcher{
		client:    client,
		username:  cfg.Username,
		password:  cfg.Password,
		batchSize: batchSize,
		logger:    logger.Named("sources.hrreport"),
	}
}

// FetchSample downloads the report and keeps the first n entries
func (f *HRReportFetcher) FetchSample(ctx context.Context, ref Ref, n int) (*Table, error) {
	table, err := f.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	if n >= 0 && len(table.Rows) > n {
		table.Rows = table.Rows[:n]
	}
	return table, nil
}

// FetchAll downloads the report. The API is not paged; pages are for progress only.
func (f *HRReportFetcher) FetchAll(ctx context.Context, ref Ref, onPage func(Page)) (*Table, error) {
	table, err := f.fetch(ctx, ref)
	if err != nil {
		return nil, err
	}
	emitPages(table.Rows, f.batchSize, onPage)
	return table, nil
}

// reportURL forces JSON output
func reportURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", errors.NewInvalidRequestError("invalid report URL %q", raw)
	}
	q := u.Query()
	q.Set("format", "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *HRReportFetcher) fetch(ctx context.Context, ref Ref) (*Table, error) {
	target, err := reportURL(ref.Location)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Accept", "application/json")
	username := f.username
	if ref.Options.CredentialsRef != "" {
		username = ref.Options.CredentialsRef
	}
	if username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(username + ":" + f.password))
		header.Set("Authorization", "Basic "+token)
	}

	resp, err := f.client.Fetch(ctx, target, header)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download HR report")
	}

	entries, err := parseReport(resp.Body)
	if err != nil {
		return nil, err
	}

	table := &Table{}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.Len() == 0 {
			continue
		}
		for _, k := range e.Keys() {
			if !seen[k] {
				seen[k] = true
				table.Headers = append(table.Headers, k)
			}
		}
		table.Rows = append(table.Rows, e)
	}
	// entries lacking a column still answer Get with ""
	for _, row := range table.Rows {
		for _, h := range table.Headers {
			if _, ok := row.Get(h); !ok {
				row.Set(h, "")
			}
		}
	}
	for _, id := range idFieldCandidates {
		if seen[id] {
			table.IDField = id
			break
		}
	}

	f.logger.Debugw("Downloaded HR report", "entries", len(table.Rows), "columns", len(table.Headers))
	return table, nil
}

// parseReport accepts {"Report_Entry": [...]}, {"entries": [...]} or a bare array
func parseReport(body []byte) ([]*model.Fields, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errors.New("HR report is empty")
	}

	var entries []*model.Fields
	if body[0] == '[' {
		if err := json.Unmarshal(body, &entries); err != nil {
			return nil, errors.Wrap(err, "malformed HR report")
		}
		return entries, nil
	}

	var envelope struct {
		ReportEntry []*model.Fields `json:"Report_Entry"`
		Entries     []*model.Fields `json:"entries"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errors.Wrap(err, "malformed HR report")
	}
	if envelope.ReportEntry != nil {
		return envelope.ReportEntry, nil
	}
	if envelope.Entries != nil {
		return envelope.Entries, nil
	}
	return nil, errors.New("HR report has no Report_Entry or entries array")
}
