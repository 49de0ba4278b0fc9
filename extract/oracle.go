package extract

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

// ErrUnsupportedFormat is returned for documents the oracle cannot read
var ErrUnsupportedFormat = errors.New("unsupported resume format")

// Document is a downloaded resume
type Document struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Result is the text of a resume
type Result struct {
	Text    string
	Scanned bool // OCR was needed
}

// TextOracle turns document bytes into text
type TextOracle interface {
	Extract(ctx context.Context, doc *Document) (Result, error)
}

type kind int

const (
	kindUnknown kind = iota
	kindPDF
	kindImage
	kindSpreadsheet
	kindHTML
	kindText
)

// detect picks a reader from content type, file extension and magic bytes
func detect(doc *Document) kind {
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(doc.MIMEType, ";", 2)[0]))
	ext := strings.ToLower(filepath.Ext(doc.Name))

	switch {
	case bytes.HasPrefix(doc.Data, []byte("%PDF")), mime == "application/pdf", ext == ".pdf":
		return kindPDF
	case strings.HasPrefix(mime, "image/"):
		return kindImage
	case mime == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ext == ".xlsx":
		return kindSpreadsheet
	case mime == "text/html", ext == ".html", ext == ".htm":
		return kindHTML
	case strings.HasPrefix(mime, "text/"), mime == "application/json":
		return kindText
	}
	switch ext {
	case ".png", ".jpg", ".jpeg", ".tif", ".tiff", ".bmp", ".gif", ".webp":
		return kindImage
	case ".txt", ".csv", ".md", ".markdown", ".json":
		return kindText
	}
	return kindUnknown
}

// CommandOracle reads resumes with poppler and tesseract
type CommandOracle struct {
	pdftotext     string
	pdftoppm      string
	tesseract     string
	dpi           int
	maxPages      int
	minTextLength int
	runner        Runner
	logger        *zap.SugaredLogger
}

// NewCommandOracle builds the oracle from the extraction config
func NewCommandOracle(cfg am.ExtractionConfig, logger *zap.SugaredLogger) *CommandOracle {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	o := &CommandOracle{
		pdftotext:     orDefault(cfg.Pdftotext, "pdftotext"),
		pdftoppm:      orDefault(cfg.Pdftoppm, "pdftoppm"),
		tesseract:     orDefault(cfg.Tesseract, "tesseract"),
		dpi:           cfg.DPI,
		maxPages:      cfg.MaxPages,
		minTextLength: cfg.MinTextLength,
		logger:        logger.Named("oracle"),
	}
	if o.dpi <= 0 {
		o.dpi = 300
	}
	if o.minTextLength <= 0 {
		o.minTextLength = DefaultMinTextLength
	}
	o.runner = execRunner{logger: o.logger}
	return o
}

// SetRunner replaces the command runner
func (o *CommandOracle) SetRunner(r Runner) {
	o.runner = r
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Extract reads doc according to its detected format
func (o *CommandOracle) Extract(ctx context.Context, doc *Document) (Result, error) {
	switch detect(doc) {
	case kindText:
		return Result{Text: Clean(string(doc.Data))}, nil
	case kindHTML:
		text, err := htmlText(doc.Data)
		if err != nil {
			return Result{}, err
		}
		return Result{Text: Clean(text)}, nil
	case kindSpreadsheet:
		text, err := spreadsheetText(doc.Data)
		return Result{Text: text}, err
	case kindImage:
		return o.withTempFile(doc, func(path string) (Result, error) {
			text, err := o.ocr(ctx, path)
			return Result{Text: text, Scanned: true}, err
		})
	case kindPDF:
		return o.withTempFile(doc, func(path string) (Result, error) {
			return o.pdf(ctx, path)
		})
	}
	return Result{}, errors.Wrapf(ErrUnsupportedFormat, "%s (%s)", doc.Name, doc.MIMEType)
}

func (o *CommandOracle) withTempFile(doc *Document, fn func(path string) (Result, error)) (Result, error) {
	dir, err := os.MkdirTemp("", "intake-resume-*")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create temp dir")
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(doc.Name)
	if name == "" || name == "." || name == "/" {
		name = "resume"
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, doc.Data, 0o600); err != nil {
		return Result{}, errors.Wrap(err, "failed to write temp file")
	}
	return fn(path)
}

// pdf tries the text layer first and falls back to OCR of rendered pages
func (o *CommandOracle) pdf(ctx context.Context, path string) (Result, error) {
	out, _, err := o.runner.Run(ctx, o.pdftotext, "-layout", path, "-")
	text := Clean(string(out))
	if err == nil && len(text) >= o.minTextLength {
		return Result{Text: text}, nil
	}
	if err != nil {
		o.logger.Debugw("pdftotext failed, trying OCR", "file", filepath.Base(path), "error", err)
	}

	prefix := filepath.Join(filepath.Dir(path), "page")
	args := []string{"-r", strconv.Itoa(o.dpi), "-png"}
	if o.maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(o.maxPages))
	}
	args = append(args, path, prefix)
	if _, errb, err := o.runner.Run(ctx, o.pdftoppm, args...); err != nil {
		return Result{}, errors.Wrapf(err, "pdftoppm failed: %s", truncate(string(errb), 512))
	}

	pages, err := filepath.Glob(prefix + "*.png")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to list rendered pages")
	}
	if len(pages) == 0 {
		return Result{}, errors.New("pdftoppm produced no pages")
	}
	sort.Strings(pages)

	var b strings.Builder
	for _, page := range pages {
		pageText, err := o.ocr(ctx, page)
		if err != nil {
			return Result{}, err
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(pageText)
	}
	return Result{Text: Clean(b.String()), Scanned: true}, nil
}

func (o *CommandOracle) ocr(ctx context.Context, path string) (string, error) {
	out, errb, err := o.runner.Run(ctx, o.tesseract, path, "stdout")
	if err != nil {
		return "", errors.Wrapf(err, "tesseract failed: %s", truncate(string(errb), 512))
	}
	return Clean(string(out)), nil
}

// spreadsheetText flattens every sheet into tab-separated lines
func spreadsheetText(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "failed to open spreadsheet")
	}
	defer f.Close()

	var b strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", errors.Wrapf(err, "failed to read sheet %s", sheet)
		}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
	}
	return Clean(b.String()), nil
}
