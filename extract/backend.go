package extract

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"google.golang.org/api/drive/v3"

	"github.com/teranos/intake/errors"
	"github.com/teranos/intake/internal/httpclient"
	"github.com/teranos/intake/sources/googleauth"
)

// DefaultMaxDownloadBytes caps a resume download
const DefaultMaxDownloadBytes = 5 * 1024 * 1024

// Backend downloads the resume behind a URL
type Backend interface {
	Name() string
	Handles(resumeURL string) bool
	Download(ctx context.Context, resumeURL string) (*Document, error)
}

// HTTPBackend downloads public URLs
type HTTPBackend struct {
	client *httpclient.SaferClient
}

// NewHTTPBackend creates a backend with private addresses blocked and a size cap
func NewHTTPBackend(timeout time.Duration, maxBytes int64) *HTTPBackend {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	client := httpclient.NewSaferClient(timeout)
	client.SetMaxBodyBytes(maxBytes)
	return &HTTPBackend{client: client}
}

// NewHTTPBackendWithClient uses a caller-supplied client
func NewHTTPBackendWithClient(client *httpclient.SaferClient) *HTTPBackend {
	return &HTTPBackend{client: client}
}

func (b *HTTPBackend) Name() string { return "http" }

func (b *HTTPBackend) Handles(resumeURL string) bool {
	u, err := url.Parse(resumeURL)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https")
}

func (b *HTTPBackend) Download(ctx context.Context, resumeURL string) (*Document, error) {
	resp, err := b.client.Fetch(ctx, resumeURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "resume download failed")
	}
	name := "resume"
	if u, err := url.Parse(resp.FinalURL); err == nil && path.Base(u.Path) != "/" && path.Base(u.Path) != "." {
		name = path.Base(u.Path)
	}
	return &Document{Name: name, MIMEType: resp.ContentType, Data: resp.Body}, nil
}

// Google Workspace documents are exported rather than downloaded
const googleAppsPrefix = "application/vnd.google-apps."

var (
	reDrivePath = regexp.MustCompile(`/d/([A-Za-z0-9_-]+)`)
	reDriveID   = regexp.MustCompile(`[?&]id=([A-Za-z0-9_-]+)`)
)

// DriveFileID extracts the file id from a Drive or Docs sharing URL
func DriveFileID(resumeURL string) (string, bool) {
	if m := reDrivePath.FindStringSubmatch(resumeURL); m != nil {
		return m[1], true
	}
	if m := reDriveID.FindStringSubmatch(resumeURL); m != nil {
		return m[1], true
	}
	return "", false
}

// IsDriveURL reports whether resumeURL points into Google Drive or Docs
func IsDriveURL(resumeURL string) bool {
	u, err := url.Parse(resumeURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "drive.google.com" || host == "docs.google.com"
}

// DriveBackend downloads resumes shared through Google Drive
type DriveBackend struct {
	svc      *drive.Service
	limiter  *googleauth.RateLimiter
	maxBytes int64
}

// NewDriveBackend wraps an authenticated Drive service
func NewDriveBackend(svc *drive.Service, limiter *googleauth.RateLimiter, maxBytes int64) *DriveBackend {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxDownloadBytes
	}
	return &DriveBackend{svc: svc, limiter: limiter, maxBytes: maxBytes}
}

func (b *DriveBackend) Name() string { return "drive" }

func (b *DriveBackend) Handles(resumeURL string) bool {
	if !IsDriveURL(resumeURL) {
		return false
	}
	_, ok := DriveFileID(resumeURL)
	return ok
}

func (b *DriveBackend) Download(ctx context.Context, resumeURL string) (*Document, error) {
	id, ok := DriveFileID(resumeURL)
	if !ok {
		return nil, errors.NewInvalidRequestError("no Drive file id in %s", resumeURL)
	}

	file, err := googleauth.Call(ctx, b.limiter, func() (*drive.File, error) {
		return b.svc.Files.Get(id).Fields("id", "name", "mimeType", "size").
			SupportsAllDrives(true).Context(ctx).Do()
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat Drive file %s", id)
	}

	doc := &Document{Name: file.Name, MIMEType: file.MimeType}
	var body io.ReadCloser
	if strings.HasPrefix(file.MimeType, googleAppsPrefix) {
		doc.MIMEType = "text/plain"
		resp, err := googleauth.Call(ctx, b.limiter, func() (*http.Response, error) {
			return b.svc.Files.Export(id, "text/plain").Context(ctx).Download()
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to export Drive file %s", id)
		}
		body = resp.Body
	} else {
		if file.Size > b.maxBytes {
			return nil, errors.Wrapf(httpclient.ErrTooLarge, "Drive file %s is %d bytes", id, file.Size)
		}
		resp, err := googleauth.Call(ctx, b.limiter, func() (*http.Response, error) {
			return b.svc.Files.Get(id).SupportsAllDrives(true).Context(ctx).Download()
		})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to download Drive file %s", id)
		}
		body = resp.Body
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, b.maxBytes+1))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read Drive file")
	}
	if int64(len(data)) > b.maxBytes {
		return nil, errors.Wrapf(httpclient.ErrTooLarge, "Drive file %s exceeds %d bytes", id, b.maxBytes)
	}
	doc.Data = data
	return doc, nil
}
