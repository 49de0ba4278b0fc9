package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/errors"
)

func TestNewSaferClient(t *testing.T) {
	client := NewSaferClient(30 * time.Second)
	assert.Equal(t, 30*time.Second, client.Timeout)
	assert.Equal(t, 10, client.maxRedirects)
	assert.True(t, client.blockPrivateIP)
	assert.Zero(t, client.maxBodyBytes)
}

func TestValidateURL(t *testing.T) {
	client := NewSaferClient(30 * time.Second)

	tests := []struct {
		name        string
		url         string
		errContains string
	}{
		{"drive link", "https://drive.google.com/file/d/abc/view", ""},
		{"plain http", "http://example.com/resume.pdf", ""},
		{"file scheme", "file:///etc/passwd", "scheme"},
		{"ftp scheme", "ftp://example.com/cv.pdf", "scheme"},
		{"localhost", "http://localhost/admin", "localhost"},
		{"localhost subdomain", "http://admin.localhost/", "localhost"},
		{"loopback", "http://127.0.0.1/", "private IP"},
		{"rfc1918 10", "http://10.0.0.1/", "private IP"},
		{"rfc1918 192.168", "http://192.168.1.1/", "private IP"},
		{"rfc1918 172.16", "http://172.16.0.1/", "private IP"},
		{"metadata endpoint", "http://169.254.169.254/latest/meta-data", "private IP"},
		{"ipv6 loopback", "http://[::1]/", "private IP"},
		{"userinfo confusion", "http://evil.com@localhost/", "@"},
		{"missing host", "http:///path", "hostname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.ValidateURL(tt.url)
			if tt.errContains == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.1.2.3", "172.31.255.255", "192.168.0.10", "127.0.0.1", "169.254.1.1", "100.64.0.1", "::1", "fe80::1", "fd00::1", "2001:db8::1"}
	public := []string{"8.8.8.8", "1.1.1.1", "172.32.0.1", "2606:4700:4700::1111"}

	for _, s := range private {
		assert.True(t, isPrivateIP(net.ParseIP(s)), s)
	}
	for _, s := range public {
		assert.False(t, isPrivateIP(net.ParseIP(s)), s)
	}
}

func TestRedirectToPrivateBlocked(t *testing.T) {
	client := NewSaferClient(5 * time.Second)

	origin, err := http.NewRequest(http.MethodGet, "https://example.com/cv", nil)
	require.NoError(t, err)
	redirect, err := http.NewRequest(http.MethodGet, "http://169.254.169.254/latest/meta-data", nil)
	require.NoError(t, err)

	err = client.CheckRedirect(redirect, []*http.Request{origin})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redirect blocked")
}

func TestMaxRedirects(t *testing.T) {
	two := 2
	client := NewSaferClientWithOptions(5*time.Second, Options{MaxRedirects: &two})

	req, err := http.NewRequest(http.MethodGet, "https://example.com", nil)
	require.NoError(t, err)
	err = client.CheckRedirect(req, []*http.Request{req, req})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stopped after 2 redirects")
}

func TestDoBlocksLocalhost(t *testing.T) {
	client := NewSaferClient(5 * time.Second)
	req, err := http.NewRequest(http.MethodGet, "http://localhost:8080/", nil)
	require.NoError(t, err)

	_, err = client.Do(req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SSRF")
}

func TestFetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/resume.pdf":
			assert.Equal(t, "Bearer kirby", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/pdf")
			w.Write([]byte("%PDF-1.4 poyo"))
		case "/huge":
			w.Write([]byte(strings.Repeat("x", 2048)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := WrapClient(server.Client())
	client.SetMaxBodyBytes(1024)
	ctx := context.Background()

	t.Run("reads body and content type", func(t *testing.T) {
		resp, err := client.Fetch(ctx, server.URL+"/resume.pdf", http.Header{"Authorization": {"Bearer kirby"}})
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", resp.ContentType)
		assert.Equal(t, "%PDF-1.4 poyo", string(resp.Body))
	})

	t.Run("size cap", func(t *testing.T) {
		_, err := client.Fetch(ctx, server.URL+"/huge", nil)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrTooLarge))
	})

	t.Run("non-2xx is an error", func(t *testing.T) {
		_, err := client.Fetch(ctx, server.URL+"/missing", nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "404")
	})
}
