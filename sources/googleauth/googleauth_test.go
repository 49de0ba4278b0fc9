package googleauth

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/teranos/intake/am"
	"github.com/teranos/intake/errors"
)

func TestTokenSourceRequiresFile(t *testing.T) {
	_, err := TokenSource(context.Background(), "")
	require.Error(t, err)
	assert.True(t, errors.IsServiceUnavailableError(err))
}

func TestTokenSourceInstalledClientUsesSavedToken(t *testing.T) {
	dir := t.TempDir()
	clientFile := filepath.Join(dir, "client.json")
	require.NoError(t, os.WriteFile(clientFile, []byte(`{"installed":{
		"client_id":"yugi.apps.googleusercontent.com",
		"client_secret":"millennium",
		"auth_uri":"https://accounts.google.com/o/oauth2/auth",
		"token_uri":"https://oauth2.googleapis.com/token",
		"redirect_uris":["http://localhost"]}}`), 0600))

	_, err := TokenSource(context.Background(), clientFile)
	require.Error(t, err, "no token saved yet")
	assert.NotEmpty(t, errors.GetAllHints(err))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "client.token.json"),
		[]byte(`{"access_token":"ya29.saved","token_type":"Bearer"}`), 0600))

	ts, err := TokenSource(context.Background(), clientFile)
	require.NoError(t, err)
	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "ya29.saved", tok.AccessToken)
}

func TestTokenSourceMalformed(t *testing.T) {
	file := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(file, []byte("not json"), 0600))
	_, err := TokenSource(context.Background(), file)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed")
}

func TestWrapError(t *testing.T) {
	notFound := &googleapi.Error{Code: http.StatusNotFound, Message: "File not found"}
	assert.True(t, errors.IsNotFoundError(WrapError(notFound)))

	limited := &googleapi.Error{Code: http.StatusTooManyRequests}
	assert.True(t, IsRateLimited(limited))
	assert.True(t, errors.IsServiceUnavailableError(WrapError(limited)))

	denied := WrapError(&googleapi.Error{Code: http.StatusForbidden})
	assert.NotEmpty(t, errors.GetAllHints(denied))

	plain := errors.New("dial tcp: timeout")
	assert.Equal(t, plain, WrapError(plain))
	assert.NoError(t, WrapError(nil))
}

func TestRateLimiterPausesAfter429(t *testing.T) {
	r := NewRateLimiter(am.GoogleConfig{RequestsPerSecond: 100, Burst: 5})
	assert.True(t, r.Allow())

	r.RecordRateLimitError(time.Hour)
	assert.False(t, r.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := r.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCallDoesNotRetryOtherErrors(t *testing.T) {
	r := NewRateLimiter(am.GoogleConfig{RequestsPerSecond: 100, Burst: 5})
	calls := 0
	_, err := Call(context.Background(), r, func() (string, error) {
		calls++
		return "", &googleapi.Error{Code: http.StatusNotFound}
	})
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
	assert.Equal(t, 1, calls)

	out, err := Call(context.Background(), nil, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, out)
}

func TestCallRetriesRateLimit(t *testing.T) {
	r := NewRateLimiter(am.GoogleConfig{RequestsPerSecond: 100, Burst: 5})
	calls := 0
	out, err := Call(context.Background(), r, func() (string, error) {
		calls++
		if calls == 1 {
			return "", &googleapi.Error{Code: http.StatusTooManyRequests, Header: http.Header{"Retry-After": []string{"1"}}}
		}
		return "rows", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "rows", out)
	assert.Equal(t, 2, calls)
}
