package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/intake/am"
)

func TestLocalProviderComplete(t *testing.T) {
	var seen chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&seen))
		_, _ = w.Write([]byte(`{"model":"llama3.2:3b","choices":[{"message":{"role":"assistant","content":" {\"nameField\":\"Name\"} "}}]}`))
	}))
	defer srv.Close()

	lp := NewLocalProvider(am.LocalInferenceConfig{BaseURL: srv.URL + "/", Model: "llama3.2:3b", TimeoutSeconds: 5})
	out, err := lp.Complete(context.Background(), "map the columns")
	require.NoError(t, err)

	assert.Equal(t, `{"nameField":"Name"}`, out)
	assert.Equal(t, "llama3.2:3b", seen.Model)
	assert.False(t, seen.Stream)
	require.Len(t, seen.Messages, 1)
	assert.Equal(t, "map the columns", seen.Messages[0].Content)
	assert.Equal(t, "llama3.2:3b", lp.GetModelName())
}

func TestLocalProviderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	lp := NewLocalProvider(am.LocalInferenceConfig{BaseURL: srv.URL, Model: "m"})
	_, err := lp.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
	assert.Contains(t, err.Error(), "model not loaded")
}

func TestLocalProviderNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	lp := NewLocalProvider(am.LocalInferenceConfig{BaseURL: srv.URL, Model: "m"})
	_, err := lp.Complete(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no completion choices")
}
