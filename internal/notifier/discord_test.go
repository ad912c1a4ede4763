package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordNotifier(srv.URL).Notify(context.Background(), "transfer failed"))
	assert.Equal(t, "transfer failed", got["content"])
}

func TestDiscordNotifier_TruncatesLongContent(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordNotifier(srv.URL).Notify(context.Background(), strings.Repeat("ا", 3000)))
	assert.Equal(t, discordContentLimit, utf8.RuneCountInString(got["content"]))
}

func TestDiscordNotifier_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordNotifier(srv.URL).Notify(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	assert.Error(t, (&DiscordNotifier{}).Notify(context.Background(), "x"))
	assert.NoError(t, Nop{}.Notify(context.Background(), "x"))
}
