package gdrive

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rood-one/telegram-anime-downloader/internal/provider"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

func TestUpload_CreatesAndShares(t *testing.T) {
	var (
		uploads atomic.Int32
		shares  atomic.Int32
	)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/json")

		switch {
		case strings.HasPrefix(r.URL.Path, "/upload/"):
			uploads.Add(1)
			_, _ = w.Write([]byte(`{"id":"F1le"}`))
		case strings.HasSuffix(r.URL.Path, "/permissions"):
			shares.Add(1)
			assert.Contains(t, r.URL.Path, "F1le")
			_, _ = w.Write([]byte(`{"id":"anyoneWithLink"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c, err := New(context.Background(), srv.Client(), "folder", option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "ep.mp4")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))

	link, err := c.Upload(context.Background(), path, "ep.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://drive.google.com/uc?id=F1le&export=download", link)
	assert.Equal(t, int32(1), uploads.Load())
	assert.Equal(t, int32(1), shares.Load())
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind transfer.ProviderErrorKind
		wantCode int
	}{
		{name: "quota", err: &googleapi.Error{Code: http.StatusForbidden, Message: "storageQuotaExceeded"}, wantKind: transfer.ProviderRejected, wantCode: 403},
		{name: "backend", err: &googleapi.Error{Code: http.StatusServiceUnavailable}, wantKind: transfer.ProviderTransient, wantCode: 503},
		{name: "rate", err: &googleapi.Error{Code: http.StatusTooManyRequests}, wantKind: transfer.ProviderTransient, wantCode: 429},
		{name: "truncated", err: io.ErrUnexpectedEOF, wantKind: transfer.ProviderTransient},
		{name: "other", err: errors.New("boom"), wantKind: transfer.ProviderRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var pe *transfer.ProviderError
			require.ErrorAs(t, classify(tt.err), &pe)

			assert.Equal(t, Name, pe.Provider)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.wantCode, pe.StatusCode)
			assert.ErrorIs(t, pe, tt.err)
		})
	}
}

func TestNewFromCredentialsFile(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFromCredentialsFile(context.Background(), filepath.Join(dir, "missing.json"), "", nil)

	var res *transfer.ResourceError
	require.ErrorAs(t, err, &res)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"type":"authorized_user"}`), 0o600))

	_, err = NewFromCredentialsFile(context.Background(), bad, "", nil)

	var invalid *transfer.InvalidInputError
	require.ErrorAs(t, err, &invalid)
}

func TestDescriptor(t *testing.T) {
	d := Descriptor()

	assert.True(t, d.CredentialsRequired)
	assert.False(t, d.Configured(provider.Credentials{}))
	assert.True(t, d.Configured(provider.Credentials{GDriveCredentialsFile: "/etc/sa.json"}))
}
