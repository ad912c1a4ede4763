package putio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/putdotio/go-putio"
	"github.com/rood-one/telegram-anime-downloader/internal/provider"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploads struct {
	createErr error
	sendErr   error
	fileID    int64

	gotName       string
	gotParent     int64
	gotLength     int64
	gotBody       string
	terminatedLoc string
}

func (f *fakeUploads) CreateUpload(_ context.Context, filename string, parentID, length int64, _ bool) (string, error) {
	f.gotName = filename
	f.gotParent = parentID
	f.gotLength = length

	if f.createErr != nil {
		return "", f.createErr
	}

	return "https://upload.put.io/files/abc", nil
}

func (f *fakeUploads) SendFile(_ context.Context, r io.Reader, _ string, _ int64) (int64, string, error) {
	b, _ := io.ReadAll(r)
	f.gotBody = string(b)

	return f.fileID, "", f.sendErr
}

func (f *fakeUploads) TerminateUpload(_ context.Context, location string) error {
	f.terminatedLoc = location

	return nil
}

type fakeFiles struct {
	urlErr error
	gotID  int64
}

func (f *fakeFiles) URL(_ context.Context, id int64, _ bool) (string, error) {
	f.gotID = id

	if f.urlErr != nil {
		return "", f.urlErr
	}

	return "https://s100.put.io/download/42?oauth_token=t", nil
}

func tempVideo(t *testing.T) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ep.mp4")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))

	return path
}

func TestUpload(t *testing.T) {
	up := &fakeUploads{fileID: 42}
	fs := &fakeFiles{}
	c := &Client{uploads: up, files: fs, folderID: 7}

	link, err := c.Upload(context.Background(), tempVideo(t), "ep.mp4")
	require.NoError(t, err)

	assert.Equal(t, "https://s100.put.io/download/42?oauth_token=t", link)
	assert.Equal(t, "ep.mp4", up.gotName)
	assert.Equal(t, int64(7), up.gotParent)
	assert.Equal(t, int64(len("frames")), up.gotLength)
	assert.Equal(t, "frames", up.gotBody)
	assert.Equal(t, int64(42), fs.gotID)
	assert.Empty(t, up.terminatedLoc)
}

func TestUpload_Failures(t *testing.T) {
	tests := []struct {
		name          string
		uploads       *fakeUploads
		files         *fakeFiles
		wantKind      transfer.ProviderErrorKind
		wantCode      int
		wantTerminate bool
	}{
		{
			name: "api refuses",
			uploads: &fakeUploads{createErr: &putio.ErrorResponse{
				Response: &http.Response{StatusCode: http.StatusPaymentRequired},
				Message:  "disk quota exceeded",
				Type:     "QUOTA",
			}},
			wantKind: transfer.ProviderRejected,
			wantCode: http.StatusPaymentRequired,
		},
		{
			name:     "upload server overloaded",
			uploads:  &fakeUploads{createErr: fmt.Errorf("%w status: %d", putio.ErrUnexpected, http.StatusBadGateway)},
			wantKind: transfer.ProviderTransient,
			wantCode: http.StatusBadGateway,
		},
		{
			name:          "send refused",
			uploads:       &fakeUploads{sendErr: fmt.Errorf("%w status: %d", putio.ErrUnexpected, http.StatusRequestEntityTooLarge)},
			wantKind:      transfer.ProviderRejected,
			wantCode:      http.StatusRequestEntityTooLarge,
			wantTerminate: true,
		},
		{
			name:          "connection dropped",
			uploads:       &fakeUploads{sendErr: io.ErrUnexpectedEOF},
			wantKind:      transfer.ProviderTransient,
			wantTerminate: true,
		},
		{
			name:     "no file id",
			uploads:  &fakeUploads{},
			wantKind: transfer.ProviderRejected,
		},
		{
			name:    "link lookup fails",
			uploads: &fakeUploads{fileID: 42},
			files: &fakeFiles{urlErr: &putio.ErrorResponse{
				Response: &http.Response{StatusCode: http.StatusServiceUnavailable},
			}},
			wantKind: transfer.ProviderTransient,
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			files := tt.files
			if files == nil {
				files = &fakeFiles{}
			}

			_, err := (&Client{uploads: tt.uploads, files: files}).Upload(context.Background(), tempVideo(t), "ep.mp4")

			var pe *transfer.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, Name, pe.Provider)
			assert.Equal(t, tt.wantKind, pe.Kind)
			assert.Equal(t, tt.wantCode, pe.StatusCode)
			assert.Equal(t, tt.wantTerminate, tt.uploads.terminatedLoc != "")
		})
	}
}

func TestUpload_MissingFile(t *testing.T) {
	_, err := (&Client{uploads: &fakeUploads{}, files: &fakeFiles{}}).Upload(context.Background(), filepath.Join(t.TempDir(), "gone"), "x")

	var res *transfer.ResourceError
	assert.ErrorAs(t, err, &res)
}

// tusServer plays the put.io upload and API hosts on the transport level.
type tusServer struct {
	t *testing.T

	heapBefore uint64
	heapAtSend uint64
	received   int64
	length     string
}

func (s *tusServer) RoundTrip(req *http.Request) (*http.Response, error) {
	respond := func(code int, header http.Header, body string) *http.Response {
		if header == nil {
			header = http.Header{}
		}

		return &http.Response{
			StatusCode: code,
			Header:     header,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    req,
		}
	}

	switch {
	case req.Method == http.MethodPost && req.URL.Host == "upload.put.io":
		s.length = req.Header.Get("Upload-Length")

		return respond(http.StatusCreated, http.Header{"Location": {"https://upload.put.io/files/abc"}}, ""), nil
	case req.Method == http.MethodPatch:
		n, err := io.Copy(io.Discard, req.Body)
		assert.NoError(s.t, err)

		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		s.heapAtSend = ms.HeapAlloc
		s.received = n

		return respond(http.StatusNoContent, http.Header{"Putio-File-Id": {"42"}}, ""), nil
	case req.Method == http.MethodGet && strings.HasSuffix(req.URL.Path, "/v2/files/42/url"):
		return respond(http.StatusOK, http.Header{"Content-Type": {"application/json"}}, `{"url":"https://s100.put.io/download/42"}`), nil
	default:
		return respond(http.StatusNotFound, nil, ""), nil
	}
}

func TestUpload_StreamsWithoutBuffering(t *testing.T) {
	const size = 64 << 20

	path := filepath.Join(t.TempDir(), "big.mkv")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	srv := &tusServer{t: t}
	c := newClient(putio.NewClient(&http.Client{Transport: srv}), 7)

	runtime.GC()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	srv.heapBefore = ms.HeapAlloc

	link, err := c.Upload(context.Background(), path, "big.mkv")
	require.NoError(t, err)

	assert.Equal(t, "https://s100.put.io/download/42", link)
	assert.Equal(t, int64(size), srv.received)
	assert.Equal(t, fmt.Sprint(size), srv.length)

	var growth uint64
	if srv.heapAtSend > srv.heapBefore {
		growth = srv.heapAtSend - srv.heapBefore
	}

	assert.Less(t, growth, uint64(16<<20), "heap grew by %d bytes while sending a %d byte file", growth, size)
}

func TestDescriptor(t *testing.T) {
	d := Descriptor()

	assert.False(t, d.Configured(provider.Credentials{}))
	assert.True(t, d.Configured(provider.Credentials{PutioToken: "tok"}))

	p, err := d.New(context.Background(), provider.Credentials{PutioToken: "tok", PutioFolderID: 3})
	require.NoError(t, err)
	assert.Equal(t, Name, p.Name())
}
