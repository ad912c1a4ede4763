package provider

import (
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
)

// maxResponseBody bounds how much of a provider response is read.
const maxResponseBody = 1 << 20

// MultipartBody streams path as the form file field through an io.Pipe so the
// file is never held in memory. Extra form fields are written before the
// file. The returned reader must be handed to an http.Request, which closes
// it.
func MultipartBody(path, field, filename string, fields map[string]string) (io.ReadCloser, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", &transfer.ResourceError{Path: path, Err: err}
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		var writeErr error

		defer func() {
			f.Close()

			if closeErr := mw.Close(); closeErr != nil && writeErr == nil {
				writeErr = closeErr
			}

			pw.CloseWithError(writeErr)
		}()

		for k, v := range fields {
			if writeErr = mw.WriteField(k, v); writeErr != nil {
				return
			}
		}

		part, err := mw.CreateFormFile(field, filename)
		if err != nil {
			writeErr = err

			return
		}

		_, writeErr = io.Copy(part, f)
	}()

	return pr, mw.FormDataContentType(), nil
}

// FileBody opens path for a raw request body and returns its size so the
// request can declare a Content-Length.
func FileBody(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, &transfer.ResourceError{Path: path, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()

		return nil, 0, &transfer.ResourceError{Path: path, Err: err}
	}

	return f, info.Size(), nil
}

// Do sends req and maps transport failures and non-2xx answers to
// *transfer.ProviderError. On success the caller owns the response body.
func Do(client *http.Client, name string, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &transfer.ProviderError{
			Provider: name,
			Kind:     transfer.ProviderTransient,
			Err:      &transfer.NetworkError{Operation: "upload", APIMessage: "request failed", Err: err},
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()

		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, StatusError(name, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	return resp, nil
}

// StatusError classifies an HTTP status: 5xx, 408 and 429 are transient,
// everything else is a rejection.
func StatusError(name string, code int, msg string) *transfer.ProviderError {
	kind := transfer.ProviderRejected
	if transfer.TransientStatus(code) {
		kind = transfer.ProviderTransient
	}

	if msg == "" {
		msg = http.StatusText(code)
	}

	return &transfer.ProviderError{Provider: name, Kind: kind, StatusCode: code, Err: fmt.Errorf("%s", msg)}
}

// Rejected builds a rejection for a provider that answered 2xx with an
// explicit failure flag or an unusable body.
func Rejected(name, format string, args ...any) *transfer.ProviderError {
	return &transfer.ProviderError{Provider: name, Kind: transfer.ProviderRejected, Err: fmt.Errorf(format, args...)}
}

// DecodeJSON reads a bounded JSON response into v.
func DecodeJSON(name string, resp *http.Response, v any) error {
	defer resp.Body.Close()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(v); err != nil {
		return Rejected(name, "malformed response: %v", err)
	}

	return nil
}

// ReadLink reads a plain-text response holding a single URL.
func ReadLink(name string, resp *http.Response) (string, error) {
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", &transfer.ProviderError{Provider: name, Kind: transfer.ProviderTransient, Err: err}
	}

	link := strings.TrimSpace(string(b))
	if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
		return "", Rejected(name, "response is not a link: %.80q", link)
	}

	return link, nil
}
