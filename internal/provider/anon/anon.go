// Package anon holds the upload hosts that accept files without an account:
// file.io, 0x0.st and transfer.sh.
package anon

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rood-one/telegram-anime-downloader/internal/provider"
)

const (
	FileIOName     = "fileio"
	ZeroX0Name     = "zerox0"
	TransferShName = "transfersh"

	DefaultFileIOURL     = "https://file.io"
	DefaultZeroX0URL     = "https://0x0.st"
	DefaultTransferShURL = "https://transfer.sh"

	// 0x0.st refuses requests with a generic client user agent.
	userAgent = "telegram-anime-downloader/1.0"
)

// FileIO uploads to file.io. Links expire after the first download.
type FileIO struct {
	client  *http.Client
	baseURL string
}

func NewFileIO(client *http.Client, baseURL string) *FileIO {
	return &FileIO{client: client, baseURL: orDefault(baseURL, DefaultFileIOURL)}
}

func (f *FileIO) Name() string { return FileIOName }

func (f *FileIO) Upload(ctx context.Context, path, filename string) (string, error) {
	resp, err := postMultipart(ctx, f.client, FileIOName, f.baseURL+"/", path, filename)
	if err != nil {
		return "", err
	}

	var out struct {
		Success bool   `json:"success"`
		Link    string `json:"link"`
		Message string `json:"message"`
	}

	if err := provider.DecodeJSON(FileIOName, resp, &out); err != nil {
		return "", err
	}

	if !out.Success || out.Link == "" {
		return "", provider.Rejected(FileIOName, "upload refused: %s", out.Message)
	}

	return out.Link, nil
}

// ZeroX0 uploads to 0x0.st, which answers with the link as plain text.
type ZeroX0 struct {
	client  *http.Client
	baseURL string
}

func NewZeroX0(client *http.Client, baseURL string) *ZeroX0 {
	return &ZeroX0{client: client, baseURL: orDefault(baseURL, DefaultZeroX0URL)}
}

func (z *ZeroX0) Name() string { return ZeroX0Name }

func (z *ZeroX0) Upload(ctx context.Context, path, filename string) (string, error) {
	resp, err := postMultipart(ctx, z.client, ZeroX0Name, z.baseURL, path, filename)
	if err != nil {
		return "", err
	}

	return provider.ReadLink(ZeroX0Name, resp)
}

// TransferSh PUTs the raw file to transfer.sh/{filename}.
type TransferSh struct {
	client  *http.Client
	baseURL string
}

func NewTransferSh(client *http.Client, baseURL string) *TransferSh {
	return &TransferSh{client: client, baseURL: orDefault(baseURL, DefaultTransferShURL)}
}

func (t *TransferSh) Name() string { return TransferShName }

func (t *TransferSh) Upload(ctx context.Context, path, filename string) (string, error) {
	f, size, err := provider.FileBody(path)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, t.baseURL+"/"+url.PathEscape(filename), f)
	if err != nil {
		f.Close()

		return "", provider.Rejected(TransferShName, "failed to build request: %v", err)
	}

	req.ContentLength = size
	req.Header.Set("User-Agent", userAgent)

	resp, err := provider.Do(t.client, TransferShName, req)
	if err != nil {
		return "", err
	}

	return provider.ReadLink(TransferShName, resp)
}

func postMultipart(ctx context.Context, client *http.Client, name, target, path, filename string) (*http.Response, error) {
	body, contentType, err := provider.MultipartBody(path, "file", filename, nil)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		body.Close()

		return nil, provider.Rejected(name, "failed to build request: %v", err)
	}

	req.Header.Set("Content-Type", contentType)
	req.Header.Set("User-Agent", userAgent)

	return provider.Do(client, name, req)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}

	return strings.TrimRight(v, "/")
}

func FileIODescriptor() provider.Descriptor {
	return provider.Descriptor{
		Name: FileIOName,
		New: func(_ context.Context, c provider.Credentials) (provider.Provider, error) {
			return NewFileIO(c.HTTPClient, ""), nil
		},
	}
}

func ZeroX0Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name: ZeroX0Name,
		New: func(_ context.Context, c provider.Credentials) (provider.Provider, error) {
			return NewZeroX0(c.HTTPClient, ""), nil
		},
	}
}

func TransferShDescriptor() provider.Descriptor {
	return provider.Descriptor{
		Name: TransferShName,
		New: func(_ context.Context, c provider.Credentials) (provider.Provider, error) {
			return NewTransferSh(c.HTTPClient, ""), nil
		},
	}
}
