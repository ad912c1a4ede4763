// Package putio uploads files into a put.io account and links to them.
package putio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/putdotio/go-putio"
	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/provider"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
	"golang.org/x/oauth2"
)

const Name = "putio"

// uploads is the tus side of the put.io API. The body is streamed straight
// from the reader into the request.
type uploads interface {
	CreateUpload(ctx context.Context, filename string, parentID, length int64, overwrite bool) (string, error)
	SendFile(ctx context.Context, r io.Reader, location string, offset int64) (int64, string, error)
	TerminateUpload(ctx context.Context, location string) error
}

// files is the part of the put.io files API the uploader needs.
type files interface {
	URL(ctx context.Context, id int64, useTunnel bool) (string, error)
}

type Client struct {
	uploads  uploads
	files    files
	folderID int64
}

func NewClient(ctx context.Context, token string, folderID int64) *Client {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	oauthClient := oauth2.NewClient(ctx, tokenSource)

	return newClient(putio.NewClient(oauthClient), folderID)
}

func newClient(api *putio.Client, folderID int64) *Client {
	return &Client{uploads: api.Upload, files: api.Files, folderID: folderID}
}

func Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:                Name,
		CredentialsRequired: true,
		Configured:          func(c provider.Credentials) bool { return c.PutioToken != "" },
		New: func(ctx context.Context, c provider.Credentials) (provider.Provider, error) {
			if c.HTTPClient != nil {
				ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
			}

			return NewClient(ctx, c.PutioToken, c.PutioFolderID), nil
		},
	}
}

func (c *Client) Name() string { return Name }

// Upload stores the file under the configured folder and returns its
// download URL.
func (c *Client) Upload(ctx context.Context, path, filename string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("provider", Name, "folder_id", c.folderID)

	f, size, err := provider.FileBody(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	logger.InfoContext(ctx, "uploading file to put.io", "filename", filename, "size_bytes", size)

	location, err := c.uploads.CreateUpload(ctx, filename, c.folderID, size, false)
	if err != nil {
		return "", classify(err)
	}

	fileID, _, err := c.uploads.SendFile(ctx, f, location, 0)
	if err != nil {
		// A fresh upload is created on retry; drop the partial one.
		if termErr := c.uploads.TerminateUpload(context.WithoutCancel(ctx), location); termErr != nil {
			logger.DebugContext(ctx, "failed to terminate partial upload", "err", termErr)
		}

		return "", classify(err)
	}

	if fileID == 0 {
		return "", provider.Rejected(Name, "put.io did not store %s as a file", filename)
	}

	link, err := c.files.URL(ctx, fileID, false)
	if err != nil {
		return "", classify(err)
	}

	logger.InfoContext(ctx, "file stored on put.io", "file_id", fileID)

	return link, nil
}

func classify(err error) error {
	var apiErr *putio.ErrorResponse
	if errors.As(err, &apiErr) && apiErr.Response != nil {
		pe := provider.StatusError(Name, apiErr.Response.StatusCode, apiErr.Message)
		pe.Err = fmt.Errorf("%s: %w", apiErr.Type, err)

		return pe
	}

	if code, ok := unexpectedStatus(err); ok {
		pe := provider.StatusError(Name, code, "")
		pe.Err = err

		return pe
	}

	kind := transfer.ProviderRejected
	if transfer.Transient(err) {
		kind = transfer.ProviderTransient
	}

	return &transfer.ProviderError{Provider: Name, Kind: kind, Err: err}
}

// unexpectedStatus recovers the HTTP status the tus calls fold into
// putio.ErrUnexpected ("unexpected error status: 502").
func unexpectedStatus(err error) (int, bool) {
	if !errors.Is(err, putio.ErrUnexpected) {
		return 0, false
	}

	msg := err.Error()

	i := strings.LastIndex(msg, "status: ")
	if i < 0 {
		return 0, false
	}

	code, convErr := strconv.Atoi(strings.TrimSpace(msg[i+len("status: "):]))
	if convErr != nil {
		return 0, false
	}

	return code, true
}
