// Package gdrive uploads files into a Google Drive folder with a service
// account and shares them publicly.
package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/provider"
	"github.com/rood-one/telegram-anime-downloader/internal/transfer"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	Name = "gdrive"

	// chunkSize is the resumable upload chunk. Files smaller than this are
	// sent in a single multipart request.
	chunkSize = 8 * 1024 * 1024
)

type Client struct {
	service  *drive.Service
	folderID string
}

// New builds a client on an already authenticated HTTP client.
func New(ctx context.Context, httpClient *http.Client, folderID string, opts ...option.ClientOption) (*Client, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(httpClient)}, opts...)

	service, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &Client{service: service, folderID: folderID}, nil
}

// NewFromCredentialsFile authenticates with a service account key file. When
// base is not nil it carries the token and API requests.
func NewFromCredentialsFile(ctx context.Context, path, folderID string, base *http.Client) (*Client, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &transfer.ResourceError{Path: path, Err: err}
	}

	conf, err := google.JWTConfigFromJSON(data, drive.DriveFileScope)
	if err != nil {
		return nil, &transfer.InvalidInputError{Field: "gdrive_credentials", Reason: "not a service account key", Err: err}
	}

	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}

	return New(ctx, conf.Client(ctx), folderID)
}

func Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:                Name,
		CredentialsRequired: true,
		Configured:          func(c provider.Credentials) bool { return c.GDriveCredentialsFile != "" },
		New: func(ctx context.Context, c provider.Credentials) (provider.Provider, error) {
			return NewFromCredentialsFile(ctx, c.GDriveCredentialsFile, c.GDriveFolderID, c.HTTPClient)
		},
	}
}

func (c *Client) Name() string { return Name }

// Upload creates the file, grants anyone-with-link read access and returns a
// direct download link.
func (c *Client) Upload(ctx context.Context, path, filename string) (string, error) {
	logger := logctx.LoggerFromContext(ctx).With("provider", Name, "filename", filename)

	f, _, err := provider.FileBody(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	meta := &drive.File{Name: filename}
	if c.folderID != "" {
		meta.Parents = []string{c.folderID}
	}

	created, err := c.service.Files.Create(meta).
		Context(ctx).
		Fields("id").
		Media(f, googleapi.ChunkSize(chunkSize)).
		Do()
	if err != nil {
		return "", classify(err)
	}

	logger.DebugContext(ctx, "drive file created", "file_id", created.Id)

	perm := &drive.Permission{Type: "anyone", Role: "reader"}
	if _, err := c.service.Permissions.Create(created.Id, perm).Context(ctx).Do(); err != nil {
		return "", classify(err)
	}

	return DownloadLink(created.Id), nil
}

// DownloadLink is the direct download URL of a publicly shared file.
func DownloadLink(fileID string) string {
	return "https://drive.google.com/uc?id=" + url.QueryEscape(fileID) + "&export=download"
}

func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		pe := provider.StatusError(Name, apiErr.Code, apiErr.Message)
		pe.Err = err

		return pe
	}

	if transfer.Transient(err) {
		return &transfer.ProviderError{Provider: Name, Kind: transfer.ProviderTransient, Err: err}
	}

	return &transfer.ProviderError{Provider: Name, Kind: transfer.ProviderRejected, Err: err}
}
