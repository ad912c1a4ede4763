// Package gofile uploads files to gofile.io.
package gofile

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rood-one/telegram-anime-downloader/internal/logctx"
	"github.com/rood-one/telegram-anime-downloader/internal/provider"
)

const (
	Name = "gofile"

	DefaultServersURL      = "https://api.gofile.io/servers"
	DefaultUploadURLFormat = "https://%s.gofile.io/contents/uploadfile"

	// FallbackServer is used whenever server discovery fails.
	FallbackServer = "store-eu-gra-2"

	discoveryTimeout = 10 * time.Second
)

type Client struct {
	httpClient      *http.Client
	serversURL      string
	uploadURLFormat string
}

type Option func(*Client)

// WithEndpoints overrides the discovery URL and the upload URL format. The
// format receives the server name as its only verb.
func WithEndpoints(serversURL, uploadURLFormat string) Option {
	return func(c *Client) {
		c.serversURL = serversURL
		c.uploadURLFormat = uploadURLFormat
	}
}

func New(httpClient *http.Client, opts ...Option) *Client {
	c := &Client{
		httpClient:      httpClient,
		serversURL:      DefaultServersURL,
		uploadURLFormat: DefaultUploadURLFormat,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Descriptor registers gofile. It needs no credentials.
func Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name: Name,
		New: func(_ context.Context, creds provider.Credentials) (provider.Provider, error) {
			return New(creds.HTTPClient), nil
		},
	}
}

func (c *Client) Name() string { return Name }

type serversResponse struct {
	Status string `json:"status"`
	Data   struct {
		Servers []struct {
			Name string `json:"name"`
			Zone string `json:"zone"`
		} `json:"servers"`
	} `json:"data"`
}

type uploadResponse struct {
	Status string `json:"status"`
	Data   struct {
		DownloadPage string `json:"downloadPage"`
		FileID       string `json:"fileId"`
	} `json:"data"`
}

// server asks gofile for an upload server. Any failure yields FallbackServer.
func (c *Client) server(ctx context.Context) string {
	logger := logctx.LoggerFromContext(ctx)

	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serversURL, nil)
	if err != nil {
		return FallbackServer
	}

	resp, err := provider.Do(c.httpClient, Name, req)
	if err != nil {
		logger.WarnContext(ctx, "gofile server discovery failed, using fallback", "server", FallbackServer, "err", err)

		return FallbackServer
	}

	var out serversResponse
	if err := provider.DecodeJSON(Name, resp, &out); err != nil || out.Status != "ok" || len(out.Data.Servers) == 0 {
		logger.WarnContext(ctx, "gofile returned no usable server, using fallback", "server", FallbackServer, "status", out.Status)

		return FallbackServer
	}

	return out.Data.Servers[0].Name
}

func (c *Client) Upload(ctx context.Context, path, filename string) (string, error) {
	server := c.server(ctx)

	body, contentType, err := provider.MultipartBody(path, "file", filename, nil)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf(c.uploadURLFormat, server), body)
	if err != nil {
		body.Close()

		return "", provider.Rejected(Name, "failed to build request: %v", err)
	}

	req.Header.Set("Content-Type", contentType)

	logctx.LoggerFromContext(ctx).DebugContext(ctx, "uploading to gofile", "server", server, "filename", filename)

	resp, err := provider.Do(c.httpClient, Name, req)
	if err != nil {
		return "", err
	}

	var out uploadResponse
	if err := provider.DecodeJSON(Name, resp, &out); err != nil {
		return "", err
	}

	if out.Status != "ok" {
		return "", provider.Rejected(Name, "upload status %q", out.Status)
	}

	if out.Data.DownloadPage == "" {
		return "", provider.Rejected(Name, "response carried no download page")
	}

	return out.Data.DownloadPage, nil
}
