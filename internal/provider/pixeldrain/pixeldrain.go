// Package pixeldrain uploads files to pixeldrain.com with an API key.
package pixeldrain

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/rood-one/telegram-anime-downloader/internal/provider"
)

const (
	Name = "pixeldrain"

	DefaultBaseURL = "https://pixeldrain.com"
)

type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
}

func New(httpClient *http.Client, apiKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{httpClient: httpClient, apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/")}
}

func Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:                Name,
		CredentialsRequired: true,
		Configured:          func(c provider.Credentials) bool { return c.PixeldrainAPIKey != "" },
		New: func(_ context.Context, creds provider.Credentials) (provider.Provider, error) {
			return New(creds.HTTPClient, creds.PixeldrainAPIKey, ""), nil
		},
	}
}

func (c *Client) Name() string { return Name }

// Upload PUTs the raw file to /api/file/{name}. The API key goes in the
// basic auth password with an empty user.
func (c *Client) Upload(ctx context.Context, path, filename string) (string, error) {
	f, size, err := provider.FileBody(path)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+"/api/file/"+url.PathEscape(filename), f)
	if err != nil {
		f.Close()

		return "", provider.Rejected(Name, "failed to build request: %v", err)
	}

	req.ContentLength = size
	req.SetBasicAuth("", c.apiKey)

	resp, err := provider.Do(c.httpClient, Name, req)
	if err != nil {
		return "", err
	}

	var out struct {
		ID      string `json:"id"`
		Success *bool  `json:"success"`
		Message string `json:"message"`
	}

	if err := provider.DecodeJSON(Name, resp, &out); err != nil {
		return "", err
	}

	if out.Success != nil && !*out.Success {
		return "", provider.Rejected(Name, "upload refused: %s", out.Message)
	}

	if out.ID == "" {
		return "", provider.Rejected(Name, "response carried no file id")
	}

	return c.baseURL + "/u/" + out.ID, nil
}
