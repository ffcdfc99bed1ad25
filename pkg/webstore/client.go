package webstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"crxharvest/pkg/config"
	errs "crxharvest/pkg/errors"
	"crxharvest/pkg/logger"
)

// PageFetcher retrieves one catalog page for a cursor token
type PageFetcher interface {
	FetchPage(ctx context.Context, token string) (*Page, error)
}

// ArchiveFetcher retrieves the raw package bytes for an extension id
type ArchiveFetcher interface {
	FetchArchive(ctx context.Context, id string) ([]byte, error)
}

// Client talks to the catalog listing and package download endpoints
type Client struct {
	catalog  config.CatalogConfig
	download config.DownloadConfig

	listingClient *http.Client
	archiveClient *http.Client
	headers       map[string]string
	logger        logger.Logger
}

// NewClient creates a client for both endpoints
func NewClient(catalog config.CatalogConfig, download config.DownloadConfig, log logger.Logger) *Client {
	if log == nil {
		log = logger.GetLogger()
	}

	return &Client{
		catalog:  catalog,
		download: download,
		listingClient: &http.Client{
			Timeout: catalog.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		archiveClient: &http.Client{
			Timeout: download.Timeout,
		},
		headers: map[string]string{
			"User-Agent": catalog.UserAgent,
		},
		logger: log,
	}
}

// doRequest performs an HTTP request with the configured headers.
// Network failures are returned unwrapped so callers can attach op and id.
func (c *Client) doRequest(hc *http.Client, req *http.Request) (*http.Response, error) {
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	resp, err := hc.Do(req)
	duration := time.Since(start)

	if err != nil {
		c.logger.WithError(err).DebugWithFields("HTTP request failed", map[string]interface{}{
			"method":   req.Method,
			"url":      req.URL.String(),
			"duration": duration,
		})
		return nil, err
	}

	logger.LogRequest(c.logger, req.Method, req.URL.String(), resp.StatusCode, float64(duration.Milliseconds()))
	return resp, nil
}

// FetchPage POSTs the listing request for token and decodes the page.
// Redirects are not followed and anything but 200 is a transport error.
func (c *Client) FetchPage(ctx context.Context, token string) (*Page, error) {
	url := ListingURL(&c.catalog, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return nil, errs.Transport("fetch page", 0, fmt.Errorf("failed to create request: %w", err))
	}

	resp, err := c.doRequest(c.listingClient, req)
	if err != nil {
		return nil, errs.Transport("fetch page", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errs.Transport("fetch page", resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transport("fetch page", resp.StatusCode, fmt.Errorf("failed to read response body: %w", err))
	}

	page, err := DecodePage(body, c.catalog.EndSentinel)
	if err != nil {
		preview := string(body)
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		c.logger.WithError(err).ErrorWithFields("Failed to decode catalog page", map[string]interface{}{
			"url":          url,
			"body_preview": preview,
		})
		return nil, err
	}

	return page, nil
}

// FetchArchive GETs the package for id, following redirects. Non-2xx is a transport error.
func (c *Client) FetchArchive(ctx context.Context, id string) ([]byte, error) {
	url := ArchiveURL(&c.download, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errs.Transport("download archive", 0, fmt.Errorf("failed to create request: %w", err)).WithID(id)
	}

	resp, err := c.doRequest(c.archiveClient, req)
	if err != nil {
		return nil, errs.Transport("download archive", 0, err).WithID(id)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.Transport("download archive", resp.StatusCode, fmt.Errorf("unexpected status %s", resp.Status)).WithID(id)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Transport("download archive", resp.StatusCode, fmt.Errorf("failed to read archive body: %w", err)).WithID(id)
	}

	return data, nil
}
