package webstore

import (
	"fmt"
	"net/url"

	"crxharvest/pkg/config"
)

// ListingURL constructs the catalog page URL. An empty token requests the first page.
func ListingURL(cfg *config.CatalogConfig, token string) string {
	params := url.Values{}
	params.Set("hl", cfg.Locale)
	params.Set("pv", cfg.StoreVersion)
	if cfg.FeatureFlags != "" {
		params.Set("mce", cfg.FeatureFlags)
	}
	params.Set("requestedCounts", fmt.Sprintf("infiniteWall:%d:0:false", cfg.PageSize))
	params.Set("category", cfg.Category)
	params.Set("rt", "j")
	if token != "" {
		params.Set("token", token)
	}

	return fmt.Sprintf("%s?%s", cfg.Endpoint, params.Encode())
}

// ArchiveURL constructs the package download URL for an extension id.
// The x parameter carries its own url-encoded query ("id=<id>&uc").
func ArchiveURL(cfg *config.DownloadConfig, id string) string {
	params := url.Values{}
	params.Set("response", "redirect")
	params.Set("prodversion", cfg.ProductVersion)
	params.Set("acceptformat", cfg.AcceptFormat)
	params.Set("x", fmt.Sprintf("id=%s&uc", id))
	params.Set("nacl_arch", cfg.NaClArch)

	return fmt.Sprintf("%s?%s", cfg.Endpoint, params.Encode())
}
