package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dwarf-protocol/dwarf-go/pkg/retry"
)

// Client defaults.
const (
	DefaultAPIPort  = 8082
	DefaultJPEGPort = 8092
	DefaultTimeout  = 5 * time.Second
	DefaultRetries  = 3
)

// ClientConfig configures an API client.
type ClientConfig struct {
	// Host is the unit's address.
	Host string

	// APIPort serves control JSON (default 8082).
	APIPort int

	// JPEGPort serves image assets (default 8092).
	JPEGPort int

	// Timeout bounds each HTTP exchange (default 5s).
	Timeout time.Duration

	// Retries bounds attempts per request (default 3).
	Retries int

	// Logger for request diagnostics. Defaults to slog.Default().
	Logger *slog.Logger
}

// Client is an HTTP client for the DWARF JSON API.
type Client struct {
	config ClientConfig
	http   *http.Client
}

// NewClient creates an API client.
func NewClient(config ClientConfig) *Client {
	if config.APIPort == 0 {
		config.APIPort = DefaultAPIPort
	}
	if config.JPEGPort == 0 {
		config.JPEGPort = DefaultJPEGPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Retries == 0 {
		config.Retries = DefaultRetries
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Client{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
	}
}

// FetchParameterTable retrieves the raw parameter configuration payload.
// The exposure package parses it into a Table.
func (c *Client) FetchParameterTable(ctx context.Context) ([]byte, error) {
	return c.get(ctx, c.apiURL("/getDefaultParamsConfig"))
}

// MediaInfo is one album entry from the media listing.
type MediaInfo struct {
	Name      string `json:"name"`
	Path      string `json:"path"`
	MediaType int    `json:"mediaType"`
	Size      int64  `json:"size"`
	CreatedAt int64  `json:"createTime"`
}

// ListAlbum fetches a page of album media entries.
func (c *Client) ListAlbum(ctx context.Context, mediaType, pageIndex, pageSize int) ([]MediaInfo, error) {
	body, err := json.Marshal(map[string]int{
		"mediaType": mediaType,
		"pageIndex": pageIndex,
		"pageSize":  pageSize,
	})
	if err != nil {
		return nil, err
	}

	payload, err := c.post(ctx, c.apiURL("/album/list/mediaInfos"), body)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Data []MediaInfo `json:"data"`
	}
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("failed to decode album listing: %w", err)
	}
	return listing.Data, nil
}

// FetchAsset downloads an image asset by firmware path. Paths the
// firmware reports under /sdcard/ are served from the asset root.
func (c *Client) FetchAsset(ctx context.Context, filePath string) ([]byte, error) {
	normalized, err := normalizeAssetPath(filePath)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("http://%s:%d%s", c.config.Host, c.config.JPEGPort, normalized)
	return c.get(ctx, url)
}

func (c *Client) apiURL(path string) string {
	return fmt.Sprintf("http://%s:%d%s", c.config.Host, c.config.APIPort, path)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	})
}

func (c *Client) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	return c.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

// do runs one exchange with bounded retries. The firmware's HTTP
// service flaps during mode switches, so transient failures are normal.
func (c *Client) do(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var payload []byte

	policy := retry.Policy{MaxAttempts: c.config.Retries, Interval: 500 * time.Millisecond}
	err := policy.Do(ctx, func(ctx context.Context) error {
		req, err := build(ctx)
		if err != nil {
			return err
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.config.Logger.Warn("dwarf http retry", "url", req.URL.Path, "error", err)
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			c.config.Logger.Warn("dwarf http status", "url", req.URL.Path, "status", resp.StatusCode)
			return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, req.URL.Path)
		}

		payload, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		return nil, err
	}
	return payload, nil
}

// normalizeAssetPath maps firmware-reported file paths onto the asset
// service's root.
func normalizeAssetPath(filePath string) (string, error) {
	trimmed := strings.TrimSpace(filePath)
	if trimmed == "" {
		return "", fmt.Errorf("file path must be provided")
	}
	trimmed = strings.TrimPrefix(trimmed, "/sdcard/")
	trimmed = strings.TrimLeft(trimmed, "/")
	return "/" + trimmed, nil
}
