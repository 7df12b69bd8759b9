package registry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/domain"
	"github.com/modelkeep/model-artifact-cache/internal/port"
)

// Client talks to the model registry and to artifact download endpoints.
// References of the form "name:version" are resolved through the registry
// metadata API; plain http(s) URLs are fetched directly.
type Client struct {
	baseURL        string
	authToken      string
	requestTimeout time.Duration
	httpClient     *http.Client
}

// Ensure Client implements port.ArtifactSource
var _ port.ArtifactSource = (*Client)(nil)

// manifestResponse is the registry's artifact lookup payload
type manifestResponse struct {
	DownloadURL string `json:"download_url"`
	SizeBytes   int64  `json:"size_bytes"`
	SHA256      string `json:"sha256,omitempty"`
}

// NewClient creates a new registry client
func NewClient(baseURL, authToken string, skipTLSVerify bool, requestTimeout time.Duration) *Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: skipTLSVerify,
		},
	}

	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &Client{
		baseURL:        strings.TrimSuffix(baseURL, "/"),
		authToken:      authToken,
		requestTimeout: requestTimeout,
		httpClient: &http.Client{
			Transport: transport,
			// Body reads of large artifacts outlive any sane request
			// timeout, so only the resolve path uses one (per request).
			Timeout: 0,
		},
	}
}

// Resolve looks up an artifact reference in the registry
func (c *Client) Resolve(ctx context.Context, ref string) (*port.ResolvedArtifact, error) {
	// Direct URLs skip the registry lookup
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return &port.ResolvedArtifact{URL: ref, Size: domain.SizeUnknown}, nil
	}

	if c.baseURL == "" {
		return nil, fmt.Errorf("%w: reference %q requires a registry base URL", domain.ErrInvalidRequest, ref)
	}

	name, version := splitRef(ref)
	lookupURL := fmt.Sprintf("%s/api/models/%s/versions/%s/manifest",
		c.baseURL, url.PathEscape(name), url.PathEscape(version))

	reqCtx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, lookupURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build manifest request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("manifest request failed: %w", err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: unknown model reference %q", domain.ErrInvalidRequest, ref)
	case resp.StatusCode >= 500:
		return nil, domain.NewRetryableError(fmt.Errorf("registry returned %s", resp.Status))
	default:
		return nil, fmt.Errorf("registry returned %s", resp.Status)
	}

	var manifest manifestResponse
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	if manifest.DownloadURL == "" {
		return nil, fmt.Errorf("manifest for %q has no download URL", ref)
	}

	size := manifest.SizeBytes
	if size <= 0 {
		size = domain.SizeUnknown
	}

	return &port.ResolvedArtifact{
		URL:      manifest.DownloadURL,
		Size:     size,
		Checksum: manifest.SHA256,
	}, nil
}

// Fetch opens the artifact body starting at the given byte offset
func (c *Client) Fetch(ctx context.Context, fetchURL string, offset int64) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build download request: %w", err)
	}
	c.setAuth(req)

	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, domain.NewRetryableError(fmt.Errorf("download request failed: %w", err))
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		total := totalFromContentRange(resp.Header.Get("Content-Range"))
		return resp.Body, total, nil

	case http.StatusOK:
		if offset > 0 {
			// Server ignored the Range header; the caller must restart
			// from byte zero.
			resp.Body.Close()
			return nil, 0, domain.ErrResumeNotSupported
		}
		total := domain.SizeUnknown
		if resp.ContentLength >= 0 {
			total = resp.ContentLength
		}
		return resp.Body, total, nil

	default:
		resp.Body.Close()
		err := fmt.Errorf("download returned %s", resp.Status)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, 0, domain.NewRetryableError(err)
		}
		return nil, 0, err
	}
}

// setAuth attaches the bearer token when configured
func (c *Client) setAuth(req *http.Request) {
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// splitRef splits "name:version" references; the version defaults to latest.
func splitRef(ref string) (string, string) {
	if idx := strings.LastIndex(ref, ":"); idx > 0 {
		return ref[:idx], ref[idx+1:]
	}
	return ref, "latest"
}

// totalFromContentRange parses the complete length out of a Content-Range
// header ("bytes start-end/total"). Returns SizeUnknown when absent or "*".
func totalFromContentRange(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 {
		return domain.SizeUnknown
	}
	total, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil || total < 0 {
		return domain.SizeUnknown
	}
	return total
}
