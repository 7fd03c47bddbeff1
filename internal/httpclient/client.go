package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxImageBytes caps media downloads. Instagram CDN images stay well under
// this; anything larger is not a post image.
const maxImageBytes = 10 << 20

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// FetchBytes downloads a URL body, capped at maxBytes (maxImageBytes when
// maxBytes <= 0). Returns the body and the response Content-Type, sniffed
// from the bytes when the header is missing.
func FetchBytes(ctx context.Context, client *http.Client, url string, maxBytes int64) ([]byte, string, error) {
	if client == nil {
		client = NewDefaultHTTPClient(30 * time.Second)
	}
	if maxBytes <= 0 {
		maxBytes = maxImageBytes
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch failed: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, "", fmt.Errorf("body exceeds %d bytes", maxBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}

	return body, contentType, nil
}
