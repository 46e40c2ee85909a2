// Package ipfs fetches content-addressed API metadata documents through an
// HTTP gateway. Metadata is immutable once published, so the client treats
// every response strictly and fails closed on anything it cannot validate.
package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/fluxapi/fluxgate"
	"github.com/fluxapi/fluxgate/retry"
)

const maxMetadataBytes = 1 << 20 // 1 MiB, far above any real descriptor

// Client resolves metadata documents by content address.
type Client struct {
	gateway  string
	http     *http.Client
	validate *validator.Validate
	retry    retry.Config
}

// NewClient builds a metadata client for the given gateway base URL, e.g.
// "https://ipfs.io/ipfs".
func NewClient(gateway string) *Client {
	return &Client{
		gateway:  strings.TrimRight(gateway, "/"),
		http:     &http.Client{Timeout: 15 * time.Second},
		validate: validator.New(),
		retry:    retry.DefaultConfig,
	}
}

// Fetch retrieves and validates the metadata document for a content address.
// Missing documents yield ErrAPINotFound; documents that decode but fail
// validation yield ErrInvalidMetadata. Transient gateway failures are
// retried with backoff before the error is surfaced.
func (c *Client) Fetch(ctx context.Context, cid string) (*fluxgate.Metadata, error) {
	if cid == "" {
		return nil, fluxgate.ErrMissingCid
	}

	meta, err := retry.Do(ctx, c.retry, isTransient, func() (*fluxgate.Metadata, error) {
		return c.fetchOnce(ctx, cid)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (c *Client) fetchOnce(ctx context.Context, cid string) (*fluxgate.Metadata, error) {
	url := c.gateway + "/" + cid
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fluxgate.ErrAPINotFound, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", fluxgate.ErrAPINotFound, cid)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("metadata gateway returned %d", resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: gateway returned %d for %s", fluxgate.ErrAPINotFound, resp.StatusCode, cid)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata body: %w", err)
	}

	var meta fluxgate.Metadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("%w: %v", fluxgate.ErrInvalidMetadata, err)
	}
	if err := c.validate.Struct(&meta); err != nil {
		return nil, fmt.Errorf("%w: %v", fluxgate.ErrInvalidMetadata, err)
	}
	if meta.CostPerRequest.IsNegative() {
		return nil, fmt.Errorf("%w: negative costPerRequest", fluxgate.ErrInvalidMetadata)
	}
	return &meta, nil
}

// isTransient marks network failures and 5xx responses as retryable.
// Validation failures and definitive not-found answers are final.
func isTransient(err error) bool {
	if errors.Is(err, fluxgate.ErrAPINotFound) ||
		errors.Is(err, fluxgate.ErrInvalidMetadata) ||
		errors.Is(err, fluxgate.ErrMissingCid) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
