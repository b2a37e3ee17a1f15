package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// maxContentBytes caps fetched documents.
const maxContentBytes = 4 << 20

// IPFSStore pins JSON documents through a Pinata-compatible API and reads
// them back through an IPFS gateway.
type IPFSStore struct {
	gatewayURL string
	pinURL     string
	jwt        string
	client     *http.Client
}

// IPFSOption configures an IPFSStore.
type IPFSOption func(*IPFSStore)

// WithPinning enables Put through the pinning endpoint.
func WithPinning(pinURL, jwt string) IPFSOption {
	return func(s *IPFSStore) {
		s.pinURL = pinURL
		s.jwt = jwt
	}
}

// WithIPFSTimeout sets the HTTP timeout.
func WithIPFSTimeout(d time.Duration) IPFSOption {
	return func(s *IPFSStore) { s.client.Timeout = d }
}

// WithIPFSHTTPClient replaces the HTTP client.
func WithIPFSHTTPClient(c *http.Client) IPFSOption {
	return func(s *IPFSStore) { s.client = c }
}

// NewIPFSStore creates a store reading from gatewayURL.
func NewIPFSStore(gatewayURL string, opts ...IPFSOption) *IPFSStore {
	s := &IPFSStore{
		gatewayURL: strings.TrimRight(gatewayURL, "/") + "/",
		client: &http.Client{
			Timeout:   10 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type pinRequest struct {
	PinataContent json.RawMessage `json:"pinataContent"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
}

// Put pins a JSON document and returns its CID.
func (s *IPFSStore) Put(ctx context.Context, data []byte) (string, error) {
	if s.pinURL == "" || s.jwt == "" {
		return "", errors.New("pinning is not configured")
	}
	if !json.Valid(data) {
		return "", errors.New("only JSON documents can be pinned")
	}

	body, err := json.Marshal(pinRequest{PinataContent: data})
	if err != nil {
		return "", fmt.Errorf("failed to marshal pin request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.pinURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build pin request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.jwt)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("pin", resp)
	}

	var out pinResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxContentBytes)).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode pin response: %w", err)
	}
	if out.IpfsHash == "" {
		return "", errors.New("pin response has no IpfsHash")
	}

	log.Debug("Pinned document", "cid", out.IpfsHash, "bytes", len(data))
	return out.IpfsHash, nil
}

// Get fetches a document by CID from the gateway.
func (s *IPFSStore) Get(ctx context.Context, contentID string) ([]byte, error) {
	if contentID == "" {
		return nil, fmt.Errorf("%w: empty content id", ErrNotFound)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gatewayURL+url.PathEscape(contentID), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("fetch "+contentID, resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxContentBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrStoreUnavailable, contentID, err)
	}
	return data, nil
}

func statusError(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %s", ErrStoreUnavailable, op, resp.Status)
	default:
		return fmt.Errorf("failed to %s: %s", op, resp.Status)
	}
}
