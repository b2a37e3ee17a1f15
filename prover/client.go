// Package prover talks to the commitment prover service and provides an
// in-process implementation of the same API.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/pilacorp/go-credential-chain/commitment"
)

// DefaultTimeout bounds each prover request.
const DefaultTimeout = 10 * time.Second

// Client calls a remote prover over HTTP.
type Client struct {
	baseURL string
	client  *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.client = c }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(cl *Client) { cl.client.Timeout = d }
}

// NewClient creates a prover client for baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var _ commitment.Prover = (*Client)(nil)

// Commit implements commitment.Prover.
func (c *Client) Commit(ctx context.Context, value uint64, blinding common.Hash) (*commitment.ProverResponse, error) {
	req := commitRequest{
		Value:    json.Number(strconv.FormatUint(value, 10)),
		Blinding: commitment.TagHex(blinding),
	}
	var resp commitment.ProverResponse
	if err := c.post(ctx, PathCommit, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CommitWithBinding implements commitment.Prover.
func (c *Client) CommitWithBinding(ctx context.Context, value uint64, blinding, bindingTag common.Hash) (*commitment.ProverResponse, error) {
	req := commitRequest{
		Value:      json.Number(strconv.FormatUint(value, 10)),
		Blinding:   commitment.TagHex(blinding),
		BindingTag: commitment.TagHex(bindingTag),
	}
	var resp commitment.ProverResponse
	if err := c.post(ctx, PathCommitWithBinding, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CommitTxHash implements commitment.Prover.
func (c *Client) CommitTxHash(ctx context.Context, txHash common.Hash, bindingTag *common.Hash) (*commitment.ProverResponse, error) {
	req := commitTxHashRequest{TxHash: commitment.TagHex(txHash)}
	if bindingTag != nil {
		req.BindingTag = commitment.TagHex(*bindingTag)
	}
	var resp commitment.ProverResponse
	if err := c.post(ctx, PathCommitTxHash, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify implements commitment.Prover.
func (c *Client) Verify(ctx context.Context, commitmentHex, proofHex string, bindingTag *common.Hash) (bool, error) {
	req := verifyRequest{Commitment: commitmentHex, Proof: proofHex}
	if bindingTag != nil {
		req.BindingTag = commitment.TagHex(*bindingTag)
	}
	var resp verifyResponse
	if err := c.post(ctx, PathVerify, req, &resp); err != nil {
		return false, err
	}
	return resp.Verified, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal prover request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build prover request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", commitment.ErrProverUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %w", commitment.ErrProverUnavailable, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned %s", commitment.ErrProverUnavailable, path, resp.Status)
	case resp.StatusCode >= http.StatusBadRequest:
		var e errorResponse
		_ = json.Unmarshal(data, &e)
		return fmt.Errorf("%w: prover rejected %s with %s: %s", commitment.ErrInvalidValue, path, resp.Status, e.Error)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s returned %s", commitment.ErrMalformedCommitmentResponse, path, resp.Status)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %w", commitment.ErrMalformedCommitmentResponse, err)
	}
	return nil
}
