package prover

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/commitment/bindingtag"
)

func TestClientAgainstLocalHandler(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewLocal()))
	defer srv.Close()

	ctx := context.Background()
	engine := commitment.NewEngine(NewClient(srv.URL))

	blinding, err := commitment.DeriveBlinding("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	require.NoError(t, err)
	tag, err := bindingtag.DeriveContextTag(bindingtag.Context{
		ChainID: "11155111", EscrowAddr: "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", ProductID: "1", SchemaVersion: "1.0",
	})
	require.NoError(t, err)

	res, err := engine.CommitValueWithBinding(ctx, 4_000_000_000_000_000_000, blinding, tag)
	require.NoError(t, err)
	assert.True(t, res.Verified)
	assert.Nil(t, res.Warning)

	direct, err := NewLocal().Commit(ctx, 4_000_000_000_000_000_000, blinding)
	require.NoError(t, err)
	assert.True(t, commitment.VerifyCommitment(res.Commitment, "0x"+strings.ToUpper(direct.Commitment)))

	ok, err := engine.Verify(ctx, res.Commitment, res.Proof, &tag)
	require.NoError(t, err)
	assert.True(t, ok)

	plain, err := engine.CommitValue(ctx, 5, blinding)
	require.NoError(t, err)
	ok, err = engine.Verify(ctx, plain.Commitment, plain.Proof, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	txRes, err := engine.CommitTxHash(ctx, "0x"+strings.Repeat("ab", 32), &tag)
	require.NoError(t, err)
	assert.Equal(t, commitment.TagHex(tag), txRes.BindingTag)
	ok, err = engine.Verify(ctx, txRes.Commitment, txRes.Proof, &tag)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestClientErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		timeout time.Duration
		wantErr error
	}{
		{
			name: "server error is unavailability",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr: commitment.ErrProverUnavailable,
		},
		{
			name: "rejected input is not unavailability",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"error":"value out of range"}`))
			},
			wantErr: commitment.ErrInvalidValue,
		},
		{
			name: "rate limit is unavailability",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
			wantErr: commitment.ErrProverUnavailable,
		},
		{
			name: "garbage body is malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("<html>"))
			},
			wantErr: commitment.ErrMalformedCommitmentResponse,
		},
		{
			name: "missing fields are malformed",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"verified":true}`))
			},
			wantErr: commitment.ErrMalformedCommitmentResponse,
		},
		{
			name: "timeout is unavailability",
			handler: func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-time.After(500 * time.Millisecond):
				case <-r.Context().Done():
				}
			},
			timeout: 50 * time.Millisecond,
			wantErr: commitment.ErrProverUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			opts := []ClientOption{}
			if tt.timeout > 0 {
				opts = append(opts, WithTimeout(tt.timeout))
			}
			engine := commitment.NewEngine(NewClient(srv.URL, opts...))

			_, err := engine.CommitValue(context.Background(), 1, common.Hash{})
			assert.ErrorIs(t, err, tt.wantErr)
			if tt.wantErr == commitment.ErrInvalidValue {
				assert.NotErrorIs(t, err, commitment.ErrProverUnavailable)
			}
		})
	}
}

func TestClientUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := commitment.NewEngine(NewClient(url)).CommitValue(context.Background(), 1, common.Hash{})
	assert.ErrorIs(t, err, commitment.ErrProverUnavailable)
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	srv := httptest.NewServer(NewHandler(NewLocal()))
	defer srv.Close()

	tests := []struct {
		name string
		path string
		body string
	}{
		{"negative value", PathCommit, `{"value":-1,"blinding":"` + strings.Repeat("00", 32) + `"}`},
		{"missing blinding", PathCommit, `{"value":1}`},
		{"missing binding tag", PathCommitWithBinding, `{"value":1,"blinding":"` + strings.Repeat("00", 32) + `"}`},
		{"short tx hash", PathCommitTxHash, `{"txHash":"1234"}`},
		{"verify without proof", PathVerify, `{"commitment":"00"}`},
		{"not json", PathVerify, `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := http.Post(srv.URL+tt.path, "application/json", strings.NewReader(tt.body))
			require.NoError(t, err)
			defer resp.Body.Close()
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}

	resp, err := http.Get(srv.URL + PathCommit)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
