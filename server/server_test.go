package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/vc"
	"github.com/pilacorp/go-credential-chain/prover"
	"github.com/pilacorp/go-credential-chain/signer"
	"github.com/pilacorp/go-credential-chain/store"
	"github.com/pilacorp/go-credential-chain/verifier"
)

const (
	sellerKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	escrow    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	chainID   = int64(1337)
)

type fixture struct {
	srv     *httptest.Server
	store   *store.MemoryStore
	listing *vc.Credential
	cid     string
}

func newFixture(t *testing.T, getter vc.ContentGetter) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := prover.NewLocal()
	engine := commitment.NewEngine(p)
	seller, err := signer.NewDefaultProvider(sellerKey)
	require.NoError(t, err)

	b := vc.NewBuilder(engine,
		vc.WithChainID(chainID),
		vc.WithContentGetter(s),
		vc.WithClock(func() time.Time { return time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC) }),
	)
	listing, err := b.BuildListing(ctx, vc.ListingInput{
		SellerAddr:  seller.GetAddress(),
		EscrowAddr:  escrow,
		ProductID:   "7",
		ProductName: "Battery pack",
		Batch:       "B-1",
		Quantity:    3,
		Price:       2_500_000,
	})
	require.NoError(t, err)
	require.NoError(t, signer.SignAndAppend(ctx, listing, dto.RoleIssuer, seller, signer.NewDomain(chainID, escrow)))
	cid, err := vc.Publish(ctx, s, listing)
	require.NoError(t, err)

	if getter == nil {
		getter = s
	}
	v := verifier.New(engine, verifier.WithContentGetter(getter), verifier.WithChainID(chainID))
	srv := httptest.NewServer(New(v, getter, WithProver(p)).Handler())
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, store: s, listing: listing, cid: cid}
}

func (f *fixture) post(t *testing.T, path string, body interface{}) (int, map[string]json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	resp, err := http.Post(f.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]json.RawMessage
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestVerifyCredential(t *testing.T) {
	f := newFixture(t, nil)
	raw, err := f.listing.Canonical()
	require.NoError(t, err)

	var undated map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &undated))
	delete(undated, "issuanceDate")

	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		validate   func(t *testing.T, out map[string]json.RawMessage)
	}{
		{
			name:       "object with contract",
			body:       map[string]interface{}{"vc": json.RawMessage(raw), "contractAddress": escrow},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, out map[string]json.RawMessage) {
				assert.JSONEq(t, `"VC verification complete."`, string(out["message"]))
				var issuer verifier.SignatureCheck
				require.NoError(t, json.Unmarshal(out["issuer"], &issuer))
				assert.Equal(t, verifier.StatusVerified, issuer.Status)
				var holder verifier.SignatureCheck
				require.NoError(t, json.Unmarshal(out["holder"], &holder))
				assert.Equal(t, verifier.StatusNotPresent, holder.Status)
			},
		},
		{
			name:       "string encoded certificate",
			body:       map[string]interface{}{"vc": string(raw), "isCertificate": true, "cid": f.cid},
			wantStatus: http.StatusOK,
			validate: func(t *testing.T, out map[string]json.RawMessage) {
				assert.Equal(t, "null", string(out["holder"]))
				var report verifier.Report
				require.NoError(t, json.Unmarshal(out["report"], &report))
				assert.Equal(t, f.cid, report.ContentID)
				assert.Equal(t, verifier.StatusVerified, report.PriceCommitment.Status)
			},
		},
		{
			name:       "missing vc",
			body:       map[string]interface{}{"contractAddress": escrow},
			wantStatus: http.StatusBadRequest,
			validate: func(t *testing.T, out map[string]json.RawMessage) {
				assert.Contains(t, string(out["error"]), "vc is required")
			},
		},
		{
			name:       "malformed body",
			body:       "{",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "credential missing a required field",
			body:       map[string]interface{}{"vc": undated, "contractAddress": escrow},
			wantStatus: http.StatusBadRequest,
			validate: func(t *testing.T, out map[string]json.RawMessage) {
				assert.Contains(t, string(out["error"]), "issuanceDate")
			},
		},
		{
			name:       "not a credential",
			body:       map[string]interface{}{"vc": "plain text"},
			wantStatus: http.StatusBadRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, out := f.post(t, PathVerify, tt.body)
			assert.Equal(t, tt.wantStatus, status)
			if tt.validate != nil {
				tt.validate(t, out)
			}
		})
	}
}

func TestVerifyCredentialWrongContract(t *testing.T) {
	f := newFixture(t, nil)
	raw, err := f.listing.Canonical()
	require.NoError(t, err)

	status, out := f.post(t, PathVerify, map[string]interface{}{
		"vc":              json.RawMessage(raw),
		"contractAddress": "0xabababababababababababababababababababab",
	})
	require.Equal(t, http.StatusOK, status)
	var issuer verifier.SignatureCheck
	require.NoError(t, json.Unmarshal(out["issuer"], &issuer))
	assert.Equal(t, verifier.StatusFailed, issuer.Status)
}

type failingGetter struct{ err error }

func (g failingGetter) Get(context.Context, string) ([]byte, error) { return nil, g.err }

func TestFetchCredential(t *testing.T) {
	f := newFixture(t, nil)

	status, out := f.post(t, PathFetch, map[string]string{"cid": f.cid})
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `"VC fetching complete."`, string(out["message"]))
	fetched, err := vc.ParseCredential(out["vc"])
	require.NoError(t, err)
	assert.Equal(t, f.listing.ID, fetched.ID)

	tests := []struct {
		name       string
		getter     vc.ContentGetter
		cid        string
		wantStatus int
	}{
		{name: "missing cid", wantStatus: http.StatusBadRequest},
		{name: "unknown cid", cid: "0x00", wantStatus: http.StatusNotFound},
		{name: "store down", getter: failingGetter{err: store.ErrStoreUnavailable}, cid: "x", wantStatus: http.StatusBadGateway},
		{name: "other error", getter: failingGetter{err: errors.New("boom")}, cid: "x", wantStatus: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newFixture(t, tt.getter)
			status, out := g.post(t, PathFetch, map[string]string{"cid": tt.cid})
			assert.Equal(t, tt.wantStatus, status)
			assert.NotEmpty(t, out["error"])
		})
	}
}

func TestProvenance(t *testing.T) {
	f := newFixture(t, nil)

	status, out := f.post(t, PathProvenance, map[string]string{"cid": f.cid})
	require.Equal(t, http.StatusOK, status)
	var root verifier.Node
	require.NoError(t, json.Unmarshal(out["root"], &root))
	assert.Equal(t, f.cid, root.ContentID)
	assert.Equal(t, verifier.NodeVerified, root.Status)
	assert.JSONEq(t, "0", string(out["total"]))

	status, _ = f.post(t, PathProvenance, map[string]string{"cid": "0x00"})
	assert.Equal(t, http.StatusNotFound, status)

	badCID, err := f.store.Put(context.Background(), []byte(`{"id":"x","type":["Other"]}`))
	require.NoError(t, err)
	status, out = f.post(t, PathProvenance, map[string]string{"cid": badCID})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Contains(t, string(out["error"]), "invalid credential")
}

func TestProverMounted(t *testing.T) {
	f := newFixture(t, nil)
	engine := commitment.NewEngine(prover.NewClient(f.srv.URL + PathProver))

	blinding, err := commitment.DeriveBlinding(escrow, "0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266")
	require.NoError(t, err)
	res, err := engine.CommitValue(context.Background(), 42, blinding)
	require.NoError(t, err)

	ok, err := engine.Verify(context.Background(), res.Commitment, res.Proof, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, nil)
	resp, err := http.Get(f.srv.URL + PathVerify)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
