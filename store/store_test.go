package store

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	id, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	again, err := s.Put(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, id, again)

	other, err := s.Put(ctx, []byte(`{"a":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, id, other)

	data, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	data[0] = 'X'
	fresh, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(fresh))

	_, err = s.Get(ctx, "0xmissing")
	assert.ErrorIs(t, err, ErrNotFound)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Get(cancelled, id)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestIPFSStore(t *testing.T) {
	var mu sync.Mutex
	pinned := map[string][]byte{}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /pin", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req pinRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		pinned["QmTest"] = req.PinataContent
		mu.Unlock()
		_ = json.NewEncoder(w).Encode(pinResponse{IpfsHash: "QmTest"})
	})
	mux.HandleFunc("GET /ipfs/{cid}", func(w http.ResponseWriter, r *http.Request) {
		switch cid := r.PathValue("cid"); cid {
		case "QmBusy":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			mu.Lock()
			data, ok := pinned[cid]
			mu.Unlock()
			if !ok {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(data)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	s := NewIPFSStore(srv.URL+"/ipfs", WithPinning(srv.URL+"/pin", "secret"))

	cid, err := s.Put(ctx, []byte(`{"id":"vc"}`))
	require.NoError(t, err)
	assert.Equal(t, "QmTest", cid)

	data, err := s.Get(ctx, cid)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"vc"}`, string(data))

	_, err = s.Get(ctx, "QmMissing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(ctx, "QmBusy")
	assert.ErrorIs(t, err, ErrStoreUnavailable)

	_, err = NewIPFSStore(srv.URL+"/ipfs", WithPinning(srv.URL+"/pin", "wrong")).Put(ctx, []byte(`{}`))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrStoreUnavailable)

	_, err = NewIPFSStore(srv.URL + "/ipfs").Put(ctx, []byte(`{}`))
	assert.Error(t, err)

	_, err = s.Put(ctx, []byte(`not json`))
	assert.Error(t, err)
}

func TestIPFSStoreUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "{}")
	}))
	gateway := srv.URL
	srv.Close()

	_, err := NewIPFSStore(gateway).Get(context.Background(), "QmAny")
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
