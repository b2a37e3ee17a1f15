package vc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilacorp/go-credential-chain/store"
)

func TestPublishFetch(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()

	c, err := ParseCredential(sampleJSON(""))
	require.NoError(t, err)

	cid, err := Publish(ctx, s, c)
	require.NoError(t, err)

	again, err := Publish(ctx, s, c.Clone())
	require.NoError(t, err)
	assert.Equal(t, cid, again)

	got, err := Fetch(ctx, s, cid, WithSchemaValidation())
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.CredentialSubject.Price.String(), got.CredentialSubject.Price.String())

	_, err = Fetch(ctx, s, "0xdeadbeef")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
