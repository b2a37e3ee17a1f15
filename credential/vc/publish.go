package vc

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/store"
)

// Publish writes the canonical credential to s and returns its content id.
func Publish(ctx context.Context, s store.Store, c *Credential) (string, error) {
	data, err := c.Canonical()
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize credential: %w", err)
	}
	cid, err := s.Put(ctx, data)
	if err != nil {
		return "", err
	}
	log.Debug("Published credential", "id", c.ID, "cid", cid, "size", len(data))
	return cid, nil
}

// Fetch retrieves and parses the credential stored under contentID.
func Fetch(ctx context.Context, g ContentGetter, contentID string, opts ...CredentialOpt) (*Credential, error) {
	data, err := g.Get(ctx, contentID)
	if err != nil {
		return nil, err
	}
	c, err := ParseCredential(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse credential %s: %w", contentID, err)
	}
	return c, nil
}
