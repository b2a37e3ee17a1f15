package vc

import (
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/commitment"
	"github.com/pilacorp/go-credential-chain/credential/common/dto"
)

// TxCommitmentKind selects which transaction commitment slot to fill.
type TxCommitmentKind int

const (
	PurchaseTx TxCommitmentKind = iota
	DeliveryTx
)

func (k TxCommitmentKind) String() string {
	if k == PurchaseTx {
		return "purchaseTxHashCommitment"
	}
	return "txHashCommitment"
}

// Update applies fn to the credential. Once the credential carries a proof,
// fn may only touch unsigned fields and may only append proofs; any other
// change is rolled back and ErrSignedPayloadMutation is returned.
func (c *Credential) Update(fn func(*Credential) error) error {
	if len(c.Proof) == 0 {
		return fn(c)
	}

	before, err := c.SigningDigest()
	if err != nil {
		return err
	}
	backup := c.Clone()

	if err := fn(c); err != nil {
		*c = *backup
		return err
	}

	after, err := c.SigningDigest()
	if err != nil {
		*c = *backup
		return err
	}
	if before != after {
		*c = *backup
		return fmt.Errorf("%w: signed fields changed after %d proof(s)", ErrSignedPayloadMutation, len(backup.Proof))
	}
	if !proofsExtend(backup.Proof, c.Proof) {
		*c = *backup
		return fmt.Errorf("%w: existing proofs were altered", ErrSignedPayloadMutation)
	}
	return nil
}

func proofsExtend(old, cur []dto.Proof) bool {
	if len(cur) < len(old) {
		return false
	}
	for i := range old {
		if old[i] != cur[i] {
			return false
		}
	}
	return true
}

// AppendProof adds a role-tagged proof. A role may sign only once.
func (c *Credential) AppendProof(p dto.Proof) error {
	if p.Role == "" {
		return fmt.Errorf("%w: proof role", ErrMissingField)
	}
	if p.JWS == "" {
		return fmt.Errorf("%w: proof signature", ErrMissingField)
	}
	if _, exists := c.ProofFor(p.Role); exists {
		return fmt.Errorf("%w: %s proof already present", ErrSignedPayloadMutation, p.Role)
	}
	return c.Update(func(c *Credential) error {
		c.Proof = append(c.Proof, p)
		return nil
	})
}

// AttachTxHashCommitment stores a transaction-hash commitment. The field is
// outside the signed payload and may be added after signing.
func (c *Credential) AttachTxHashCommitment(kind TxCommitmentKind, tc *commitment.TxHashCommitment) error {
	if tc == nil || tc.Commitment == "" || tc.Proof == "" {
		return fmt.Errorf("%w: %s", ErrMissingField, kind)
	}
	cp := *tc
	err := c.Update(func(c *Credential) error {
		switch kind {
		case PurchaseTx:
			c.CredentialSubject.PurchaseTxHashCommitment = &cp
		default:
			c.CredentialSubject.TxHashCommitment = &cp
		}
		return nil
	})
	if err == nil {
		log.Debug("Attached transaction commitment", "field", kind, "signed", len(c.Proof) > 0)
	}
	return err
}

// SetDeliveryStatus records the delivery outcome. The field is unsigned.
func (c *Credential) SetDeliveryStatus(delivered bool) error {
	return c.Update(func(c *Credential) error {
		c.CredentialSubject.DeliveryStatus = &delivered
		return nil
	})
}
