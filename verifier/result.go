package verifier

import (
	"errors"
	"fmt"
)

var (
	// ErrBindingTagMismatch is returned when a commitment's binding tag does
	// not belong to the credential it is embedded in.
	ErrBindingTagMismatch = errors.New("binding tag mismatch")
	// ErrProofRejected is returned when the prover does not accept a
	// commitment proof.
	ErrProofRejected = errors.New("prover rejected the proof")
)

// Status is the outcome of a single check.
type Status string

const (
	StatusVerified   Status = "verified"
	StatusFailed     Status = "failed"
	StatusNotPresent Status = "not-present"
	StatusNotChecked Status = "not-checked"
)

// Check is the result of one verification step. Err carries the cause of a
// failed or unchecked step.
type Check struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	err     error
}

// Err returns the underlying error, if any.
func (c Check) Err() error {
	return c.err
}

func verified(format string, args ...interface{}) Check {
	return Check{Status: StatusVerified, Message: fmt.Sprintf(format, args...)}
}

func failed(err error) Check {
	return Check{Status: StatusFailed, Error: err.Error(), err: err}
}

func notPresent(format string, args ...interface{}) Check {
	return Check{Status: StatusNotPresent, Message: fmt.Sprintf(format, args...)}
}

func notChecked(reason string, err error) Check {
	c := Check{Status: StatusNotChecked, Message: reason, err: err}
	if err != nil {
		c.Error = err.Error()
	}
	return c
}

// SignatureCheck is the result of verifying one role's proof.
type SignatureCheck struct {
	Check
	Signer string `json:"signer,omitempty"`
	// Contract is the verifyingContract of the domain that reproduced the
	// signature, empty when it was made without one.
	Contract string `json:"verifyingContract,omitempty"`
}

// EventCheck is the result of correlating a commitment with an escrow event.
// Only the block number is reported.
type EventCheck struct {
	Check
	BlockNumber uint64 `json:"blockNumber,omitempty"`
}

// Report collects every check run by VerifyAll.
type Report struct {
	ContentID            string         `json:"contentId,omitempty"`
	Stage                int            `json:"stage"`
	Issuer               SignatureCheck `json:"issuer"`
	Holder               SignatureCheck `json:"holder"`
	PriceCommitment      Check          `json:"priceCommitment"`
	OnChainCommitment    Check          `json:"onChainCommitment"`
	PurchaseTxCommitment Check          `json:"purchaseTxHashCommitment"`
	DeliveryTxCommitment Check          `json:"txHashCommitment"`
	Linkage              Check          `json:"linkage"`
	PreviousCredential   Check          `json:"previousCredential"`
	PurchaseEvent        EventCheck     `json:"purchaseEvent"`
	DeliveryEvent        EventCheck     `json:"deliveryEvent"`
}

// FailedChecks lists the names of checks whose status is failed.
func (r *Report) FailedChecks() []string {
	checks := []struct {
		name   string
		status Status
	}{
		{"issuer", r.Issuer.Status},
		{"holder", r.Holder.Status},
		{"priceCommitment", r.PriceCommitment.Status},
		{"onChainCommitment", r.OnChainCommitment.Status},
		{"purchaseTxHashCommitment", r.PurchaseTxCommitment.Status},
		{"txHashCommitment", r.DeliveryTxCommitment.Status},
		{"linkage", r.Linkage.Status},
		{"previousCredential", r.PreviousCredential.Status},
		{"purchaseEvent", r.PurchaseEvent.Status},
		{"deliveryEvent", r.DeliveryEvent.Status},
	}

	var out []string
	for _, c := range checks {
		if c.status == StatusFailed {
			out = append(out, c.name)
		}
	}
	return out
}
