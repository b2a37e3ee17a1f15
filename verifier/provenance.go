package verifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"golang.org/x/sync/errgroup"

	"github.com/pilacorp/go-credential-chain/chain"
	"github.com/pilacorp/go-credential-chain/credential/common/dto"
	"github.com/pilacorp/go-credential-chain/credential/vc"
)

// NodeStatus is the verification outcome of a provenance node.
type NodeStatus string

const (
	NodeVerified NodeStatus = "Verified"
	NodeInvalid  NodeStatus = "Invalid"
	// NodeUnchecked marks nodes past the depth limit.
	NodeUnchecked NodeStatus = "Unchecked"
)

// Lifecycle is the display state of a product in the provenance tree.
type Lifecycle string

const (
	LifecycleDelivered       Lifecycle = "Delivered"
	LifecycleInDelivery      Lifecycle = "InDelivery"
	LifecycleAwaitingConfirm Lifecycle = "AwaitingConfirm"
	LifecycleAvailable       Lifecycle = "Available"
	LifecycleUnknown         Lifecycle = "Unknown"
)

// Node is one credential in a provenance tree.
type Node struct {
	ContentID   string     `json:"cid"`
	Status      NodeStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	ProductName string     `json:"productName,omitempty"`
	Issuer      string     `json:"issuer,omitempty"`
	Holder      string     `json:"holder,omitempty"`
	Delivered   bool       `json:"delivered"`
	Lifecycle   Lifecycle  `json:"lifecycle"`
	Depth       int        `json:"depth"`
	Components  []*Node    `json:"components,omitempty"`

	parent *Node
	cred   *vc.Credential
}

// ProvenanceReport is the result of WalkProvenance. Counts cover the
// component nodes below the root.
type ProvenanceReport struct {
	Root      *Node `json:"root"`
	Total     int   `json:"total"`
	Verified  int   `json:"verified"`
	Invalid   int   `json:"invalid"`
	Delivered int   `json:"delivered"`
	Unchecked int   `json:"unchecked"`
}

// WalkProvenance follows componentCredentials from root, fetching each level
// in parallel. A node that cannot be fetched, parsed or whose proofs fail is
// Invalid; its subtree is not walked. Cycles are reported as Invalid and
// nodes deeper than the depth limit as Unchecked.
//
// root may be nil, in which case it is fetched by rootCID.
func (v *Verifier) WalkProvenance(ctx context.Context, rootCID string, root *vc.Credential) (*ProvenanceReport, error) {
	if v.content == nil {
		return nil, errors.New("provenance walk requires a content store")
	}
	if root == nil {
		c, err := vc.Fetch(ctx, v.content, rootCID, vc.WithSchemaValidation())
		if err != nil {
			return nil, fmt.Errorf("failed to fetch root credential: %w", err)
		}
		root = c
	}

	rootNode := &Node{ContentID: rootCID}
	v.describe(ctx, rootNode, root)

	frontier := []*Node{rootNode}
	for depth := 1; len(frontier) > 0; depth++ {
		var fetch []*Node
		for _, parent := range frontier {
			if parent.Status != NodeVerified {
				continue
			}
			for _, cid := range parent.cred.CredentialSubject.ComponentCredentials {
				child := &Node{ContentID: cid, Depth: depth, parent: parent}
				parent.Components = append(parent.Components, child)
				switch {
				case child.inCycle():
					child.Status = NodeInvalid
					child.Error = "component cycle"
					child.Lifecycle = LifecycleUnknown
				case depth > v.maxDepth:
					child.Status = NodeUnchecked
					child.Lifecycle = LifecycleUnknown
				default:
					fetch = append(fetch, child)
				}
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(v.concurrency)
		for _, n := range fetch {
			g.Go(func() error {
				c, err := vc.Fetch(gctx, v.content, n.ContentID, vc.WithSchemaValidation())
				if err != nil {
					log.Debug("Component credential unavailable", "cid", n.ContentID, "err", err)
					n.Status = NodeInvalid
					n.Error = err.Error()
					n.Lifecycle = LifecycleUnknown
					return nil
				}
				v.describe(gctx, n, c)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		frontier = fetch
	}

	report := &ProvenanceReport{Root: rootNode}
	report.count(rootNode)
	log.Debug("Walked provenance", "root", rootCID, "total", report.Total, "verified", report.Verified, "invalid", report.Invalid)
	return report, nil
}

func (n *Node) inCycle() bool {
	for p := n.parent; p != nil; p = p.parent {
		if p.ContentID != "" && p.ContentID == n.ContentID {
			return true
		}
	}
	return false
}

func (r *ProvenanceReport) count(n *Node) {
	for _, child := range n.Components {
		r.Total++
		switch child.Status {
		case NodeVerified:
			r.Verified++
		case NodeInvalid:
			r.Invalid++
		case NodeUnchecked:
			r.Unchecked++
		}
		if child.Delivered {
			r.Delivered++
		}
		r.count(child)
	}
}

// describe fills n from c and checks the proofs c carries.
func (v *Verifier) describe(ctx context.Context, n *Node, c *vc.Credential) {
	n.cred = c
	n.ProductName = c.CredentialSubject.ProductName
	n.Issuer = c.Issuer.ID
	n.Holder = c.Holder.ID
	n.Delivered = c.IsDelivered()
	n.Lifecycle = v.lifecycle(ctx, c)
	n.Status = NodeVerified

	if c.CredentialSubject.ProductName == "" {
		n.Status = NodeInvalid
		n.Error = fmt.Sprintf("%s: productName", vc.ErrMissingField)
		return
	}
	issuer, holder := v.CheckSignatures(c, productContract(c))
	for _, sc := range []SignatureCheck{issuer, holder} {
		if sc.Status == StatusFailed {
			n.Status = NodeInvalid
			n.Error = sc.Error
			return
		}
	}
}

// lifecycle labels c from its proofs and subject details, overridden by
// escrow state when a chain reader is configured.
func (v *Verifier) lifecycle(ctx context.Context, c *vc.Credential) Lifecycle {
	if v.escrows != nil {
		if escrow, ok := escrowFor(c, ""); ok {
			state, err := v.escrows.State(ctx, escrow)
			if err == nil {
				return lifecycleFromState(state, c)
			}
			log.Debug("Escrow state unavailable, labelling from credential", "escrow", escrow, "err", err)
		}
	}
	return lifecycleFromCredential(c)
}

func lifecycleFromCredential(c *vc.Credential) Lifecycle {
	_, issuerProof := c.ProofFor(dto.RoleIssuer)
	_, holderProof := c.ProofFor(dto.RoleHolder)

	switch {
	case issuerProof && holderProof:
		return LifecycleDelivered
	case hasAddress(transporterOf(c)):
		return LifecycleInDelivery
	case holderProof || holderIsSet(c):
		return LifecycleAwaitingConfirm
	case issuerProof:
		return LifecycleAvailable
	default:
		return LifecycleUnknown
	}
}

func lifecycleFromState(s *chain.EscrowState, c *vc.Credential) Lifecycle {
	zero := common.Address{}
	switch {
	case s.Phase == chain.PhaseDelivered, s.Buyer != zero && s.Owner == s.Buyer:
		return LifecycleDelivered
	case s.Transporter != zero:
		return LifecycleInDelivery
	case s.Buyer != zero:
		return LifecycleAwaitingConfirm
	}
	return lifecycleFromCredential(c)
}

func transporterOf(c *vc.Credential) string {
	if sd := c.CredentialSubject.SubjectDetails; sd != nil {
		return sd.Transporter
	}
	return ""
}

func holderIsSet(c *vc.Credential) bool {
	addr, ok := c.Holder.Address()
	return ok && addr != (common.Address{})
}

func hasAddress(s string) bool {
	return common.IsHexAddress(s) && common.HexToAddress(s) != (common.Address{})
}
