// Package chain reads product escrow state and commitment events from an
// Ethereum node.
//
// The package only reads. It never builds or submits transactions; escrow
// business logic stays in the contract.
package chain

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	"github.com/pilacorp/go-credential-chain/credential/common/util"
)

//go:embed escrow_abi.json
var escrowABIJSON []byte

var (
	parsedABI    abi.ABI
	parseABIOnce sync.Once
	errParseABI  error
)

// loadABI parses the embedded escrow ABI exactly once.
func loadABI() (abi.ABI, error) {
	parseABIOnce.Do(func() {
		type hardhatArtifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		var artifact hardhatArtifact
		if err := json.Unmarshal(escrowABIJSON, &artifact); err != nil {
			errParseABI = fmt.Errorf("failed to unmarshal artifact JSON: %w", err)
			return
		}
		parsedABI, errParseABI = abi.JSON(strings.NewReader(string(artifact.ABI)))
	})

	return parsedABI, errParseABI
}

var (
	// ErrNoData is returned when a view call comes back empty.
	ErrNoData = errors.New("contract returned no data")
	// ErrEventNotFound is returned when no commitment event matches a query.
	ErrEventNotFound = errors.New("commitment event not found")
	// ErrCallReverted is returned when a view call reverts, as it does for
	// accessors an older escrow does not implement.
	ErrCallReverted = errors.New("contract call reverted")
	// ErrMalformedCommitment is returned for commitments that are not at most
	// 32 bytes of hex.
	ErrMalformedCommitment = errors.New("malformed commitment")
	// ErrZeroCommitment is returned for an all-zero commitment, which the
	// escrow uses for "not provided".
	ErrZeroCommitment = errors.New("commitment is zero")
)

// Phase mirrors the escrow's lifecycle enum.
type Phase uint8

const (
	PhaseListed Phase = iota
	PhasePurchased
	PhaseOrderConfirmed
	PhaseBound
	PhaseDelivered
	PhaseExpired
)

func (p Phase) String() string {
	switch p {
	case PhaseListed:
		return "Listed"
	case PhasePurchased:
		return "Purchased"
	case PhaseOrderConfirmed:
		return "OrderConfirmed"
	case PhaseBound:
		return "Bound"
	case PhaseDelivered:
		return "Delivered"
	case PhaseExpired:
		return "Expired"
	default:
		return fmt.Sprintf("Phase(%d)", uint8(p))
	}
}

// EventKind selects which commitment event to search.
type EventKind int

const (
	PurchaseEvent EventKind = iota
	DeliveryEvent
)

func (k EventKind) eventName() string {
	if k == DeliveryEvent {
		return "DeliveryConfirmedWithCommitment"
	}
	return "PurchaseConfirmedWithCommitment"
}

func (k EventKind) String() string {
	if k == DeliveryEvent {
		return "delivery"
	}
	return "purchase"
}

// Backend is the subset of an Ethereum client used by Client.
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractCaller
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// EscrowState is a snapshot of the escrow accessors.
type EscrowState struct {
	Address               common.Address
	ProductID             *big.Int
	Name                  string
	Owner                 common.Address
	Buyer                 common.Address
	Transporter           common.Address
	Phase                 Phase
	PublicPriceCommitment common.Hash
	CommitmentFrozen      bool
}

// HasCommitment reports whether a non-zero price commitment is stored.
func (s *EscrowState) HasCommitment() bool {
	return s.PublicPriceCommitment != (common.Hash{})
}

// EventQuery selects a commitment event. ProductID is optional.
type EventQuery struct {
	Kind       EventKind
	ProductID  *big.Int
	Commitment string
	VCCID      string
}

// EventMatch is what a verifier may learn from a matched event. The
// transaction hash is deliberately not part of it.
type EventMatch struct {
	BlockNumber uint64
	// VCCIDMatched is false when a purchase event was accepted on the
	// commitment alone.
	VCCIDMatched bool
}

// EscrowReader reads escrow state and correlates commitments with events.
type EscrowReader interface {
	State(ctx context.Context, escrow common.Address) (*EscrowState, error)
	PublicPriceCommitment(ctx context.Context, escrow common.Address) (common.Hash, error)
	FindCommitmentEvent(ctx context.Context, escrow common.Address, q EventQuery) (*EventMatch, error)
}

// Client reads escrows through a Backend.
type Client struct {
	backend Backend
	abi     abi.ABI
	closer  func()
}

var _ EscrowReader = (*Client)(nil)

// NewClient creates a Client over backend.
func NewClient(backend Backend) (*Client, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	contractABI, err := loadABI()
	if err != nil {
		return nil, fmt.Errorf("failed to load escrow ABI: %w", err)
	}
	return &Client{backend: backend, abi: contractABI, closer: func() {}}, nil
}

// Dial connects to rpcURL and returns a Client over it.
func Dial(ctx context.Context, rpcURL string) (*Client, error) {
	rpc, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	c, err := NewClient(rpc)
	if err != nil {
		rpc.Close()
		return nil, err
	}
	c.closer = rpc.Close
	return c, nil
}

// Close releases the RPC connection opened by Dial.
func (c *Client) Close() {
	c.closer()
}

func (c *Client) call(ctx context.Context, escrow common.Address, method string) (interface{}, error) {
	contract := bind.NewBoundContract(escrow, c.abi, c.backend, nil, nil)

	var out []interface{}
	if err := contract.Call(&bind.CallOpts{Context: ctx}, &out, method); err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("contract call %s failed: %w: %w", method, ErrCallReverted, err)
		}
		return nil, fmt.Errorf("contract call %s failed: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", method, ErrNoData)
	}
	return out[0], nil
}

func isRevert(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "execution reverted") || strings.Contains(msg, "no contract code")
}

// ProductID reads id().
func (c *Client) ProductID(ctx context.Context, escrow common.Address) (*big.Int, error) {
	out, err := c.call(ctx, escrow, "id")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out, new(*big.Int)).(**big.Int), nil
}

// Name reads name().
func (c *Client) Name(ctx context.Context, escrow common.Address) (string, error) {
	out, err := c.call(ctx, escrow, "name")
	if err != nil {
		return "", err
	}
	return *abi.ConvertType(out, new(string)).(*string), nil
}

// Owner reads owner().
func (c *Client) Owner(ctx context.Context, escrow common.Address) (common.Address, error) {
	return c.address(ctx, escrow, "owner")
}

// Buyer reads buyer().
func (c *Client) Buyer(ctx context.Context, escrow common.Address) (common.Address, error) {
	return c.address(ctx, escrow, "buyer")
}

// Transporter reads transporter().
func (c *Client) Transporter(ctx context.Context, escrow common.Address) (common.Address, error) {
	return c.address(ctx, escrow, "transporter")
}

func (c *Client) address(ctx context.Context, escrow common.Address, method string) (common.Address, error) {
	out, err := c.call(ctx, escrow, method)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out, new(common.Address)).(*common.Address), nil
}

// Phase reads phase().
func (c *Client) Phase(ctx context.Context, escrow common.Address) (Phase, error) {
	out, err := c.call(ctx, escrow, "phase")
	if err != nil {
		return 0, err
	}
	return Phase(*abi.ConvertType(out, new(uint8)).(*uint8)), nil
}

// PublicPriceCommitment reads publicPriceCommitment(). A zero hash means no
// commitment was stored.
func (c *Client) PublicPriceCommitment(ctx context.Context, escrow common.Address) (common.Hash, error) {
	out, err := c.call(ctx, escrow, "publicPriceCommitment")
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(*abi.ConvertType(out, new([32]byte)).(*[32]byte)), nil
}

// CommitmentFrozen reads commitmentFrozen().
func (c *Client) CommitmentFrozen(ctx context.Context, escrow common.Address) (bool, error) {
	out, err := c.call(ctx, escrow, "commitmentFrozen")
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(out, new(bool)).(*bool), nil
}

// State reads every accessor. Phase and owner are required; the other
// accessors are missing on older escrows and fall back to zero values.
func (c *Client) State(ctx context.Context, escrow common.Address) (*EscrowState, error) {
	phase, err := c.Phase(ctx, escrow)
	if err != nil {
		return nil, err
	}
	owner, err := c.Owner(ctx, escrow)
	if err != nil {
		return nil, err
	}

	state := &EscrowState{Address: escrow, Phase: phase, Owner: owner}
	optional := func(name string, err error) {
		if err != nil {
			log.Debug("Escrow accessor unavailable", "escrow", escrow, "method", name, "err", err)
		}
	}

	var oerr error
	state.ProductID, oerr = c.ProductID(ctx, escrow)
	optional("id", oerr)
	state.Name, oerr = c.Name(ctx, escrow)
	optional("name", oerr)
	state.Buyer, oerr = c.Buyer(ctx, escrow)
	optional("buyer", oerr)
	state.Transporter, oerr = c.Transporter(ctx, escrow)
	optional("transporter", oerr)
	state.PublicPriceCommitment, oerr = c.PublicPriceCommitment(ctx, escrow)
	optional("publicPriceCommitment", oerr)
	state.CommitmentFrozen, oerr = c.CommitmentFrozen(ctx, escrow)
	optional("commitmentFrozen", oerr)

	return state, nil
}

// FindCommitmentEvent searches the escrow's logs for a commitment event.
//
// Logs are filtered by commitment (and product id when given) and then by
// vcCID. A purchase event whose vcCID differs is still accepted, with
// VCCIDMatched false; a delivery event must match both.
func (c *Client) FindCommitmentEvent(ctx context.Context, escrow common.Address, q EventQuery) (*EventMatch, error) {
	commitment, err := FormatBytes32(q.Commitment)
	if err != nil {
		return nil, err
	}
	if commitment == (common.Hash{}) {
		return nil, ErrZeroCommitment
	}

	event, ok := c.abi.Events[q.Kind.eventName()]
	if !ok {
		return nil, fmt.Errorf("event %s not in ABI", q.Kind.eventName())
	}

	var productRule []interface{}
	if q.ProductID != nil {
		productRule = []interface{}{q.ProductID}
	}
	topics, err := abi.MakeTopics([]interface{}{event.ID}, productRule, []interface{}{commitment})
	if err != nil {
		return nil, fmt.Errorf("failed to build topics: %w", err)
	}

	logs, err := c.backend.FilterLogs(ctx, ethereum.FilterQuery{
		Addresses: []common.Address{escrow},
		Topics:    topics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to filter %s logs: %w", event.Name, err)
	}

	var fallback *types.Log
	for i := range logs {
		l := &logs[i]
		if l.Removed || len(l.Topics) < 3 || l.Topics[2] != commitment {
			continue
		}
		vcCID, err := c.unpackVCCID(event.Name, l.Data)
		if err != nil {
			log.Debug("Skipping undecodable log", "event", event.Name, "block", l.BlockNumber, "err", err)
			continue
		}
		if vcCID == q.VCCID {
			return &EventMatch{BlockNumber: l.BlockNumber, VCCIDMatched: true}, nil
		}
		if fallback == nil {
			fallback = l
		}
	}

	if fallback != nil && q.Kind == PurchaseEvent {
		log.Warn("Commitment matches but vcCID differs", "event", event.Name, "block", fallback.BlockNumber, "vcCID", q.VCCID)
		return &EventMatch{BlockNumber: fallback.BlockNumber}, nil
	}
	return nil, fmt.Errorf("%w: %s for commitment %s", ErrEventNotFound, event.Name, util.ShortHex(commitment.Hex()))
}

func (c *Client) unpackVCCID(eventName string, data []byte) (string, error) {
	var out struct {
		VcCID string
	}
	if err := c.abi.UnpackIntoInterface(&out, eventName, data); err != nil {
		return "", err
	}
	return out.VcCID, nil
}

// FormatBytes32 reads a hex commitment as bytes32. Short values are
// left-padded with zeros; values longer than 32 bytes are rejected.
func FormatBytes32(s string) (common.Hash, error) {
	h := util.NormalizeHex(s)
	if h == "" {
		return common.Hash{}, fmt.Errorf("%w: empty commitment", ErrZeroCommitment)
	}
	if len(h) > 2*common.HashLength {
		return common.Hash{}, fmt.Errorf("%w: %s is longer than 32 bytes", ErrMalformedCommitment, util.ShortHex(h))
	}
	raw, err := util.HexToBytes32(strings.Repeat("0", 2*common.HashLength-len(h)) + h)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrMalformedCommitment, err)
	}
	return common.Hash(raw), nil
}
