package chain

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	escrowAddr = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	ownerAddr  = common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	buyerAddr  = common.HexToAddress("0xcccccccccccccccccccccccccccccccccccccccc")
)

// fakeBackend answers view calls from a method->value table and filters an
// in-memory log list the way a node would.
type fakeBackend struct {
	abi     abi.ABI
	values  map[string]interface{}
	reverts map[string]bool
	callErr error
	logs    []types.Log
	queries []ethereum.FilterQuery
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	a, err := loadABI()
	require.NoError(t, err)
	return &fakeBackend{abi: a, values: map[string]interface{}{}, reverts: map[string]bool{}}
}

func (f *fakeBackend) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return []byte{0x60, 0x80}, nil
}

func (f *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	m, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if f.reverts[m.Name] {
		return nil, errors.New("execution reverted")
	}
	v, ok := f.values[m.Name]
	if !ok {
		return nil, errors.New("execution reverted")
	}
	return m.Outputs.Pack(v)
}

func (f *fakeBackend) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.queries = append(f.queries, q)
	var out []types.Log
	for _, l := range f.logs {
		if matchTopics(l.Topics, q.Topics) {
			out = append(out, l)
		}
	}
	return out, nil
}

func matchTopics(have []common.Hash, want [][]common.Hash) bool {
	for i, set := range want {
		if len(set) == 0 {
			continue
		}
		if i >= len(have) {
			return false
		}
		found := false
		for _, h := range set {
			if h == have[i] {
				found = true
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeBackend) addEvent(t *testing.T, kind EventKind, productID int64, commitment common.Hash, vcCID string, block uint64) {
	t.Helper()
	ev := f.abi.Events[kind.eventName()]
	data, err := ev.Inputs.NonIndexed().Pack(vcCID)
	require.NoError(t, err)
	f.logs = append(f.logs, types.Log{
		Address:     escrowAddr,
		Topics:      []common.Hash{ev.ID, common.BigToHash(big.NewInt(productID)), commitment, common.BytesToHash(buyerAddr.Bytes())},
		Data:        data,
		BlockNumber: block,
		TxHash:      common.Hash{0xee},
	})
}

func newTestClient(t *testing.T, f *fakeBackend) *Client {
	t.Helper()
	c, err := NewClient(f)
	require.NoError(t, err)
	return c
}

func TestLoadABI(t *testing.T) {
	a, err := loadABI()
	require.NoError(t, err)
	for _, m := range []string{"id", "name", "owner", "buyer", "transporter", "phase", "publicPriceCommitment", "commitmentFrozen"} {
		assert.Contains(t, a.Methods, m)
	}
	assert.Contains(t, a.Events, "PurchaseConfirmedWithCommitment")
	assert.Contains(t, a.Events, "DeliveryConfirmedWithCommitment")
}

func TestNewClientRequiresBackend(t *testing.T) {
	_, err := NewClient(nil)
	assert.Error(t, err)
}

func TestState(t *testing.T) {
	commitment := common.HexToHash("0x1234")

	tests := []struct {
		name     string
		setup    func(f *fakeBackend)
		wantErr  bool
		validate func(t *testing.T, s *EscrowState)
	}{
		{
			name: "all accessors",
			setup: func(f *fakeBackend) {
				f.values["phase"] = uint8(PhaseBound)
				f.values["owner"] = ownerAddr
				f.values["buyer"] = buyerAddr
				f.values["transporter"] = common.Address{}
				f.values["id"] = big.NewInt(7)
				f.values["name"] = "Battery"
				f.values["publicPriceCommitment"] = [32]byte(commitment)
				f.values["commitmentFrozen"] = true
			},
			validate: func(t *testing.T, s *EscrowState) {
				assert.Equal(t, PhaseBound, s.Phase)
				assert.Equal(t, ownerAddr, s.Owner)
				assert.Equal(t, buyerAddr, s.Buyer)
				assert.Equal(t, int64(7), s.ProductID.Int64())
				assert.Equal(t, "Battery", s.Name)
				assert.Equal(t, commitment, s.PublicPriceCommitment)
				assert.True(t, s.HasCommitment())
				assert.True(t, s.CommitmentFrozen)
			},
		},
		{
			name: "legacy escrow without commitment accessors",
			setup: func(f *fakeBackend) {
				f.values["phase"] = uint8(PhaseListed)
				f.values["owner"] = ownerAddr
			},
			validate: func(t *testing.T, s *EscrowState) {
				assert.Equal(t, PhaseListed, s.Phase)
				assert.False(t, s.HasCommitment())
				assert.False(t, s.CommitmentFrozen)
				assert.Nil(t, s.ProductID)
			},
		},
		{
			name: "phase reverts",
			setup: func(f *fakeBackend) {
				f.reverts["phase"] = true
				f.values["owner"] = ownerAddr
			},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBackend(t)
			tt.setup(f)
			s, err := newTestClient(t, f).State(context.Background(), escrowAddr)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.validate(t, s)
		})
	}
}

func TestFindCommitmentEvent(t *testing.T) {
	commitment := common.HexToHash("0x0badc0ffee0badc0ffee0badc0ffee0badc0ffee0badc0ffee0badc0ffee0bad")
	other := common.HexToHash("0x01")

	tests := []struct {
		name      string
		events    func(t *testing.T, f *fakeBackend)
		query     EventQuery
		wantErr   error
		wantBlock uint64
		wantMatch bool
	}{
		{
			name: "purchase exact match",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, PurchaseEvent, 7, commitment, "cid-old", 10)
				f.addEvent(t, PurchaseEvent, 7, commitment, "cid-1", 12)
			},
			query:     EventQuery{Kind: PurchaseEvent, Commitment: commitment.Hex(), VCCID: "cid-1"},
			wantBlock: 12,
			wantMatch: true,
		},
		{
			name: "purchase commitment-only match",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, PurchaseEvent, 7, commitment, "cid-old", 10)
			},
			query:     EventQuery{Kind: PurchaseEvent, Commitment: commitment.Hex()[2:], VCCID: "cid-1"},
			wantBlock: 10,
		},
		{
			name: "delivery requires vcCID",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, DeliveryEvent, 7, commitment, "cid-old", 10)
			},
			query:   EventQuery{Kind: DeliveryEvent, Commitment: commitment.Hex(), VCCID: "cid-2"},
			wantErr: ErrEventNotFound,
		},
		{
			name: "delivery match",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, PurchaseEvent, 7, commitment, "cid-2", 9)
				f.addEvent(t, DeliveryEvent, 7, commitment, "cid-2", 20)
			},
			query:     EventQuery{Kind: DeliveryEvent, Commitment: commitment.Hex(), VCCID: "cid-2"},
			wantBlock: 20,
			wantMatch: true,
		},
		{
			name: "product id filter",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, PurchaseEvent, 8, commitment, "cid-1", 10)
			},
			query:   EventQuery{Kind: PurchaseEvent, ProductID: big.NewInt(7), Commitment: commitment.Hex(), VCCID: "cid-1"},
			wantErr: ErrEventNotFound,
		},
		{
			name: "different commitment",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, PurchaseEvent, 7, other, "cid-1", 10)
			},
			query:   EventQuery{Kind: PurchaseEvent, Commitment: commitment.Hex(), VCCID: "cid-1"},
			wantErr: ErrEventNotFound,
		},
		{
			name: "overlong commitment is not truncated",
			events: func(t *testing.T, f *fakeBackend) {
				f.addEvent(t, PurchaseEvent, 7, commitment, "cid-1", 10)
			},
			query:   EventQuery{Kind: PurchaseEvent, Commitment: commitment.Hex() + "ff", VCCID: "cid-1"},
			wantErr: ErrMalformedCommitment,
		},
		{
			name:    "zero commitment",
			events:  func(t *testing.T, f *fakeBackend) {},
			query:   EventQuery{Kind: PurchaseEvent, Commitment: common.Hash{}.Hex()},
			wantErr: ErrZeroCommitment,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBackend(t)
			tt.events(t, f)
			m, err := newTestClient(t, f).FindCommitmentEvent(context.Background(), escrowAddr, tt.query)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				if errors.Is(tt.wantErr, ErrMalformedCommitment) {
					assert.Empty(t, f.queries)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBlock, m.BlockNumber)
			assert.Equal(t, tt.wantMatch, m.VCCIDMatched)

			require.Len(t, f.queries, 1)
			assert.Equal(t, []common.Address{escrowAddr}, f.queries[0].Addresses)
		})
	}
}

func TestFormatBytes32(t *testing.T) {
	tests := []struct {
		in      string
		want    common.Hash
		wantErr bool
	}{
		{in: "0x01", want: common.HexToHash("0x01")},
		{in: "ABCD", want: common.HexToHash("0xabcd")},
		{in: " 0X" + common.HexToHash("0x05").Hex()[2:], want: common.HexToHash("0x05")},
		{in: "0x" + common.HexToHash("0x05").Hex()[2:] + "ffff", wantErr: true},
		{in: "", wantErr: true},
		{in: "0xzz", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := FormatBytes32(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCallErrors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fakeBackend)
		reverted bool
	}{
		{
			name:     "missing accessor reverts",
			setup:    func(f *fakeBackend) {},
			reverted: true,
		},
		{
			name: "transport failure",
			setup: func(f *fakeBackend) {
				f.callErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeBackend(t)
			tt.setup(f)
			_, err := newTestClient(t, f).PublicPriceCommitment(context.Background(), escrowAddr)
			require.Error(t, err)
			assert.Equal(t, tt.reverted, errors.Is(err, ErrCallReverted))
		})
	}
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Delivered", PhaseDelivered.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
	assert.Equal(t, "purchase", PurchaseEvent.String())
}
