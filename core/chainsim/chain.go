// Package chainsim is an in-memory chain with a v0.6 entry point, the
// guardian-governed wallet, a token paymaster and plain ERC-20 tokens. Gas
// is deterministic so tests and --simulate runs can assert exact amounts.
package chainsim

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/approval"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// Deterministic gas schedule.
const (
	WalletValidationGas    = 60_000
	PaymasterValidationGas = 40_000
	ExecBaseGas            = 25_000
	CallGas                = 30_000
	SelfCallGas            = 20_000

	// entry point v0.6 reserves verification gas three times for a paymaster
	paymasterVerificationMultiplier = 3
)

var (
	DefaultChainID    = big.NewInt(31337)
	DefaultEntryPoint = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	DefaultWalletImpl = common.HexToAddress("0x000000000000000000000000000000000000c0de")

	DefaultBaseFee = big.NewInt(1_000_000_000)
	DefaultTip     = big.NewInt(1_000_000_000)

	ether = big.NewInt(1e18)
)

type walletState struct {
	owner      common.Address
	guardians  []common.Address
	nonce      *big.Int
	locked     bool
	dailyQuota *big.Int
	consumed   map[common.Hash]bool
}

type paymasterState struct {
	signer common.Address
}

type state struct {
	balances   map[common.Address]*big.Int
	deposits   map[common.Address]*big.Int
	wallets    map[common.Address]*walletState
	paymasters map[common.Address]*paymasterState
	tokens     map[common.Address]map[common.Address]*big.Int
}

func newState() *state {
	return &state{
		balances:   make(map[common.Address]*big.Int),
		deposits:   make(map[common.Address]*big.Int),
		wallets:    make(map[common.Address]*walletState),
		paymasters: make(map[common.Address]*paymasterState),
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
	}
}

func cloneBalances(in map[common.Address]*big.Int) map[common.Address]*big.Int {
	out := make(map[common.Address]*big.Int, len(in))
	for k, v := range in {
		out[k] = new(big.Int).Set(v)
	}
	return out
}

func (s *state) clone() *state {
	out := newState()
	out.balances = cloneBalances(s.balances)
	out.deposits = cloneBalances(s.deposits)
	for addr, w := range s.wallets {
		consumed := make(map[common.Hash]bool, len(w.consumed))
		for h := range w.consumed {
			consumed[h] = true
		}
		out.wallets[addr] = &walletState{
			owner:      w.owner,
			guardians:  append([]common.Address(nil), w.guardians...),
			nonce:      new(big.Int).Set(w.nonce),
			locked:     w.locked,
			dailyQuota: new(big.Int).Set(w.dailyQuota),
			consumed:   consumed,
		}
	}
	for addr, p := range s.paymasters {
		out.paymasters[addr] = &paymasterState{signer: p.signer}
	}
	for addr, balances := range s.tokens {
		out.tokens[addr] = cloneBalances(balances)
	}
	return out
}

func get(m map[common.Address]*big.Int, addr common.Address) *big.Int {
	if v, ok := m[addr]; ok {
		return v
	}
	v := new(big.Int)
	m[addr] = v
	return v
}

// Chain is the shared state behind every handle. It is safe for concurrent
// use; each call sees and commits a consistent state.
type Chain struct {
	mu sync.Mutex

	chainID     *big.Int
	entryPoint  common.Address
	walletImpl  common.Address
	beneficiary common.Address

	baseFee *big.Int
	tip     *big.Int
	now     func() time.Time

	st       *state
	block    uint64
	receipts map[common.Hash]*userop.Receipt

	logger logger.Logger
}

type Option func(*Chain)

func WithChainID(id *big.Int) Option {
	return func(c *Chain) { c.chainID = new(big.Int).Set(id) }
}

func WithEntryPoint(addr common.Address) Option {
	return func(c *Chain) { c.entryPoint = addr }
}

func WithClock(now func() time.Time) Option {
	return func(c *Chain) { c.now = now }
}

func WithFees(baseFee, tip *big.Int) Option {
	return func(c *Chain) {
		c.baseFee = new(big.Int).Set(baseFee)
		c.tip = new(big.Int).Set(tip)
	}
}

func WithLogger(lgr logger.Logger) Option {
	return func(c *Chain) { c.logger = logger.EnsureLogger(lgr) }
}

func New(opts ...Option) *Chain {
	c := &Chain{
		chainID:     new(big.Int).Set(DefaultChainID),
		entryPoint:  DefaultEntryPoint,
		walletImpl:  DefaultWalletImpl,
		beneficiary: common.HexToAddress("0x000000000000000000000000000000000000beef"),
		baseFee:     new(big.Int).Set(DefaultBaseFee),
		tip:         new(big.Int).Set(DefaultTip),
		now:         time.Now,
		st:          newState(),
		receipts:    make(map[common.Hash]*userop.Receipt),
		logger:      logger.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Chain) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Chain) EntryPointAddress() common.Address {
	return c.entryPoint
}

func (c *Chain) WalletImpl() common.Address {
	return c.walletImpl
}

// Domain is the EIP-712 domain guardians sign approvals in.
func (c *Chain) Domain() approval.Domain {
	return approval.NewDomain(c.ChainID(), c.walletImpl)
}

// Fund credits native balance out of thin air.
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal := get(c.st.balances, addr)
	bal.Add(bal, amount)
}

// DeployWallet creates a wallet at a fresh address derived from the owner.
func (c *Chain) DeployWallet(owner common.Address, guardians ...common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(owner, uint64(len(c.st.wallets)))
	c.st.wallets[addr] = &walletState{
		owner:      owner,
		guardians:  append([]common.Address(nil), guardians...),
		nonce:      new(big.Int),
		dailyQuota: new(big.Int),
		consumed:   make(map[common.Hash]bool),
	}
	return addr
}

// DeployToken creates an ERC-20 and mints supply to holder.
func (c *Chain) DeployToken(holder common.Address, supply *big.Int) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(common.HexToAddress("0x70"), uint64(len(c.st.tokens)))
	c.st.tokens[addr] = map[common.Address]*big.Int{holder: new(big.Int).Set(supply)}
	return addr
}

// DeployPaymaster creates a token paymaster trusting signer.
func (c *Chain) DeployPaymaster(signer common.Address) common.Address {
	c.mu.Lock()
	defer c.mu.Unlock()

	addr := crypto.CreateAddress(signer, uint64(len(c.st.paymasters)))
	c.st.paymasters[addr] = &paymasterState{signer: signer}
	return addr
}

func (c *Chain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(get(c.st.balances, account)), nil
}

func (c *Chain) TokenBalance(token, account common.Address) *big.Int {
	c.mu.Lock()
	defer c.mu.Unlock()
	balances, ok := c.st.tokens[token]
	if !ok {
		return new(big.Int)
	}
	return new(big.Int).Set(get(balances, account))
}

// SuggestFee prices like pkg/eip1559 without the floors.
func (c *Chain) SuggestFee(ctx context.Context) (*big.Int, *big.Int, error) {
	maxFee := new(big.Int).Mul(c.baseFee, big.NewInt(2))
	maxFee.Add(maxFee, c.tip)
	return maxFee, new(big.Int).Set(c.tip), nil
}

// effectivePrice is min(maxFee, baseFee + tip).
func (c *Chain) effectivePrice(op *userop.UserOperation) *big.Int {
	tip := c.tip
	if op.MaxPriorityFeePerGas != nil && op.MaxPriorityFeePerGas.Cmp(tip) < 0 {
		tip = op.MaxPriorityFeePerGas
	}
	price := new(big.Int).Add(c.baseFee, tip)
	if op.MaxFeePerGas != nil && op.MaxFeePerGas.Cmp(price) < 0 {
		price = new(big.Int).Set(op.MaxFeePerGas)
	}
	return price
}

func (c *Chain) wallet(st *state, addr common.Address) (*walletState, error) {
	w, ok := st.wallets[addr]
	if !ok {
		return nil, fmt.Errorf("no wallet at %s", addr.Hex())
	}
	return w, nil
}

func mulDiv(a, b, d *big.Int) *big.Int {
	out := new(big.Int).Mul(a, b)
	return out.Div(out, d)
}
