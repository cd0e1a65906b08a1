package chainsim

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// Wallet is a handle on one deployed wallet.
type Wallet struct {
	chain   *Chain
	address common.Address
}

func (c *Chain) Wallet(address common.Address) *Wallet {
	return &Wallet{chain: c, address: address}
}

func (w *Wallet) Address() common.Address {
	return w.address
}

func (w *Wallet) read(fn func(*walletState)) error {
	w.chain.mu.Lock()
	defer w.chain.mu.Unlock()

	ws, err := w.chain.wallet(w.chain.st, w.address)
	if err != nil {
		return err
	}
	fn(ws)
	return nil
}

func (w *Wallet) Nonce(ctx context.Context) (*big.Int, error) {
	var nonce *big.Int
	err := w.read(func(ws *walletState) { nonce = new(big.Int).Set(ws.nonce) })
	return nonce, err
}

func (w *Wallet) IsLocked(ctx context.Context) (bool, error) {
	var locked bool
	err := w.read(func(ws *walletState) { locked = ws.locked })
	return locked, err
}

func (w *Wallet) DailyQuota(ctx context.Context) (*big.Int, error) {
	var quota *big.Int
	err := w.read(func(ws *walletState) { quota = new(big.Int).Set(ws.dailyQuota) })
	return quota, err
}

func (w *Wallet) Guardians(ctx context.Context) ([]common.Address, error) {
	var guardians []common.Address
	err := w.read(func(ws *walletState) { guardians = append(guardians, ws.guardians...) })
	return guardians, err
}

func (w *Wallet) GetDeposit(ctx context.Context) (*big.Int, error) {
	w.chain.mu.Lock()
	defer w.chain.mu.Unlock()
	return new(big.Int).Set(get(w.chain.st.deposits, w.address)), nil
}

// Lock is a guardian locking the wallet with a plain transaction.
func (w *Wallet) Lock(ctx context.Context) error {
	return w.read(func(ws *walletState) { ws.locked = true })
}

// AddDeposit moves amount from the native balance of from into the wallet
// deposit.
func (w *Wallet) AddDeposit(ctx context.Context, from common.Address, amount *big.Int) error {
	return w.chain.EntryPoint(from).DepositTo(ctx, w.address, amount)
}

// WithdrawDepositTo is an owner transaction; a locked wallet refuses it.
func (w *Wallet) WithdrawDepositTo(ctx context.Context, to common.Address, amount *big.Int) error {
	w.chain.mu.Lock()
	defer w.chain.mu.Unlock()

	st := w.chain.st.clone()
	if _, err := w.chain.selfCall(st, w.address, "withdrawDepositTo", []interface{}{to, amount}); err != nil {
		if r, ok := err.(*revert); ok && r.reason == authz.ReasonWalletLocked {
			return aaerr.New(aaerr.WalletLocked, r.reason)
		}
		return aaerr.Wrap(aaerr.ExecutionReverted, err, "")
	}
	w.chain.st = st
	return nil
}

// Paymaster is a handle on a token paymaster.
type Paymaster struct {
	chain   *Chain
	address common.Address
}

func (c *Chain) Paymaster(address common.Address) *Paymaster {
	return &Paymaster{chain: c, address: address}
}

func (p *Paymaster) Address() common.Address {
	return p.address
}

func (p *Paymaster) GetHash(ctx context.Context, op *userop.UserOperation, token common.Address, valueOfEth *big.Int) (common.Hash, error) {
	p.chain.mu.Lock()
	_, ok := p.chain.st.paymasters[p.address]
	p.chain.mu.Unlock()
	if !ok {
		return common.Hash{}, fmt.Errorf("no paymaster at %s", p.address.Hex())
	}
	return op.PaymasterHash(p.chain.chainID, p.address, token, valueOfEth), nil
}

// Mint credits amount of token to account.
func (c *Chain) Mint(token, account common.Address, amount *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	balances, ok := c.st.tokens[token]
	if !ok {
		return fmt.Errorf("no token at %s", token.Hex())
	}
	bal := get(balances, account)
	bal.Add(bal, amount)
	return nil
}

// SetDeposit overwrites an entry point deposit.
func (c *Chain) SetDeposit(account common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.st.deposits[account] = new(big.Int).Set(amount)
}

// Receipt returns a stored receipt, nil when the hash was never included.
func (c *Chain) Receipt(hash common.Hash) *userop.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receipts[hash]
}

func (c *Chain) BlockNumber() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.block
}
