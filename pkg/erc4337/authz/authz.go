// Package authz holds the acceptance rules a guardian-governed wallet applies
// to a user operation. The wallet contract is authoritative; these rules let
// the relay pre-check fresh reads and drive the in-memory chain.
package authz

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/samber/lo"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
)

// Revert reasons, verbatim from the wallet.
const (
	ReasonInvalidNonce  = "invalid nonce"
	ReasonWalletLocked  = "wallet is locked"
	ReasonHashExist     = "HASH_EXIST"
	ReasonExpired       = "EXPIRED"
	ReasonInvalidSigner = "INVALID_SIGNERS"
	ReasonNotEnough     = "NOT_ENOUGH_SIGNERS"
)

// Path is how an operation is authorised.
type Path int

const (
	NoncePath Path = iota
	ApprovalPath
)

func (p Path) String() string {
	if p == ApprovalPath {
		return "approval"
	}
	return "nonce"
}

// WalletState is the part of the wallet read before acceptance.
type WalletState struct {
	Nonce  *big.Int
	Locked bool
}

// NextNonce is the only nonce the nonce path accepts.
func (s WalletState) NextNonce() *big.Int {
	if s.Nonce == nil {
		return big.NewInt(1)
	}
	return new(big.Int).Add(s.Nonce, big.NewInt(1))
}

// CheckNoncePath requires an unlocked wallet and a strict single step
// increment of the nonce.
func CheckNoncePath(state WalletState, opNonce *big.Int) error {
	if state.Locked {
		return aaerr.New(aaerr.WalletLocked, ReasonWalletLocked)
	}
	if opNonce == nil || opNonce.Cmp(state.NextNonce()) != 0 {
		return aaerr.New(aaerr.InvalidSequence, ReasonInvalidNonce, map[string]interface{}{
			"expected": state.NextNonce().String(),
		})
	}
	return nil
}

// CheckApprovalPath ignores the lock state. It only rejects a consumed
// approval hash or a closed validity window.
func CheckApprovalPath(consumed bool, validUntil *big.Int, now time.Time) error {
	if consumed {
		return aaerr.New(aaerr.ReplayedApproval, ReasonHashExist)
	}
	if validUntil != nil && validUntil.Sign() > 0 && validUntil.Cmp(big.NewInt(now.Unix())) < 0 {
		return aaerr.New(aaerr.SimulationRejected, ReasonExpired)
	}
	return nil
}

// Guardianship is the signer set of a wallet.
type Guardianship struct {
	Owner     common.Address
	Guardians []common.Address
}

// Threshold is a strict majority of owner plus guardians.
func (g Guardianship) Threshold() int {
	return (len(g.Guardians)+1)/2 + 1
}

func (g Guardianship) IsMember(addr common.Address) bool {
	return addr == g.Owner || lo.Contains(g.Guardians, addr)
}

// CheckSigners requires every signer to be a member and enough of them.
func (g Guardianship) CheckSigners(signers []common.Address) error {
	for _, s := range signers {
		if !g.IsMember(s) {
			return aaerr.New(aaerr.SimulationRejected, ReasonInvalidSigner, map[string]interface{}{"signer": s.Hex()})
		}
	}
	if len(lo.Uniq(signers)) < g.Threshold() {
		return aaerr.New(aaerr.SimulationRejected, ReasonNotEnough, map[string]interface{}{
			"required": g.Threshold(),
			"got":      len(signers),
		})
	}
	return nil
}
