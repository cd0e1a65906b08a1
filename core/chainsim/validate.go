package chainsim

import (
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/approval"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// ApprovalSignerGas is charged per guardian signature on the approval path.
const ApprovalSignerGas = 8_000

// validation is what a passing validation leaves behind for execution.
type validation struct {
	gas       uint64
	prefund   *big.Int
	payer     common.Address
	sigFailed bool
	sponsor   *userop.SponsorData
}

// failedOp is an entry point FailedOp(0, reason) revert.
type failedOp struct {
	reason string
}

func (f *failedOp) Error() string {
	return f.reason
}

func reverted(err error) *failedOp {
	var e *aaerr.Error
	if errors.As(err, &e) {
		return &failedOp{reason: "AA23 reverted: " + e.Reason}
	}
	return &failedOp{reason: "AA23 reverted: " + err.Error()}
}

// requiredPrefund mirrors the v0.6 entry point: verification gas is
// reserved three times when a paymaster pays.
func requiredPrefund(op *userop.UserOperation) *big.Int {
	mul := int64(1)
	if op.HasPaymaster() {
		mul = paymasterVerificationMultiplier
	}
	gas := new(big.Int).Mul(op.VerificationGasLimit, big.NewInt(mul))
	gas.Add(gas, op.CallGasLimit)
	gas.Add(gas, op.PreVerificationGas)
	return gas.Mul(gas, op.MaxFeePerGas)
}

// validate runs account then paymaster validation against st, mutating it
// the way a successful validation would: nonce bumped, approval consumed,
// prefund taken from the payer deposit.
func (c *Chain) validate(st *state, op *userop.UserOperation, now time.Time) (*validation, *failedOp) {
	if err := op.Validate(); err != nil {
		return nil, &failedOp{reason: "AA94 " + err.Error()}
	}

	w, ok := st.wallets[op.Sender]
	if !ok {
		return nil, &failedOp{reason: "AA20 account not deployed"}
	}

	v := &validation{
		gas:     WalletValidationGas,
		prefund: requiredPrefund(op),
		payer:   op.Sender,
	}

	if approval.IsApprovedCall(aa.WalletABI(), op.CallData) {
		gas, fail := c.validateApproval(w, op, now)
		if fail != nil {
			return nil, fail
		}
		v.gas += gas
	} else {
		if err := authz.CheckNoncePath(authz.WalletState{Nonce: w.nonce, Locked: w.locked}, op.Nonce); err != nil {
			return nil, reverted(err)
		}
		got, err := signer.RecoverMessage(op.GetUserOpHash(c.entryPoint, c.chainID).Bytes(), op.Signature)
		v.sigFailed = err != nil || got != w.owner
		w.nonce.Add(w.nonce, big.NewInt(1))
	}

	if !op.HasPaymaster() {
		deposit := get(st.deposits, op.Sender)
		if missing := new(big.Int).Sub(v.prefund, deposit); missing.Sign() > 0 {
			balance := get(st.balances, op.Sender)
			if balance.Cmp(missing) < 0 {
				return nil, &failedOp{reason: "AA21 didn't pay prefund"}
			}
			balance.Sub(balance, missing)
			deposit.Add(deposit, missing)
		}
		deposit.Sub(deposit, v.prefund)
	} else {
		sponsor, fail := c.validatePaymaster(st, op, v.prefund, now)
		if fail != nil {
			return nil, fail
		}
		v.sponsor = sponsor
		v.payer = sponsor.Paymaster
		v.gas += PaymasterValidationGas
	}

	if new(big.Int).SetUint64(v.gas).Cmp(op.VerificationGasLimit) > 0 {
		return nil, &failedOp{reason: "AA40 over verificationGasLimit"}
	}
	return v, nil
}

// validateApproval accepts a guardian approval even while the wallet is
// locked, and records its digest so it cannot be used twice.
func (c *Chain) validateApproval(w *walletState, op *userop.UserOperation, now time.Time) (uint64, *failedOp) {
	a, err := approval.Decode(op.Signature)
	if err != nil {
		return 0, reverted(err)
	}
	if a.Wallet != op.Sender {
		return 0, &failedOp{reason: "AA23 reverted: INVALID_WALLET"}
	}

	action, err := approval.ActionFromCallData(aa.WalletABI(), op.CallData)
	if err != nil {
		return 0, reverted(err)
	}
	digest, err := approval.Digest(c.Domain(), action, a.Wallet, a.ValidUntil)
	if err != nil {
		return 0, reverted(err)
	}

	if err := authz.CheckApprovalPath(w.consumed[digest], a.ValidUntil, now); err != nil {
		return 0, reverted(err)
	}
	if err := a.VerifySignatures(digest); err != nil {
		return 0, &failedOp{reason: "AA23 reverted: " + authz.ReasonInvalidSigner}
	}
	g := authz.Guardianship{Owner: w.owner, Guardians: w.guardians}
	if err := g.CheckSigners(a.Signers); err != nil {
		return 0, reverted(err)
	}

	w.consumed[digest] = true
	return uint64(len(a.Signers)) * ApprovalSignerGas, nil
}

func (c *Chain) validatePaymaster(st *state, op *userop.UserOperation, prefund *big.Int, now time.Time) (*userop.SponsorData, *failedOp) {
	pm, ok := st.paymasters[op.PaymasterAddress()]
	if !ok {
		return nil, &failedOp{reason: "AA30 paymaster not deployed"}
	}
	data, err := userop.DecodePaymasterAndData(op.PaymasterAndData)
	if err != nil {
		return nil, &failedOp{reason: "AA33 reverted: " + err.Error()}
	}

	deposit := get(st.deposits, data.Paymaster)
	if deposit.Cmp(prefund) < 0 {
		return nil, &failedOp{reason: "AA31 paymaster deposit too low"}
	}

	hash := op.PaymasterHash(c.chainID, data.Paymaster, data.Token, data.ValueOfEth)
	if got, err := signer.RecoverMessage(hash.Bytes(), data.Signature); err != nil || got != pm.signer {
		return nil, &failedOp{reason: "AA34 signature error"}
	}
	if data.ValidUntil.Sign() > 0 && data.ValidUntil.Cmp(big.NewInt(now.Unix())) < 0 {
		return nil, &failedOp{reason: "AA32 paymaster expired or not due"}
	}

	if data.ValueOfEth.Sign() > 0 {
		balances, ok := st.tokens[data.Token]
		if !ok {
			return nil, &failedOp{reason: "AA33 reverted: unsupported token"}
		}
		if get(balances, op.Sender).Cmp(mulDiv(prefund, data.ValueOfEth, ether)) < 0 {
			return nil, &failedOp{reason: "AA33 reverted: insufficient token balance"}
		}
	}

	deposit.Sub(deposit, prefund)
	return data, nil
}
