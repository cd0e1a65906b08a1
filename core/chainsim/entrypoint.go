package chainsim

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// EstimateGas dry-runs msg on a copy of the state. A call from the entry
// point into a wallet executes the wallet calldata.
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.To == nil {
		return 0, fmt.Errorf("contract creation is not supported")
	}
	st := c.st.clone()
	if _, ok := st.wallets[*msg.To]; !ok || msg.From != c.entryPoint {
		gas, err := c.call(st, msg.From, *msg.To, msg.Value, msg.Data)
		return gas - CallGas + 21_000, err
	}
	return c.execute(st, *msg.To, msg.Data)
}

// simulateValidation reports through the same revert payloads the real
// entry point uses, so callers exercise the decoding path.
func (c *Chain) simulateValidation(op *userop.UserOperation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	v, fail := c.validate(c.st.clone(), op, now)
	if fail != nil {
		return aaerr.FromRevert(aaerr.EncodeFailedOp(0, fail.reason), now)
	}

	info := aaerr.ReturnInfo{
		PreOpGas:  new(big.Int).Add(op.PreVerificationGas, new(big.Int).SetUint64(v.gas)),
		Prefund:   v.prefund,
		SigFailed: v.sigFailed,
	}
	if v.sponsor != nil {
		info.ValidUntil = v.sponsor.ValidUntil
	}
	return aaerr.FromRevert(aaerr.EncodeValidationResult(&aaerr.ValidationResult{ReturnInfo: info}), now)
}

// handleOps includes a single operation in a new block. Validation effects
// stick even when execution reverts; execution effects are all or nothing.
func (c *Chain) handleOps(op *userop.UserOperation, beneficiary common.Address) (*userop.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	hash := op.GetUserOpHash(c.entryPoint, c.chainID)

	validated := c.st.clone()
	v, fail := c.validate(validated, op, now)
	if fail == nil && v.sigFailed {
		fail = &failedOp{reason: "AA24 signature error"}
	}
	if fail != nil {
		return nil, aaerr.FromRevert(aaerr.EncodeFailedOp(0, fail.reason), now)
	}

	final := validated.clone()
	execGas, err := c.execute(final, op.Sender, op.CallData)
	callLimit := op.CallGasLimit.Uint64()
	if err == nil && execGas > callLimit {
		err = &revert{reason: "out of gas"}
	}
	if execGas > callLimit {
		execGas = callLimit
	}

	success := err == nil
	revertReason := ""
	if !success {
		final = validated
		if r, ok := err.(*revert); ok {
			revertReason = r.reason
		} else {
			revertReason = err.Error()
		}
	}

	gasUsed := new(big.Int).SetUint64(v.gas + execGas)
	gasUsed.Add(gasUsed, op.PreVerificationGas)
	price := c.effectivePrice(op)
	cost := new(big.Int).Mul(gasUsed, price)

	if v.sponsor != nil && v.sponsor.ValueOfEth.Sign() > 0 {
		charge := mulDiv(cost, v.sponsor.ValueOfEth, ether)
		balances := final.tokens[v.sponsor.Token]
		if success && get(balances, op.Sender).Cmp(charge) < 0 {
			// postOp reverted: undo execution and charge again
			success, revertReason = false, "AA50 postOp reverted"
			final = validated
			balances = final.tokens[v.sponsor.Token]
		}
		if avail := get(balances, op.Sender); avail.Cmp(charge) < 0 {
			charge = new(big.Int).Set(avail)
		}
		_ = transferToken(balances, op.Sender, v.sponsor.Paymaster, charge)
	}

	deposit := get(final.deposits, v.payer)
	deposit.Add(deposit, new(big.Int).Sub(v.prefund, cost))
	paid := get(final.balances, beneficiary)
	paid.Add(paid, cost)

	c.st = final
	c.block++

	var blockBytes [8]byte
	binary.BigEndian.PutUint64(blockBytes[:], c.block)
	receipt := &userop.Receipt{
		UserOpHash:        hash,
		TxHash:            crypto.Keccak256Hash(hash.Bytes(), blockBytes[:]),
		Sender:            op.Sender,
		Paymaster:         op.PaymasterAddress(),
		Nonce:             new(big.Int).Set(op.Nonce),
		BlockNumber:       c.block,
		GasUsed:           gasUsed,
		EffectiveGasPrice: price,
		ActualGasCost:     cost,
		Success:           success,
		RevertReason:      revertReason,
	}
	c.receipts[hash] = receipt

	c.logger.Debug("handleOps",
		"userOpHash", hash.Hex(),
		"block", c.block,
		"success", success,
		"gasUsed", gasUsed.String(),
		"actualGasCost", cost.String())
	return receipt, nil
}

// EntryPoint is the entry point as seen by one funder account, which pays
// for deposit top-ups.
type EntryPoint struct {
	chain  *Chain
	funder common.Address
}

func (c *Chain) EntryPoint(funder common.Address) *EntryPoint {
	return &EntryPoint{chain: c, funder: funder}
}

func (e *EntryPoint) Address() common.Address {
	return e.chain.entryPoint
}

func (e *EntryPoint) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	e.chain.mu.Lock()
	defer e.chain.mu.Unlock()
	return new(big.Int).Set(get(e.chain.st.deposits, account)), nil
}

// DepositTo moves amount from the funder balance into account's deposit.
func (e *EntryPoint) DepositTo(ctx context.Context, account common.Address, amount *big.Int) error {
	e.chain.mu.Lock()
	defer e.chain.mu.Unlock()

	bal := get(e.chain.st.balances, e.funder)
	if bal.Cmp(amount) < 0 {
		return aaerr.New(aaerr.InsufficientPrefund, "funder balance too low", map[string]interface{}{
			"funder":  e.funder.Hex(),
			"balance": bal.String(),
			"amount":  amount.String(),
		})
	}
	bal.Sub(bal, amount)
	deposit := get(e.chain.st.deposits, account)
	deposit.Add(deposit, amount)
	return nil
}

func (e *EntryPoint) SimulateValidation(ctx context.Context, op *userop.UserOperation) error {
	return e.chain.simulateValidation(op)
}

// Submitter includes operations directly, paying fees to beneficiary.
type Submitter struct {
	chain       *Chain
	beneficiary common.Address
}

func (c *Chain) Submitter(beneficiary common.Address) *Submitter {
	if beneficiary == (common.Address{}) {
		beneficiary = c.beneficiary
	}
	return &Submitter{chain: c, beneficiary: beneficiary}
}

func (s *Submitter) Submit(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	receipt, err := s.chain.handleOps(op, s.beneficiary)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.UserOpHash, nil
}

func (s *Submitter) Wait(ctx context.Context, userOpHash common.Hash) (*userop.Receipt, error) {
	s.chain.mu.Lock()
	defer s.chain.mu.Unlock()

	receipt, ok := s.chain.receipts[userOpHash]
	if !ok {
		return nil, aaerr.New(aaerr.NetworkFailure, "user operation not included", map[string]interface{}{
			"userOpHash": userOpHash.Hex(),
		})
	}
	return receipt, nil
}
