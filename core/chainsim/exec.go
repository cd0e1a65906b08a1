package chainsim

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
)

// revert is an execution failure carrying the Solidity revert reason.
type revert struct {
	reason string
}

func (r *revert) Error() string {
	return "execution reverted: " + r.reason
}

// execute runs callData on the wallet as the entry point would, returning
// the gas spent so far even on failure. st is left half-applied on error,
// so callers run it on a clone.
func (c *Chain) execute(st *state, wallet common.Address, callData []byte) (uint64, error) {
	gas := uint64(ExecBaseGas)
	if len(callData) == 0 {
		return gas, nil
	}

	walletABI := aa.WalletABI()
	method, err := walletABI.MethodById(callData)
	if err != nil {
		return gas, &revert{reason: "unknown wallet method"}
	}
	args, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return gas, &revert{reason: fmt.Sprintf("cannot decode %s: %v", method.Name, err)}
	}

	switch method.Name {
	case "execute":
		used, err := c.call(st, wallet, args[0].(common.Address), args[1].(*big.Int), args[2].([]byte))
		return gas + used, err

	case "executeBatch":
		dests, values, datas := args[0].([]common.Address), args[1].([]*big.Int), args[2].([][]byte)
		if len(dests) != len(values) || len(dests) != len(datas) {
			return gas, &revert{reason: "wrong array lengths"}
		}
		for i := range dests {
			used, err := c.call(st, wallet, dests[i], values[i], datas[i])
			gas += used
			if err != nil {
				return gas, err
			}
		}
		return gas, nil
	}

	used, err := c.selfCall(st, wallet, method.Name, args)
	return gas + used, err
}

// call is one wallet-originated message call.
func (c *Chain) call(st *state, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	gas := uint64(CallGas)

	if value != nil && value.Sign() > 0 {
		bal := get(st.balances, from)
		if bal.Cmp(value) < 0 {
			return gas, &revert{reason: "insufficient balance for transfer"}
		}
		bal.Sub(bal, value)
		dst := get(st.balances, to)
		dst.Add(dst, value)
	}

	if to == from && len(data) > 0 {
		walletABI := aa.WalletABI()
		method, err := walletABI.MethodById(data)
		if err != nil {
			return gas, &revert{reason: "unknown wallet method"}
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return gas, &revert{reason: fmt.Sprintf("cannot decode %s: %v", method.Name, err)}
		}
		used, err := c.selfCall(st, from, method.Name, args)
		return gas + used, err
	}

	if balances, ok := st.tokens[to]; ok && len(data) > 0 {
		return gas, tokenCall(balances, from, data)
	}
	return gas, nil
}

// selfCall runs a wallet method the wallet called on itself.
func (c *Chain) selfCall(st *state, wallet common.Address, method string, args []interface{}) (uint64, error) {
	w, err := c.wallet(st, wallet)
	if err != nil {
		return 0, &revert{reason: err.Error()}
	}

	switch method {
	case "lock":
		w.locked = true
	case "unlockWA":
		w.locked = false
	case "changeDailyQuota", "changeDailyQuotaWA":
		w.dailyQuota = new(big.Int).Set(args[0].(*big.Int))
	case "addGuardian", "addGuardianWA":
		g := args[0].(common.Address)
		if g == w.owner || g == (common.Address{}) {
			return SelfCallGas, &revert{reason: "INVALID_GUARDIAN"}
		}
		for _, existing := range w.guardians {
			if existing == g {
				return SelfCallGas, &revert{reason: "GUARDIAN_EXISTS"}
			}
		}
		w.guardians = append(w.guardians, g)
	case "withdrawDepositTo":
		if w.locked {
			return SelfCallGas, &revert{reason: authz.ReasonWalletLocked}
		}
		to, amount := args[0].(common.Address), args[1].(*big.Int)
		deposit := get(st.deposits, wallet)
		if deposit.Cmp(amount) < 0 {
			return SelfCallGas, &revert{reason: "withdraw amount too large"}
		}
		deposit.Sub(deposit, amount)
		bal := get(st.balances, to)
		bal.Add(bal, amount)
	default:
		return SelfCallGas, &revert{reason: fmt.Sprintf("%s is not callable by the wallet", method)}
	}
	return SelfCallGas, nil
}

func tokenCall(balances map[common.Address]*big.Int, from common.Address, data []byte) error {
	erc20 := aa.TokenABI()
	method, err := erc20.MethodById(data)
	if err != nil {
		return &revert{reason: "unknown token method"}
	}
	if method.Name != "transfer" {
		return nil
	}

	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return &revert{reason: fmt.Sprintf("cannot decode transfer: %v", err)}
	}
	to, amount := args[0].(common.Address), args[1].(*big.Int)
	return transferToken(balances, from, to, amount)
}

func transferToken(balances map[common.Address]*big.Int, from, to common.Address, amount *big.Int) error {
	src := get(balances, from)
	if src.Cmp(amount) < 0 {
		return &revert{reason: "ERC20: transfer amount exceeds balance"}
	}
	src.Sub(src, amount)
	dst := get(balances, to)
	dst.Add(dst, amount)
	return nil
}
