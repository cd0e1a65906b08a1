package aaerr

import (
	"fmt"
	"math/big"
)

// EncodeFailedOp builds the FailedOp(uint256,string) revert payload.
func EncodeFailedOp(opIndex uint64, reason string) []byte {
	return encodeError("FailedOp", failedOpID, new(big.Int).SetUint64(opIndex), reason)
}

// EncodeValidationResult builds the revert payload simulateValidation uses
// to report a passing validation.
func EncodeValidationResult(r *ValidationResult) []byte {
	info := r.ReturnInfo
	info.PreOpGas = orZero(info.PreOpGas)
	info.Prefund = orZero(info.Prefund)
	info.ValidAfter = orZero(info.ValidAfter)
	info.ValidUntil = orZero(info.ValidUntil)
	if info.PaymasterContext == nil {
		info.PaymasterContext = []byte{}
	}
	return encodeError("ValidationResult", validationResultID,
		info, stake(r.SenderInfo), stake(r.FactoryInfo), stake(r.PaymasterInfo))
}

func stake(s StakeInfo) StakeInfo {
	return StakeInfo{Stake: orZero(s.Stake), UnstakeDelaySec: orZero(s.UnstakeDelaySec)}
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func encodeError(name string, id []byte, args ...interface{}) []byte {
	body, err := errorsABI.Errors[name].Inputs.Pack(args...)
	if err != nil {
		panic(fmt.Errorf("cannot encode %s: %w", name, err))
	}
	return append(append([]byte{}, id...), body...)
}
