package aaerr

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
)

// EntryPointErrorsABI lists the custom errors the v0.6 entry point reverts
// with, plus the three-argument FailedOp emitted by older deployments.
const EntryPointErrorsABI = `[
	{"type":"error","name":"FailedOp","inputs":[{"name":"opIndex","type":"uint256"},{"name":"reason","type":"string"}]},
	{"type":"error","name":"FailedOpWithPaymaster","inputs":[{"name":"opIndex","type":"uint256"},{"name":"paymaster","type":"address"},{"name":"reason","type":"string"}]},
	{"type":"error","name":"ValidationResult","inputs":[
		{"name":"returnInfo","type":"tuple","components":[
			{"name":"preOpGas","type":"uint256"},
			{"name":"prefund","type":"uint256"},
			{"name":"sigFailed","type":"bool"},
			{"name":"validAfter","type":"uint48"},
			{"name":"validUntil","type":"uint48"},
			{"name":"paymasterContext","type":"bytes"}]},
		{"name":"senderInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"factoryInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]},
		{"name":"paymasterInfo","type":"tuple","components":[{"name":"stake","type":"uint256"},{"name":"unstakeDelaySec","type":"uint256"}]}]}
]`

var (
	errorsABI abi.ABI

	failedOpID         []byte
	validationResultID []byte
	// FailedOp(uint256,address,string) has its own selector; the ABI entry is
	// named differently only because Go ABI names must be unique.
	failedOpWithPaymasterID = selector("FailedOp(uint256,address,string)")
	revertStringID          = selector("Error(string)")
	panicID                 = selector("Panic(uint256)")

	uint256Args = abi.Arguments{{Type: mustType("uint256")}}
)

func init() {
	var err error
	errorsABI, err = abi.JSON(strings.NewReader(EntryPointErrorsABI))
	if err != nil {
		panic(fmt.Errorf("invalid entry point errors ABI: %w", err))
	}
	failedOpID = errorsABI.Errors["FailedOp"].ID.Bytes()[:4]
	validationResultID = errorsABI.Errors["ValidationResult"].ID.Bytes()[:4]
}

type ReturnInfo struct {
	PreOpGas         *big.Int
	Prefund          *big.Int
	SigFailed        bool
	ValidAfter       *big.Int
	ValidUntil       *big.Int
	PaymasterContext []byte
}

type StakeInfo struct {
	Stake           *big.Int
	UnstakeDelaySec *big.Int
}

// ValidationResult is what simulateValidation reverts with when the
// operation passed validation.
type ValidationResult struct {
	ReturnInfo    ReturnInfo
	SenderInfo    StakeInfo
	FactoryInfo   StakeInfo
	PaymasterInfo StakeInfo
}

// Check turns an informational result into an error when the signature
// check failed or the validity window is already closed.
func (r *ValidationResult) Check(now time.Time) error {
	if r.ReturnInfo.SigFailed {
		return New(SimulationRejected, "AA24 signature error")
	}
	until := r.ReturnInfo.ValidUntil
	if until != nil && until.Sign() > 0 && until.Cmp(big.NewInt(now.Unix())) < 0 {
		return New(SimulationRejected, "AA22 expired or not due")
	}
	return nil
}

// Revert is a decoded entry point revert payload.
type Revert struct {
	Selector   [4]byte
	OpIndex    *big.Int
	Paymaster  common.Address
	Reason     string
	Validation *ValidationResult
}

func (r *Revert) IsValidationResult() bool {
	return r.Validation != nil
}

// DecodeRevert recognises FailedOp (both layouts), ValidationResult,
// Error(string) and Panic(uint256) payloads.
func DecodeRevert(data []byte) (*Revert, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("revert data too short: %d bytes", len(data))
	}

	r := &Revert{}
	copy(r.Selector[:], data[:4])
	body := data[4:]

	switch {
	case bytes.Equal(data[:4], failedOpID):
		values, err := errorsABI.Errors["FailedOp"].Inputs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("cannot decode FailedOp: %w", err)
		}
		r.OpIndex = values[0].(*big.Int)
		r.Reason = values[1].(string)

	case bytes.Equal(data[:4], failedOpWithPaymasterID):
		values, err := errorsABI.Errors["FailedOpWithPaymaster"].Inputs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("cannot decode FailedOp: %w", err)
		}
		r.OpIndex = values[0].(*big.Int)
		r.Paymaster = values[1].(common.Address)
		r.Reason = values[2].(string)

	case bytes.Equal(data[:4], validationResultID):
		inputs := errorsABI.Errors["ValidationResult"].Inputs
		values, err := inputs.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("cannot decode ValidationResult: %w", err)
		}
		var result ValidationResult
		if err := inputs.Copy(&result, values); err != nil {
			return nil, fmt.Errorf("cannot decode ValidationResult: %w", err)
		}
		r.Validation = &result

	case bytes.Equal(data[:4], revertStringID):
		reason, err := abi.UnpackRevert(data)
		if err != nil {
			return nil, fmt.Errorf("cannot decode revert string: %w", err)
		}
		r.Reason = reason

	case bytes.Equal(data[:4], panicID):
		values, err := uint256Args.Unpack(body)
		if err != nil {
			return nil, fmt.Errorf("cannot decode panic: %w", err)
		}
		r.Reason = fmt.Sprintf("panic code 0x%x", values[0].(*big.Int))

	default:
		return nil, fmt.Errorf("unknown revert selector %s", hexutil.Encode(data[:4]))
	}

	return r, nil
}

// FromRevert returns nil for a passing ValidationResult and the typed
// failure for anything else.
func FromRevert(data []byte, now time.Time) error {
	r, err := DecodeRevert(data)
	if err != nil {
		return Wrap(SimulationRejected, err, "")
	}
	if r.IsValidationResult() {
		return r.Validation.Check(now)
	}

	e := FromReason(r.Reason)
	if r.OpIndex != nil {
		e.WithDetail("opIndex", r.OpIndex.String())
	}
	if r.Paymaster != (common.Address{}) {
		e.WithDetail("paymaster", r.Paymaster.Hex())
	}
	return e
}

// RevertData pulls the revert payload out of a JSON-RPC error.
func RevertData(err error) ([]byte, bool) {
	var de rpc.DataError
	if !errors.As(err, &de) {
		return nil, false
	}

	switch data := de.ErrorData().(type) {
	case string:
		b, decodeErr := hexutil.Decode(data)
		if decodeErr != nil {
			return nil, false
		}
		return b, true
	case []byte:
		return data, true
	default:
		return nil, false
	}
}

// FromCallError classifies an error returned by an eth_call. Errors that do
// not carry revert data are transport failures.
func FromCallError(err error, now time.Time) error {
	if err == nil {
		return nil
	}
	if data, ok := RevertData(err); ok {
		return FromRevert(data, now)
	}
	// a node that strips revert data still reports the revert itself
	if strings.Contains(err.Error(), "execution reverted") {
		return Wrap(SimulationRejected, err, "")
	}
	return Wrap(NetworkFailure, err, "")
}

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}
