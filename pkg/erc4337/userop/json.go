package userop

import (
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// jsonUserOperation is the hex encoded wire form used by bundler RPCs.
type jsonUserOperation struct {
	Sender               common.Address `json:"sender"`
	Nonce                *hexutil.Big   `json:"nonce"`
	InitCode             hexutil.Bytes  `json:"initCode"`
	CallData             hexutil.Bytes  `json:"callData"`
	CallGasLimit         *hexutil.Big   `json:"callGasLimit"`
	VerificationGasLimit *hexutil.Big   `json:"verificationGasLimit"`
	PreVerificationGas   *hexutil.Big   `json:"preVerificationGas"`
	MaxFeePerGas         *hexutil.Big   `json:"maxFeePerGas"`
	MaxPriorityFeePerGas *hexutil.Big   `json:"maxPriorityFeePerGas"`
	PaymasterAndData     hexutil.Bytes  `json:"paymasterAndData"`
	Signature            hexutil.Bytes  `json:"signature"`
}

func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(jsonUserOperation{
		Sender:               op.Sender,
		Nonce:                (*hexutil.Big)(orZero(op.Nonce)),
		InitCode:             nonNil(op.InitCode),
		CallData:             nonNil(op.CallData),
		CallGasLimit:         (*hexutil.Big)(orZero(op.CallGasLimit)),
		VerificationGasLimit: (*hexutil.Big)(orZero(op.VerificationGasLimit)),
		PreVerificationGas:   (*hexutil.Big)(orZero(op.PreVerificationGas)),
		MaxFeePerGas:         (*hexutil.Big)(orZero(op.MaxFeePerGas)),
		MaxPriorityFeePerGas: (*hexutil.Big)(orZero(op.MaxPriorityFeePerGas)),
		PaymasterAndData:     nonNil(op.PaymasterAndData),
		Signature:            nonNil(op.Signature),
	})
}

func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var raw jsonUserOperation
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*op = UserOperation{
		Sender:               raw.Sender,
		Nonce:                (*big.Int)(raw.Nonce),
		InitCode:             raw.InitCode,
		CallData:             raw.CallData,
		CallGasLimit:         (*big.Int)(raw.CallGasLimit),
		VerificationGasLimit: (*big.Int)(raw.VerificationGasLimit),
		PreVerificationGas:   (*big.Int)(raw.PreVerificationGas),
		MaxFeePerGas:         (*big.Int)(raw.MaxFeePerGas),
		MaxPriorityFeePerGas: (*big.Int)(raw.MaxPriorityFeePerGas),
		PaymasterAndData:     raw.PaymasterAndData,
		Signature:            raw.Signature,
	}
	return nil
}

// bundlers reject a JSON null where they expect "0x"
func nonNil(b []byte) hexutil.Bytes {
	if b == nil {
		return hexutil.Bytes{}
	}
	return b
}
