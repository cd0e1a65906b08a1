package bundler

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mitchellh/mapstructure"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

// rawReceipt is the eth_getUserOperationReceipt result. Bundlers disagree
// on extra fields, so it is decoded leniently from a map.
type rawReceipt struct {
	UserOpHash    common.Hash    `mapstructure:"userOpHash"`
	Sender        common.Address `mapstructure:"sender"`
	Paymaster     common.Address `mapstructure:"paymaster"`
	Nonce         *big.Int       `mapstructure:"nonce"`
	ActualGasCost *big.Int       `mapstructure:"actualGasCost"`
	ActualGasUsed *big.Int       `mapstructure:"actualGasUsed"`
	Success       bool           `mapstructure:"success"`
	Reason        string         `mapstructure:"reason"`
	Receipt       struct {
		TransactionHash   common.Hash `mapstructure:"transactionHash"`
		BlockNumber       *big.Int    `mapstructure:"blockNumber"`
		EffectiveGasPrice *big.Int    `mapstructure:"effectiveGasPrice"`
	} `mapstructure:"receipt"`
}

var (
	bigType     = reflect.TypeOf(&big.Int{})
	addressType = reflect.TypeOf(common.Address{})
	hashType    = reflect.TypeOf(common.Hash{})
)

// hexHook converts the quantity and data strings of the RPC result.
func hexHook(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String {
		return data, nil
	}
	s := data.(string)
	switch to {
	case bigType:
		if s == "" {
			return new(big.Int), nil
		}
		return hexutil.DecodeBig(s)
	case addressType:
		if s != "" && !common.IsHexAddress(s) {
			return nil, fmt.Errorf("invalid address %q", s)
		}
		return common.HexToAddress(s), nil
	case hashType:
		return common.HexToHash(s), nil
	}
	return data, nil
}

func decodeReceipt(raw map[string]interface{}) (*userop.Receipt, error) {
	var r rawReceipt
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: hexHook,
		Result:     &r,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("cannot decode user operation receipt: %w", err)
	}

	out := &userop.Receipt{
		UserOpHash:        r.UserOpHash,
		TxHash:            r.Receipt.TransactionHash,
		Sender:            r.Sender,
		Paymaster:         r.Paymaster,
		Nonce:             r.Nonce,
		GasUsed:           r.ActualGasUsed,
		EffectiveGasPrice: r.Receipt.EffectiveGasPrice,
		ActualGasCost:     r.ActualGasCost,
		Success:           r.Success,
		RevertReason:      r.Reason,
	}
	if r.Receipt.BlockNumber != nil {
		out.BlockNumber = r.Receipt.BlockNumber.Uint64()
	}
	if out.EffectiveGasPrice == nil && r.ActualGasUsed != nil && r.ActualGasUsed.Sign() > 0 {
		out.EffectiveGasPrice = new(big.Int).Div(r.ActualGasCost, r.ActualGasUsed)
	}
	return out, nil
}
