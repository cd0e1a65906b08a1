// Provide primitive to work with a bundler RPC
// Bundler RPC is stateless
package bundler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// BundlerClient defines a client for interacting with an EIP-4337 bundler RPC endpoint.
type BundlerClient struct {
	client *rpc.Client
	url    string
	logger logger.Logger
}

// NewBundlerClient creates a new BundlerClient that connects to the given URL.
func NewBundlerClient(url string, lgr logger.Logger) (*BundlerClient, error) {
	// DialHTTP is more compatible with HTTP-only bundler endpoints
	c, err := rpc.DialHTTP(url)
	if err != nil {
		return nil, fmt.Errorf("error creating bundler client: %w", err)
	}
	return &BundlerClient{client: c, url: url, logger: logger.EnsureLogger(lgr)}, nil
}

// Close closes the underlying RPC client connection.
func (bc *BundlerClient) Close() {
	bc.client.Close()
}

// SendUserOperation sends a UserOperation to the bundler and returns the
// userOpHash the bundler computed.
func (bc *BundlerClient) SendUserOperation(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (common.Hash, error) {
	var hash common.Hash

	bc.logger.Debug("eth_sendUserOperation", "sender", op.Sender.Hex(), "nonce", op.Nonce.String(), "entrypoint", entrypoint.Hex())
	// some bundlers require the EIP-55 checksummed entry point
	if err := bc.client.CallContext(ctx, &hash, "eth_sendUserOperation", op, entrypoint.Hex()); err != nil {
		return common.Hash{}, classify(err)
	}
	return hash, nil
}

// EstimateUserOperationGas estimates the gas required for a UserOperation.
// https://eips.ethereum.org/EIPS/eip-4337#rpc-methods-eth-namespace
// The signature field is ignored by the wallet, but it might require a
// "semi-valid" signature (e.g. a signature in the right length).
func (bc *BundlerClient) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entrypoint common.Address) (*GasEstimation, error) {
	var result GasEstimation
	if err := bc.client.CallContext(ctx, &result, "eth_estimateUserOperationGas", op, entrypoint.Hex()); err != nil {
		return nil, classify(err)
	}
	if result.CallGasLimit == nil || result.VerificationGasLimit == nil || result.PreVerificationGas == nil {
		return nil, aaerr.New(aaerr.SimulationRejected, "incomplete gas estimation")
	}
	return &result, nil
}

// SupportedEntryPoints lists the entry points the bundler serves.
func (bc *BundlerClient) SupportedEntryPoints(ctx context.Context) ([]common.Address, error) {
	var out []common.Address
	if err := bc.client.CallContext(ctx, &out, "eth_supportedEntryPoints"); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// GetUserOperationReceipt fetches the receipt of a UserOperation. It returns
// nil, nil while the operation is not yet included.
func (bc *BundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	var raw map[string]interface{}
	if err := bc.client.CallContext(ctx, &raw, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, classify(err)
	}
	if raw == nil {
		return nil, nil
	}
	return decodeReceipt(raw)
}

// classify maps a bundler error to its kind. Bundlers return the entry point
// reason (e.g. "AA21 didn't pay prefund") in the error message, sometimes
// with the raw revert as data.
func classify(err error) error {
	if data, ok := aaerr.RevertData(err); ok {
		if typed := aaerr.FromRevert(data, time.Now()); typed != nil {
			return typed
		}
	}
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		e := aaerr.FromReason(rpcErr.Error())
		e.Err = err
		return e.WithDetail("code", rpcErr.ErrorCode())
	}
	return aaerr.Wrap(aaerr.NetworkFailure, err, "")
}
