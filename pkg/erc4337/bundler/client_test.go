package bundler

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

type rpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type rpcHandler func(req rpcRequest) (interface{}, map[string]interface{})

func newBundler(t *testing.T, handle rpcHandler) *BundlerClient {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			return
		}
		result, rpcErr := handle(req)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		w.Header().Set("Content-Type", "application/json")
		assert.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	t.Cleanup(srv.Close)

	client, err := NewBundlerClient(srv.URL, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func testOp() *userop.UserOperation {
	return &userop.UserOperation{
		Sender:               common.HexToAddress("0x5a6f3b1d0c8e9d2f4b7a1c3e5d7f9b2a4c6e8d0f"),
		Nonce:                big.NewInt(4),
		CallData:             []byte{0xb6, 0x1d, 0x27, 0xf6},
		CallGasLimit:         big.NewInt(126880),
		VerificationGasLimit: big.NewInt(100000),
		PreVerificationGas:   big.NewInt(50000),
		MaxFeePerGas:         big.NewInt(20_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(2_000_000_000),
		Signature:            make([]byte, 65),
	}
}

func TestSendUserOperation(t *testing.T) {
	entryPoint := common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	want := common.HexToHash("0x01")

	client := newBundler(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		assert.Equal(t, "eth_sendUserOperation", req.Method)
		require.Len(t, req.Params, 2)

		var op map[string]string
		assert.NoError(t, json.Unmarshal(req.Params[0], &op))
		assert.Equal(t, "0x4", op["nonce"])
		assert.Equal(t, "0x1efa0", op["callGasLimit"])
		assert.Equal(t, "0x", op["paymasterAndData"])

		var ep string
		assert.NoError(t, json.Unmarshal(req.Params[1], &ep))
		assert.Equal(t, entryPoint.Hex(), ep)
		return want, nil
	})

	got, err := client.SendUserOperation(context.Background(), testOp(), entryPoint)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestSendUserOperationClassifiesRejection(t *testing.T) {
	cases := map[string]aaerr.Kind{
		"AA21 didn't pay prefund":         aaerr.InsufficientPrefund,
		"AA23 reverted: wallet is locked": aaerr.WalletLocked,
		"AA23 reverted: invalid nonce":    aaerr.InvalidSequence,
		"AA23 reverted: HASH_EXIST":       aaerr.ReplayedApproval,
		"AA24 signature error":            aaerr.SimulationRejected,
		"AA31 paymaster deposit too low":  aaerr.InsufficientPrefund,
	}

	for msg, kind := range cases {
		t.Run(msg, func(t *testing.T) {
			client := newBundler(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
				return nil, map[string]interface{}{"code": -32500, "message": msg}
			})

			_, err := client.SendUserOperation(context.Background(), testOp(), common.Address{})
			require.Error(t, err)
			assert.Equal(t, kind, aaerr.KindOf(err))
		})
	}
}

func TestEstimateUserOperationGas(t *testing.T) {
	client := newBundler(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		assert.Equal(t, "eth_estimateUserOperationGas", req.Method)
		return map[string]string{
			"preVerificationGas":   "0xc350",
			"verificationGasLimit": "0x186a0",
			"callGasLimit":         "0x1efa0",
		}, nil
	})

	est, err := client.EstimateUserOperationGas(context.Background(), testOp(), common.Address{})
	require.NoError(t, err)
	callGas, verificationGas, pre := est.Values()
	assert.Equal(t, int64(126880), callGas.Int64())
	assert.Equal(t, int64(100000), verificationGas.Int64())
	assert.Equal(t, int64(50000), pre.Int64())
}

func TestGetUserOperationReceipt(t *testing.T) {
	hash := common.HexToHash("0xabc")
	client := newBundler(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return map[string]interface{}{
			"userOpHash":    hash.Hex(),
			"entryPoint":    "0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789",
			"sender":        "0x5a6f3b1d0c8e9d2f4b7a1c3e5d7f9b2a4c6e8d0f",
			"nonce":         "0x4",
			"paymaster":     "0x0000000000000000000000000000000000000000",
			"actualGasCost": "0x3e8",
			"actualGasUsed": "0x64",
			"success":       true,
			"reason":        "",
			"logs":          []interface{}{},
			"receipt": map[string]interface{}{
				"transactionHash": "0x00000000000000000000000000000000000000000000000000000000000000ff",
				"blockNumber":     "0x10",
				"status":          "0x1",
			},
		}, nil
	})

	r, err := client.GetUserOperationReceipt(context.Background(), hash)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, hash, r.UserOpHash)
	assert.True(t, r.Success)
	assert.Equal(t, uint64(16), r.BlockNumber)
	assert.Equal(t, "4", r.Nonce.String())
	assert.Equal(t, "1000", r.ActualGasCost.String())
	assert.Equal(t, "10", r.EffectiveGasPrice.String())
	assert.Equal(t, common.HexToHash("0xff"), r.TxHash)
}

func TestSubmitterWaitPollsUntilIncluded(t *testing.T) {
	var calls int32
	client := newBundler(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, nil
		}
		return map[string]interface{}{"success": false, "reason": "0x", "actualGasCost": "0x0", "actualGasUsed": "0x0"}, nil
	})

	s := NewSubmitter(client, common.Address{}).WithPolling(time.Millisecond, 5)
	r, err := s.Wait(context.Background(), common.HexToHash("0x1"))
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestSubmitterWaitGivesUp(t *testing.T) {
	client := newBundler(t, func(req rpcRequest) (interface{}, map[string]interface{}) {
		return nil, nil
	})

	s := NewSubmitter(client, common.Address{}).WithPolling(time.Millisecond, 2)
	_, err := s.Wait(context.Background(), common.HexToHash("0x1"))
	require.Error(t, err)
	assert.Equal(t, aaerr.NetworkFailure, aaerr.KindOf(err))
}
