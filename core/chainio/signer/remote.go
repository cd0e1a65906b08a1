package signer

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-resty/resty/v2"
)

// RemoteAuthority delegates signing to an external key holder over HTTP,
// typically the sponsor's signing service. Every returned signature is
// recovered and checked against the expected address.
type RemoteAuthority struct {
	client  *resty.Client
	url     string
	address common.Address
}

type signRequest struct {
	Hash     string `json:"hash"`
	Personal bool   `json:"personal"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

func NewRemoteAuthority(url string, address common.Address) *RemoteAuthority {
	return &RemoteAuthority{
		client:  resty.New().SetTimeout(10 * time.Second).SetHeader("Accept", "application/json"),
		url:     url,
		address: address,
	}
}

func (r *RemoteAuthority) Address() common.Address {
	return r.address
}

func (r *RemoteAuthority) SignHash(ctx context.Context, hash common.Hash) ([]byte, error) {
	sig, err := r.sign(ctx, hash, false)
	if err != nil {
		return nil, err
	}
	return sig, r.check(RecoverHash(hash, sig))
}

// SignMessage sends the 32-byte digest with personal=true so the authority
// applies the EIP-191 prefix itself.
func (r *RemoteAuthority) SignMessage(ctx context.Context, data []byte) ([]byte, error) {
	if len(data) != common.HashLength {
		return nil, fmt.Errorf("remote authority only signs 32-byte digests, got %d bytes", len(data))
	}
	sig, err := r.sign(ctx, common.BytesToHash(data), true)
	if err != nil {
		return nil, err
	}
	return sig, r.check(RecoverMessage(data, sig))
}

func (r *RemoteAuthority) sign(ctx context.Context, hash common.Hash, personal bool) ([]byte, error) {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(signRequest{Hash: hash.Hex(), Personal: personal}).
		SetResult(&signResponse{}).
		// signers often reply as text/plain; resty only decodes json
		ForceContentType("application/json").
		Post(r.url)
	if err != nil {
		return nil, fmt.Errorf("remote signer request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("remote signer returned status %d: %s", resp.StatusCode(), resp.String())
	}

	result := resp.Result().(*signResponse)
	sig, err := hexutil.Decode(result.Signature)
	if err != nil {
		return nil, fmt.Errorf("remote signer returned malformed signature: %w", err)
	}
	return sig, nil
}

func (r *RemoteAuthority) check(got common.Address, err error) error {
	if err != nil {
		return fmt.Errorf("cannot recover remote signature: %w", err)
	}
	if got != r.address {
		return fmt.Errorf("remote signer signed as %s, expected %s", got.Hex(), r.address.Hex())
	}
	return nil
}
