package bundler

import (
	"context"
	"errors"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollAttempts = 60
)

var errNotIncluded = errors.New("user operation not included yet")

// Submitter hands operations to a bundler for one entry point and polls
// for their receipts.
type Submitter struct {
	client       *BundlerClient
	entryPoint   common.Address
	pollInterval time.Duration
	pollAttempts uint
}

func NewSubmitter(client *BundlerClient, entryPoint common.Address) *Submitter {
	return &Submitter{
		client:       client,
		entryPoint:   entryPoint,
		pollInterval: DefaultPollInterval,
		pollAttempts: DefaultPollAttempts,
	}
}

// WithPolling overrides how long Wait keeps asking for the receipt.
func (s *Submitter) WithPolling(interval time.Duration, attempts uint) *Submitter {
	s.pollInterval = interval
	s.pollAttempts = attempts
	return s
}

func (s *Submitter) Submit(ctx context.Context, op *userop.UserOperation) (common.Hash, error) {
	return s.client.SendUserOperation(ctx, op, s.entryPoint)
}

// Wait polls eth_getUserOperationReceipt until the operation is included.
// Transport errors are retried; typed rejections are not.
func (s *Submitter) Wait(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	var receipt *userop.Receipt
	err := retry.Do(
		func() error {
			r, err := s.client.GetUserOperationReceipt(ctx, hash)
			if err != nil {
				if !aaerr.KindOf(err).Retriable() {
					return retry.Unrecoverable(err)
				}
				return err
			}
			if r == nil {
				return errNotIncluded
			}
			receipt = r
			return nil
		},
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.Delay(s.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.Attempts(s.pollAttempts),
	)
	if errors.Is(err, errNotIncluded) {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "receipt not found for "+hash.Hex())
	}
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
