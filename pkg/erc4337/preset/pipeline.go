package preset

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/AvaProtocol/userop-relay/core/journal"
	"github.com/AvaProtocol/userop-relay/metrics"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/authz"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/prefund"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
)

// Journal records every attempt. *journal.Journal satisfies it.
type Journal interface {
	Append(ctx context.Context, e *journal.Entry) error
	ApprovalSeen(hash common.Hash) (bool, error)
}

type PipelineConfig struct {
	Wallet     Wallet
	EntryPoint EntryPoint
	Chain      Chain
	Submitter  Submitter
	Signer     *OpSigner
	Fees       FeeOracle

	Prefund  prefund.Params
	Defaults FillDefaults

	Journal Journal
	Metrics metrics.MetricsGenerator
	Logger  logger.Logger
}

// Pipeline sends operations for one wallet. Calls must not overlap for the
// same wallet: two in-flight operations race on the nonce or the approval.
type Pipeline struct {
	wallet     Wallet
	entryPoint EntryPoint
	chain      Chain
	submitter  Submitter
	signer     *OpSigner
	fees       FeeOracle

	params   prefund.Params
	defaults FillDefaults

	journal Journal
	metrics metrics.MetricsGenerator
	logger  logger.Logger
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Wallet == nil || cfg.EntryPoint == nil || cfg.Chain == nil || cfg.Submitter == nil || cfg.Signer == nil {
		return nil, errors.New("pipeline needs a wallet, an entry point, a chain, a submitter and a signer")
	}
	if cfg.Prefund.SponsorVerificationMultiplier == 0 {
		cfg.Prefund.SponsorVerificationMultiplier = prefund.DefaultSponsorVerificationMultiplier
	}
	if err := cfg.Prefund.Validate(); err != nil {
		return nil, err
	}
	if cfg.Signer.Scope().EntryPoint != cfg.EntryPoint.Address() {
		return nil, fmt.Errorf("signer scope entry point %s differs from %s", cfg.Signer.Scope().EntryPoint.Hex(), cfg.EntryPoint.Address().Hex())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRelayMetrics(prometheus.NewRegistry())
	}

	return &Pipeline{
		wallet:     cfg.Wallet,
		entryPoint: cfg.EntryPoint,
		chain:      cfg.Chain,
		submitter:  cfg.Submitter,
		signer:     cfg.Signer,
		fees:       cfg.Fees,
		params:     cfg.Prefund,
		defaults:   cfg.Defaults,
		journal:    cfg.Journal,
		metrics:    cfg.Metrics,
		logger:     logger.EnsureLogger(cfg.Logger).With("wallet", cfg.Wallet.Address().Hex()),
	}, nil
}

// SendOptions are the optional inputs of SendTx.
type SendOptions struct {
	Sponsor *SponsorOption
	Build   BuildOptions
}

// SendTx builds, signs, funds, simulates and submits txs as one operation
// on the nonce path. It does not retry: the caller decides what to do with
// a typed failure.
func (p *Pipeline) SendTx(ctx context.Context, txs []Tx, opts SendOptions) (*userop.Receipt, error) {
	partial, err := CreateBatchTransactions(ctx, p.chain, p.signer.Scope(), p.wallet.Address(), txs, opts.Build)
	if err != nil {
		return nil, p.reject(ctx, &journal.Entry{Path: authz.NoncePath.String()}, err)
	}
	value := TotalValue(txs)
	p.logger.Debug("batch built", "calls", len(txs), "value", value.String(), "callGasLimit", partial.CallGasLimit.String())

	signed, err := p.signer.FillAndSign(ctx, partial, p.wallet, p.fees, p.defaults)
	if err != nil {
		return nil, p.reject(ctx, &journal.Entry{Path: authz.NoncePath.String()}, err)
	}

	if opts.Sponsor != nil {
		if err := p.signer.Sponsor(ctx, signed, *opts.Sponsor); err != nil {
			return nil, p.reject(ctx, p.entryFor(signed), err)
		}
		p.logger.Debug("sponsor attached", "paymaster", opts.Sponsor.Sponsor.Address().Hex(), "token", opts.Sponsor.Token.Hex())
	}

	return p.submit(ctx, signed, value)
}

// SendUserOp runs the funding, simulation and submission steps for an
// operation that is already signed, e.g. one carrying a guardian approval.
func (p *Pipeline) SendUserOp(ctx context.Context, signed *Signed) (*userop.Receipt, error) {
	return p.submit(ctx, signed, nil)
}

func (p *Pipeline) submit(ctx context.Context, signed *Signed, value *big.Int) (*userop.Receipt, error) {
	entry := p.entryFor(signed)

	if err := p.signer.Verify(signed); err != nil {
		return nil, p.reject(ctx, entry, err)
	}
	if err := p.precheck(ctx, signed); err != nil {
		return nil, p.reject(ctx, entry, err)
	}

	op := signed.Op
	if err := op.Validate(); err != nil {
		return nil, p.reject(ctx, entry, aaerr.Wrap(aaerr.SimulationRejected, err, ""))
	}

	if err := p.ensurePrefund(ctx, op, value, entry); err != nil {
		return nil, p.reject(ctx, entry, err)
	}

	if err := p.entryPoint.SimulateValidation(ctx, op); err != nil {
		return nil, p.reject(ctx, entry, err)
	}
	p.logger.Debug("validation simulated", "userOpHash", signed.Hash.Hex())

	hash, err := p.submitter.Submit(ctx, op)
	if err != nil {
		return nil, p.reject(ctx, entry, err)
	}
	if hash != signed.Hash {
		p.logger.Warn("submitter returned a different userOpHash", "local", signed.Hash.Hex(), "remote", hash.Hex())
	}

	receipt, err := p.submitter.Wait(ctx, hash)
	if err != nil {
		entry.Status = journal.StatusFailed
		return nil, p.reject(ctx, entry, err)
	}

	entry.TxHash = receipt.TxHash
	entry.BlockNumber = receipt.BlockNumber
	entry.GasUsed = bigString(receipt.GasUsed)
	entry.ActualGasCost = bigString(receipt.ActualGasCost)
	if receipt.GasUsed != nil {
		p.metrics.ObserveGasUsed(float64(receipt.GasUsed.Uint64()))
	}

	if !receipt.Success {
		entry.Status = journal.StatusReverted
		revertErr := aaerr.New(aaerr.ExecutionReverted, receipt.RevertReason, map[string]interface{}{
			"userOpHash": hash.Hex(),
			"txHash":     receipt.TxHash.Hex(),
		})
		p.logger.Warn("user operation reverted", "userOpHash", hash.Hex(), "reason", receipt.RevertReason)
		return receipt, p.reject(ctx, entry, revertErr)
	}

	entry.Status = journal.StatusIncluded
	p.metrics.IncSubmission(signed.Path.String(), string(journal.StatusIncluded))
	p.record(ctx, entry)
	p.logger.Info("user operation included",
		"userOpHash", hash.Hex(),
		"path", signed.Path.String(),
		"block", receipt.BlockNumber,
		"gasUsed", bigString(receipt.GasUsed),
		"actualGasCost", prefund.FormatEther(receipt.ActualGasCost))
	return receipt, nil
}

// precheck reads the wallet fresh and applies the nonce path rules. The
// approval path is left to the wallet, which owns the replay set.
func (p *Pipeline) precheck(ctx context.Context, signed *Signed) error {
	if signed.Path == authz.ApprovalPath {
		if p.journal != nil {
			if seen, err := p.journal.ApprovalSeen(signed.ApprovalDigest); err == nil && seen {
				p.logger.Warn("approval was already included once; the wallet will decide", "approval", signed.ApprovalDigest.Hex())
			}
		}
		return nil
	}

	nonce, err := p.wallet.Nonce(ctx)
	if err != nil {
		return aaerr.Wrap(aaerr.NetworkFailure, err, "cannot read wallet nonce")
	}
	locked, err := p.wallet.IsLocked(ctx)
	if err != nil {
		return aaerr.Wrap(aaerr.NetworkFailure, err, "cannot read wallet lock")
	}
	return authz.CheckNoncePath(authz.WalletState{Nonce: nonce, Locked: locked}, signed.Op.Nonce)
}

// ensurePrefund tops up the payer deposit when it cannot cover the worst
// case fee. This is the only corrective action the pipeline takes.
func (p *Pipeline) ensurePrefund(ctx context.Context, op *userop.UserOperation, value *big.Int, entry *journal.Entry) error {
	usesSponsor := op.HasPaymaster()
	required := prefund.RequiredWithValue(prefund.ComputeRequiredPreFund(op, usesSponsor, p.params), value)

	payer := op.Sender
	if usesSponsor {
		payer = op.PaymasterAddress()
	}
	entry.RequiredPrefund = required.String()

	available, err := prefund.Available(ctx, p.entryPoint, p.chain, payer, usesSponsor)
	if err != nil {
		return aaerr.Wrap(aaerr.NetworkFailure, err, "")
	}

	shortfall := prefund.Shortfall(required, available)
	if shortfall.Sign() == 0 {
		return nil
	}

	p.logger.Info("topping up deposit",
		"payer", payer.Hex(),
		"required", prefund.FormatEther(required),
		"available", prefund.FormatEther(available),
		"shortfall", prefund.FormatEther(shortfall))

	if err := p.entryPoint.DepositTo(ctx, payer, shortfall); err != nil {
		if aaerr.KindOf(err) == aaerr.InsufficientPrefund {
			return err
		}
		return aaerr.Wrap(aaerr.InsufficientPrefund, err, "deposit top-up failed")
	}

	entry.TopUp = shortfall.String()
	f, _ := new(big.Float).SetInt(shortfall).Float64()
	p.metrics.AddDepositTopUp(f)
	return nil
}

func (p *Pipeline) entryFor(signed *Signed) *journal.Entry {
	e := &journal.Entry{
		Wallet:       p.wallet.Address(),
		Path:         signed.Path.String(),
		Phase:        signed.Phase.String(),
		UserOpHash:   signed.Hash,
		ApprovalHash: signed.ApprovalDigest,
	}
	if signed.Op != nil {
		e.Nonce = bigString(signed.Op.Nonce)
		e.Sponsor = signed.Op.PaymasterAddress()
	}
	return e
}

// reject records a failed attempt and returns err unchanged.
func (p *Pipeline) reject(ctx context.Context, entry *journal.Entry, err error) error {
	kind := aaerr.KindOf(err)
	if entry.Status == "" {
		entry.Status = journal.StatusRejected
	}
	entry.Wallet = p.wallet.Address()
	entry.Kind = kind.String()
	entry.Reason = err.Error()

	if entry.Status == journal.StatusRejected {
		p.metrics.IncRejection(kind.String())
	} else {
		p.metrics.IncSubmission(entry.Path, string(entry.Status))
	}
	p.record(ctx, entry)
	p.logger.Error("user operation failed", "kind", kind.String(), "path", entry.Path, "nonce", entry.Nonce, "error", err)
	return err
}

func (p *Pipeline) record(ctx context.Context, entry *journal.Entry) {
	if p.journal == nil {
		return
	}
	if err := p.journal.Append(ctx, entry); err != nil {
		p.logger.Error("cannot record journal entry", "error", err)
	}
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
