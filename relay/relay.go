// Package relay wires a configured wallet to the submission pipeline, either
// against a live node or against the in-memory chain.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/params"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/AvaProtocol/userop-relay/core/chainio/aa"
	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
	"github.com/AvaProtocol/userop-relay/core/chainsim"
	"github.com/AvaProtocol/userop-relay/core/config"
	"github.com/AvaProtocol/userop-relay/core/journal"
	"github.com/AvaProtocol/userop-relay/metrics"
	"github.com/AvaProtocol/userop-relay/pkg/eip1559"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/aaerr"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/approval"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/bundler"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/preset"
	"github.com/AvaProtocol/userop-relay/pkg/erc4337/userop"
	"github.com/AvaProtocol/userop-relay/pkg/logger"
	"github.com/AvaProtocol/userop-relay/storage"
)

var ErrNoPaymaster = errors.New("no paymaster configured")

var (
	// the simulator funds the funder and the wallet with this much
	simFunds = new(big.Int).Mul(big.NewInt(100), big.NewInt(params.Ether))
	// and mints this much of the fee token to the wallet
	simTokenSupply = new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(params.Ether))
)

// backend is one place operations can go: a node or the simulator.
type backend struct {
	chainID    *big.Int
	wallet     preset.Wallet
	entryPoint preset.EntryPoint
	chain      preset.Chain
	submitter  preset.Submitter
	fees       preset.FeeOracle
	domain     approval.Domain

	sponsor preset.Sponsor
	token   common.Address

	sim     *chainsim.Chain
	closers []func() error
}

type options struct {
	simulate   bool
	registerer prometheus.Registerer
}

type Option func(*options)

// WithSimulator runs against a fresh in-memory chain instead of eth_rpc_url.
// The wallet, the paymaster and the fee token are deployed on it.
func WithSimulator() Option {
	return func(o *options) { o.simulate = true }
}

// WithRegisterer sets where pipeline metrics are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

type Relay struct {
	config  *config.Config
	logger  logger.Logger
	db      storage.Storage
	journal *journal.Journal

	backend  *backend
	wallet   common.Address
	signer   *preset.OpSigner
	pipeline *preset.Pipeline

	stopMetrics context.CancelFunc
}

// New connects to the chain named in c and opens the journal.
func New(ctx context.Context, c *config.Config, opts ...Option) (*Relay, error) {
	o := &options{registerer: prometheus.DefaultRegisterer}
	for _, opt := range opts {
		opt(o)
	}
	lgr := logger.EnsureLogger(c.Logger)

	var (
		b   *backend
		db  storage.Storage
		err error
	)
	if o.simulate {
		b = simulate(c)
		db, err = storage.New(&storage.Config{InMemory: true})
	} else {
		if b, err = dial(ctx, c); err != nil {
			return nil, err
		}
		db, err = storage.NewWithPath(c.DbPath)
	}
	if err != nil {
		b.close()
		return nil, fmt.Errorf("cannot open journal: %w", err)
	}

	walletAddr := b.wallet.Address()
	opSigner := preset.NewOpSigner(c.Owner, preset.Scope{ChainID: b.chainID, EntryPoint: b.entryPoint.Address()})
	j := journal.New(db)

	pipeline, err := preset.NewPipeline(preset.PipelineConfig{
		Wallet:     b.wallet,
		EntryPoint: b.entryPoint,
		Chain:      b.chain,
		Submitter:  b.submitter,
		Signer:     opSigner,
		Fees:       b.fees,
		Prefund:    c.Prefund,
		Defaults:   preset.FillDefaults{VerificationGasLimit: c.VerificationGasLimit},
		Journal:    j,
		Metrics:    metrics.NewRelayMetrics(o.registerer),
		Logger:     lgr,
	})
	if err != nil {
		b.close()
		db.Close()
		return nil, err
	}

	r := &Relay{
		config:   c,
		logger:   lgr.With("wallet", walletAddr.Hex(), "chainId", b.chainID.String()),
		db:       db,
		journal:  j,
		backend:  b,
		wallet:   walletAddr,
		signer:   opSigner,
		pipeline: pipeline,
	}

	if c.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(context.Background())
		r.stopMetrics = cancel
		go func() {
			if err := metrics.Serve(metricsCtx, c.MetricsAddr, lgr); err != nil {
				lgr.Error("metrics server stopped", "error", err)
			}
		}()
	}

	r.logger.Info("relay ready", "entryPoint", b.entryPoint.Address().Hex(), "simulated", b.sim != nil)
	return r, nil
}

func dial(ctx context.Context, c *config.Config) (*backend, error) {
	if c.EthRpcUrl == "" {
		return nil, fmt.Errorf("eth_rpc_url is required unless running against the simulator")
	}
	client, err := ethclient.DialContext(ctx, c.EthRpcUrl)
	if err != nil {
		return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "cannot dial eth_rpc_url")
	}
	b := &backend{closers: []func() error{func() error { client.Close(); return nil }}}

	b.chainID = c.ChainID
	if b.chainID == nil {
		if b.chainID, err = client.ChainID(ctx); err != nil {
			b.close()
			return nil, aaerr.Wrap(aaerr.NetworkFailure, err, "cannot read chain id")
		}
	}

	funder, err := bind.NewKeyedTransactorWithChainID(c.Funder.PrivateKey(), b.chainID)
	if err != nil {
		b.close()
		return nil, err
	}

	entryPoint := aa.NewEntryPoint(c.EntrypointAddress, client, funder, c.Logger)
	b.wallet = aa.NewSmartWallet(c.WalletAddress, client)
	b.entryPoint = entryPoint
	b.chain = client
	b.fees = eip1559.NewOracle(client)
	b.domain = approval.NewDomain(b.chainID, c.WalletImplAddress)

	if c.BundlerURL != "" {
		bc, err := bundler.NewBundlerClient(c.BundlerURL, c.Logger)
		if err != nil {
			b.close()
			return nil, err
		}
		b.closers = append(b.closers, func() error { bc.Close(); return nil })
		b.submitter = bundler.NewSubmitter(bc, c.EntrypointAddress)
	} else {
		b.submitter = aa.NewEntryPointSubmitter(entryPoint, funder, c.Beneficiary, b.chainID)
	}

	if c.Paymaster != nil {
		b.sponsor = aa.NewPaymaster(c.Paymaster.Address, client)
		b.token = c.Paymaster.Token
	}
	return b, nil
}

// simulate deploys the configured actors on a new in-memory chain. Addresses
// from the config file are ignored: the wallet, paymaster and token get the
// addresses the simulator assigns.
func simulate(c *config.Config) *backend {
	opts := []chainsim.Option{chainsim.WithEntryPoint(c.EntrypointAddress), chainsim.WithLogger(c.Logger)}
	if c.ChainID != nil {
		opts = append(opts, chainsim.WithChainID(c.ChainID))
	}
	sim := chainsim.New(opts...)

	guardians := lo.Map(c.Guardians, func(g *signer.LocalIdentity, _ int) common.Address { return g.Address() })
	walletAddr := sim.DeployWallet(c.Owner.Address(), guardians...)
	sim.Fund(c.Funder.Address(), simFunds)
	sim.Fund(walletAddr, simFunds)

	b := &backend{
		chainID:    sim.ChainID(),
		wallet:     sim.Wallet(walletAddr),
		entryPoint: sim.EntryPoint(c.Funder.Address()),
		chain:      sim,
		submitter:  sim.Submitter(c.Beneficiary),
		fees:       sim,
		domain:     sim.Domain(),
		sim:        sim,
	}

	if c.Paymaster != nil {
		pm := sim.DeployPaymaster(c.Paymaster.Authority.Address())
		sim.SetDeposit(pm, simFunds)
		b.sponsor = sim.Paymaster(pm)
		b.token = sim.DeployToken(walletAddr, simTokenSupply)
	}
	return b
}

func (b *backend) close() error {
	var err error
	for _, fn := range b.closers {
		err = multierr.Append(err, fn())
	}
	return err
}

func (r *Relay) Close() error {
	if r.stopMetrics != nil {
		r.stopMetrics()
	}
	return multierr.Combine(r.db.Close(), r.backend.close())
}

func (r *Relay) WalletAddress() common.Address {
	return r.wallet
}

// Token is the fee token the paymaster accepts, zero without a paymaster.
func (r *Relay) Token() common.Address {
	return r.backend.token
}

// Simulator is the in-memory chain, nil when talking to a node.
func (r *Relay) Simulator() *chainsim.Chain {
	return r.backend.sim
}

func (r *Relay) sponsorOption() (*preset.SponsorOption, error) {
	if r.backend.sponsor == nil || r.config.Paymaster == nil {
		return nil, ErrNoPaymaster
	}
	pm := r.config.Paymaster
	opt := &preset.SponsorOption{
		Sponsor:    r.backend.sponsor,
		Token:      r.backend.token,
		ValueOfEth: pm.ValueOfEth,
		Authority:  pm.Authority,
	}
	if pm.ValidFor > 0 {
		opt.ValidUntil = big.NewInt(time.Now().Add(pm.ValidFor).Unix())
	}
	return opt, nil
}

// Send submits txs as one operation on the nonce path. With sponsored set
// the configured paymaster pays gas and takes the fee token in return.
func (r *Relay) Send(ctx context.Context, txs []preset.Tx, sponsored bool, build preset.BuildOptions) (*userop.Receipt, error) {
	opts := preset.SendOptions{Build: build}
	if sponsored {
		sponsor, err := r.sponsorOption()
		if err != nil {
			return nil, err
		}
		opts.Sponsor = sponsor
	}
	return r.pipeline.SendTx(ctx, txs, opts)
}

// Deposit adds amount to the wallet deposit from the funder account.
func (r *Relay) Deposit(ctx context.Context, amount *big.Int) error {
	if err := r.backend.entryPoint.DepositTo(ctx, r.wallet, amount); err != nil {
		return err
	}
	r.logger.Info("deposit added", "amount", amount.String())
	return nil
}

// WithdrawDeposit moves amount of the wallet deposit to to. It is a wallet
// self call, so it goes through the pipeline and fails while locked.
func (r *Relay) WithdrawDeposit(ctx context.Context, to common.Address, amount *big.Int) (*userop.Receipt, error) {
	data, err := aa.PackWallet("withdrawDepositTo", to, amount)
	if err != nil {
		return nil, err
	}
	return r.pipeline.SendTx(ctx, []preset.Tx{{To: r.wallet, Data: data}}, preset.SendOptions{})
}

// Approve calls a guardian-approved wallet method, signed by the owner and
// every configured guardian. validUntil of nil or zero never expires.
func (r *Relay) Approve(ctx context.Context, method string, validUntil *big.Int, args ...interface{}) (*userop.Receipt, error) {
	callData, err := aa.PackWallet(method, args...)
	if err != nil {
		return nil, fmt.Errorf("cannot encode %s: %w", method, err)
	}
	if !approval.IsApprovedCall(aa.WalletABI(), callData) {
		return nil, fmt.Errorf("%s does not take a guardian approval", method)
	}

	action, err := approval.ActionFromCallData(aa.WalletABI(), callData)
	if err != nil {
		return nil, err
	}
	signers := []approval.HashSigner{r.config.Owner}
	for _, g := range r.config.Guardians {
		signers = append(signers, g)
	}
	a, digest, err := approval.Build(ctx, r.backend.domain, action, r.wallet, validUntil, signers...)
	if err != nil {
		return nil, err
	}

	scope := r.signer.Scope()
	partial, err := preset.CreateBatchTransactions(ctx, r.backend.chain, scope, r.wallet, []preset.Tx{{To: r.wallet, Data: callData}}, preset.BuildOptions{})
	if err != nil {
		return nil, err
	}
	filled, err := preset.FillUserOp(ctx, partial, r.backend.wallet, r.backend.fees, preset.FillDefaults{VerificationGasLimit: r.config.VerificationGasLimit})
	if err != nil {
		return nil, err
	}
	signed, err := preset.WithApproval(filled, a, digest, scope)
	if err != nil {
		return nil, err
	}

	r.logger.Info("sending approved call", "method", method, "approval", digest.Hex(), "signers", len(a.Signers))
	return r.pipeline.SendUserOp(ctx, signed)
}

// Status is a fresh read of the wallet plus journal totals.
type Status struct {
	Wallet  common.Address
	ChainID *big.Int
	Nonce   *big.Int
	Locked  bool
	Deposit *big.Int
	Balance *big.Int
	// Journal counts every attempt ever recorded; Kept is what List can
	// still return after pruning.
	Journal map[journal.Status]uint64
	Kept    int64
}

func (r *Relay) Status(ctx context.Context) (*Status, error) {
	nonce, err := r.backend.wallet.Nonce(ctx)
	if err != nil {
		return nil, err
	}
	locked, err := r.backend.wallet.IsLocked(ctx)
	if err != nil {
		return nil, err
	}
	deposit, err := r.backend.entryPoint.BalanceOf(ctx, r.wallet)
	if err != nil {
		return nil, err
	}
	balance, err := r.backend.chain.BalanceAt(ctx, r.wallet, nil)
	if err != nil {
		return nil, err
	}

	counts := make(map[journal.Status]uint64)
	for _, s := range []journal.Status{journal.StatusIncluded, journal.StatusReverted, journal.StatusRejected, journal.StatusFailed} {
		if counts[s], err = r.journal.Count(s); err != nil {
			return nil, err
		}
	}

	kept, err := r.journal.Size(r.wallet)
	if err != nil {
		return nil, err
	}

	return &Status{
		Wallet:  r.wallet,
		ChainID: r.backend.chainID,
		Nonce:   nonce,
		Locked:  locked,
		Deposit: deposit,
		Balance: balance,
		Journal: counts,
		Kept:    kept,
	}, nil
}

// Journal lists the newest attempts for the wallet, all of them when limit
// is zero.
func (r *Relay) Journal(limit int) ([]*journal.Entry, error) {
	return r.journal.List(r.wallet, limit)
}

// PruneJournal keeps the newest keep attempts of the wallet.
func (r *Relay) PruneJournal(ctx context.Context, keep int) (int, error) {
	return r.journal.Prune(ctx, r.wallet, keep)
}
