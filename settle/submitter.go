package settle

import (
	"context"
	"math/big"
	"sync"

	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ClipFinance/rebalancer/feemodel"
	"github.com/ClipFinance/rebalancer/signer"
	"github.com/ClipFinance/rebalancer/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// gasLimitPadPercent pads the estimated gas so the transfer survives small
// state changes between estimation and inclusion.
const gasLimitPadPercent = 110

// ChainState is the slice of the RPC pool the submitter needs.
type ChainState interface {
	EstimateGas(ctx context.Context, chainID uint64, from, to common.Address, value *big.Int, data []byte) (uint64, error)
	FeeData(ctx context.Context, chainID uint64) (*types.FeeData, error)
	PendingNonce(ctx context.Context, chainID uint64, account common.Address) (uint64, error)
	Submit(ctx context.Context, chainID uint64, tx *ethtypes.Transaction) (common.Hash, error)
}

// Submitter builds, signs and submits the on-chain transaction fulfilling a
// previously quoted transfer.
type Submitter struct {
	logger   *logrus.Logger
	state    ChainState
	builder  *txbuilder.Builder
	resolver *feemodel.Resolver
	signer   signer.Signer

	// chainLocks serializes the nonce-fetch -> submit critical section per
	// destination chain for the single signing account, so concurrent
	// settlements cannot race on nonce assignment.
	chainLocks      map[uint64]*sync.Mutex
	chainLocksMutex sync.Mutex
}

// NewSubmitter creates a settlement submitter.
func NewSubmitter(logger *logrus.Logger, state ChainState, builder *txbuilder.Builder, resolver *feemodel.Resolver, txSigner signer.Signer) *Submitter {
	return &Submitter{
		logger:     logger,
		state:      state,
		builder:    builder,
		resolver:   resolver,
		signer:     txSigner,
		chainLocks: make(map[uint64]*sync.Mutex),
	}
}

func (s *Submitter) chainLock(chainID uint64) *sync.Mutex {
	s.chainLocksMutex.Lock()
	defer s.chainLocksMutex.Unlock()

	lock, ok := s.chainLocks[chainID]
	if !ok {
		lock = &sync.Mutex{}
		s.chainLocks[chainID] = lock
	}
	return lock
}

// Settle submits the settlement transaction for a stored quote and returns
// its hash. The transferred amount is taken verbatim from the quote record,
// never re-derived. Failures carry the stage at which they occurred so the
// caller can judge whether a retry is nonce-safe.
func (s *Submitter) Settle(ctx context.Context, record *types.QuoteRecord) (common.Hash, error) {
	req := &record.Request
	amount := record.Result.DestinationOutputAmount

	tmpl, err := s.builder.Build(req.DestinationChainID, req.DestinationCurrency, common.HexToAddress(req.RecipientAddress), amount)
	if err != nil {
		return common.Hash{}, err
	}

	// Hold the lock across fetch and submit: a second settlement on the same
	// chain must not read the same pending nonce.
	lock := s.chainLock(req.DestinationChainID)
	lock.Lock()
	defer lock.Unlock()

	var nonce uint64
	var gasLimit uint64
	var feeData *types.FeeData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		nonce, err = s.state.PendingNonce(gctx, req.DestinationChainID, s.signer.Address())
		return err
	})
	g.Go(func() (err error) {
		gasLimit, err = s.state.EstimateGas(gctx, req.DestinationChainID, s.signer.Address(), tmpl.To, tmpl.Value, tmpl.Data)
		return err
	})
	g.Go(func() (err error) {
		feeData, err = s.state.FeeData(gctx, req.DestinationChainID)
		return err
	})
	if err := g.Wait(); err != nil {
		return common.Hash{}, err
	}

	gasLimit = gasLimit * gasLimitPadPercent / 100

	tx := s.resolver.Shape(req.DestinationChainID, tmpl, nonce, gasLimit, feeData)

	signedTx, err := s.signer.SignTx(tx, new(big.Int).SetUint64(req.DestinationChainID))
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to sign settlement transaction")
	}

	hash, err := s.state.Submit(ctx, req.DestinationChainID, signedTx)
	if err != nil {
		// A submit-stage failure may still have reached the network; the
		// caller must not blindly retry or it risks double-submission.
		return common.Hash{}, err
	}

	s.logger.WithFields(logrus.Fields{
		"requestId":          req.RequestID,
		"destinationChainId": req.DestinationChainID,
		"txHash":             hash.Hex(),
		"nonce":              nonce,
		"amount":             amount.String(),
	}).Info("Settlement transaction submitted")

	return hash, nil
}
