package rpcpool

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// baseFeeBufferPercent pads the head block base fee so the computed max fee
// survives a few blocks of base fee growth before the transaction lands.
const baseFeeBufferPercent = 130

// endpoint is a single dialed RPC endpoint with its health flag. The flag is
// maintained by the pool's health monitor; request paths only read it.
type endpoint struct {
	url     string
	client  *ethclient.Client
	healthy atomic.Bool
}

// chainEndpoints is the ordered endpoint set for one chain with round-robin
// rotation state shared across concurrent calls.
type chainEndpoints struct {
	chainID   uint64
	endpoints []*endpoint
	next      atomic.Uint64
}

// pick returns the next endpoint in rotation, skipping endpoints the health
// monitor has marked down. If every endpoint is down the rotation proceeds
// anyway so a recovered node still gets traffic before the next health pass.
func (c *chainEndpoints) pick() *endpoint {
	n := len(c.endpoints)
	start := c.next.Add(1)
	for i := 0; i < n; i++ {
		ep := c.endpoints[(start+uint64(i))%uint64(n)]
		if ep.healthy.Load() {
			return ep
		}
	}
	return c.endpoints[start%uint64(n)]
}

// Pool is a per-chain collection of RPC endpoints with load-balanced reads
// and transaction submission. Endpoint lists are read-only after
// construction; only the rotation counters and health flags mutate, both via
// atomics, so the pool is safe for concurrent use.
type Pool struct {
	logger  *logrus.Logger
	timeout time.Duration
	chains  map[uint64]*chainEndpoints
}

// New dials every configured endpoint and returns the pool. A chain with an
// empty endpoint list is a fatal configuration error.
func New(logger *logrus.Logger, timeout time.Duration, endpoints map[uint64][]string) (*Pool, error) {
	if len(endpoints) == 0 {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "no rpc endpoints configured")
	}

	pool := &Pool{
		logger:  logger,
		timeout: timeout,
		chains:  make(map[uint64]*chainEndpoints, len(endpoints)),
	}

	for chainID, urls := range endpoints {
		if len(urls) == 0 {
			pool.Close()
			return nil, errors.Wrapf(commonerrors.ErrInvalidConfig, "chain %d has an empty rpc endpoint list", chainID)
		}

		set := &chainEndpoints{chainID: chainID, endpoints: make([]*endpoint, 0, len(urls))}
		for _, url := range urls {
			client, err := ethclient.Dial(url)
			if err != nil {
				pool.Close()
				return nil, errors.Wrapf(err, "failed to dial rpc endpoint %s for chain %d", url, chainID)
			}

			ep := &endpoint{url: url, client: client}
			ep.healthy.Store(true)
			set.endpoints = append(set.endpoints, ep)
		}
		pool.chains[chainID] = set
	}

	return pool, nil
}

// Close closes every dialed endpoint.
func (p *Pool) Close() {
	for _, set := range p.chains {
		for _, ep := range set.endpoints {
			ep.client.Close()
		}
	}
}

// call runs fn against the next endpoint in the chain's rotation with the
// pool timeout applied. Failures are wrapped as RPCError and surfaced, not
// retried; retry policy is the caller's decision.
func (p *Pool) call(ctx context.Context, chainID uint64, stage commonerrors.Stage, fn func(ctx context.Context, client *ethclient.Client) error) error {
	set, ok := p.chains[chainID]
	if !ok {
		return errors.Wrapf(commonerrors.ErrChainNotConfigured, "chain %d", chainID)
	}

	ep := set.pick()

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := fn(callCtx, ep.client); err != nil {
		p.logger.WithFields(logrus.Fields{
			"chainId":  set.chainID,
			"endpoint": ep.url,
			"stage":    stage,
		}).WithError(err).Warn("RPC call failed")
		return commonerrors.NewRPCError(stage, chainID, err)
	}

	return nil
}

// EstimateGas estimates the gas required for a transfer shaped by the given
// call parameters.
func (p *Pool) EstimateGas(ctx context.Context, chainID uint64, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	var gas uint64
	err := p.call(ctx, chainID, commonerrors.StageEstimateGas, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		gas, err = client.EstimateGas(ctx, ethereum.CallMsg{
			From:  from,
			To:    &to,
			Value: value,
			Data:  data,
		})
		return err
	})
	if err != nil {
		return 0, err
	}
	return gas, nil
}

// SuggestGasPrice returns the node's suggested flat gas price.
func (p *Pool) SuggestGasPrice(ctx context.Context, chainID uint64) (*big.Int, error) {
	var gasPrice *big.Int
	err := p.call(ctx, chainID, commonerrors.StageGasPrice, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		gasPrice, err = client.SuggestGasPrice(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return gasPrice, nil
}

// FeeData derives the max fee and priority tip from the suggested tip cap and
// the head block base fee. A single fee-data fetch serves both fee models:
// legacy chains reuse MaxFeePerGas as the flat gas price.
func (p *Pool) FeeData(ctx context.Context, chainID uint64) (*types.FeeData, error) {
	var feeData *types.FeeData
	err := p.call(ctx, chainID, commonerrors.StageFeeData, func(ctx context.Context, client *ethclient.Client) error {
		suggestedTip, err := client.SuggestGasTipCap(ctx)
		if err != nil || suggestedTip.Sign() == 0 {
			// Some nodes refuse eth_maxPriorityFeePerGas; a 1 wei tip keeps
			// the transaction valid.
			suggestedTip = big.NewInt(1)
		}

		header, err := client.HeaderByNumber(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "failed to get head block header")
		}

		baseFee := header.BaseFee
		if baseFee == nil {
			// Pre-EIP-1559 chain: the suggested gas price is the only fee
			// parameter there is.
			gasPrice, err := client.SuggestGasPrice(ctx)
			if err != nil {
				return errors.Wrap(err, "failed to get gas price")
			}
			feeData = &types.FeeData{MaxFeePerGas: gasPrice, MaxPriorityFeePerGas: suggestedTip}
			return nil
		}

		baseFeeBuf := new(big.Int).Mul(baseFee, big.NewInt(baseFeeBufferPercent))
		baseFeeBuf = baseFeeBuf.Div(baseFeeBuf, big.NewInt(100))
		maxFeePerGas := new(big.Int).Add(baseFeeBuf, suggestedTip)

		feeData = &types.FeeData{MaxFeePerGas: maxFeePerGas, MaxPriorityFeePerGas: suggestedTip}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return feeData, nil
}

// PendingNonce returns the next nonce for the account, including pending
// transactions.
func (p *Pool) PendingNonce(ctx context.Context, chainID uint64, account common.Address) (uint64, error) {
	var nonce uint64
	err := p.call(ctx, chainID, commonerrors.StageNonce, func(ctx context.Context, client *ethclient.Client) error {
		var err error
		nonce, err = client.PendingNonceAt(ctx, account)
		return err
	})
	if err != nil {
		return 0, err
	}
	return nonce, nil
}

// Submit broadcasts a signed transaction and returns its hash.
func (p *Pool) Submit(ctx context.Context, chainID uint64, tx *ethtypes.Transaction) (common.Hash, error) {
	err := p.call(ctx, chainID, commonerrors.StageSubmit, func(ctx context.Context, client *ethclient.Client) error {
		return client.SendTransaction(ctx, tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}
