package quote

import (
	"context"
	"math/big"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ClipFinance/rebalancer/pricefeed"
	"github.com/ClipFinance/rebalancer/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// confirmationBlocks is the fixed policy of waiting two mined blocks before a
// transfer is considered complete.
const confirmationBlocks = 2

// ChainReader is the slice of the RPC pool the quote engine needs.
type ChainReader interface {
	EstimateGas(ctx context.Context, chainID uint64, from, to common.Address, value *big.Int, data []byte) (uint64, error)
	SuggestGasPrice(ctx context.Context, chainID uint64) (*big.Int, error)
}

// Config holds the static quoting policy.
type Config struct {
	// Markup is the fractional surcharge applied on top of the raw
	// transaction fee.
	Markup decimal.Decimal
	// NetFeeFromOutput controls whether the fee is subtracted from the
	// destination output amount before returning, or the two are returned
	// independently.
	NetFeeFromOutput bool
	// BlockTimes maps chain ID -> native block time in seconds.
	BlockTimes map[uint64]int64
	// CurrencyDecimals returns the decimals of a currency's smallest unit.
	CurrencyDecimals func(currency string) int32
}

// Engine produces (fee, destinationOutputAmount, timeEstimate) quotes for
// transfer requests by combining fresh USD prices with on-chain gas cost.
type Engine struct {
	logger  *logrus.Logger
	oracle  pricefeed.Oracle
	reader  ChainReader
	builder *txbuilder.Builder
	// account is the rebalancer address gas is estimated against.
	account common.Address
	cfg     Config
}

// NewEngine creates a quote engine.
func NewEngine(logger *logrus.Logger, oracle pricefeed.Oracle, reader ChainReader, builder *txbuilder.Builder, account common.Address, cfg Config) *Engine {
	return &Engine{
		logger:  logger,
		oracle:  oracle,
		reader:  reader,
		builder: builder,
		account: account,
		cfg:     cfg,
	}
}

// Quote computes the fee, destination output amount and time estimate for a
// transfer request. Prices and chain state are fetched concurrently; the
// first failure aborts the whole quote.
func (e *Engine) Quote(ctx context.Context, req *types.TransferRequest) (*types.QuoteResult, error) {
	blockTime, ok := e.cfg.BlockTimes[req.DestinationChainID]
	if !ok {
		return nil, errors.Wrapf(commonerrors.ErrChainNotConfigured, "chain %d", req.DestinationChainID)
	}

	amount, ok := req.AmountInt()
	if !ok {
		return nil, errors.Wrapf(commonerrors.ErrInvalidAmount, "amount %q", req.Amount)
	}

	var originPrice, destinationPrice, nativePrice decimal.Decimal
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		originPrice, err = e.oracle.GetPrice(gctx, req.OriginCurrency)
		return err
	})
	g.Go(func() (err error) {
		destinationPrice, err = e.oracle.GetPrice(gctx, req.DestinationCurrency)
		return err
	})
	g.Go(func() (err error) {
		nativePrice, err = e.oracle.GetPrice(gctx, types.NativeAsset)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	originDecimals := e.cfg.CurrencyDecimals(req.OriginCurrency)
	outputAmount := destinationOutput(amount, originPrice, destinationPrice, originDecimals)

	// A representative transaction for the computed output amount; its only
	// purpose is a realistic gas estimate.
	tmpl, err := e.builder.Build(req.DestinationChainID, req.DestinationCurrency, common.HexToAddress(req.RecipientAddress), outputAmount)
	if err != nil {
		return nil, err
	}

	var gasLimit uint64
	var gasPrice *big.Int
	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		gasLimit, err = e.reader.EstimateGas(gctx, req.DestinationChainID, e.account, tmpl.To, tmpl.Value, tmpl.Data)
		return err
	})
	g.Go(func() (err error) {
		gasPrice, err = e.reader.SuggestGasPrice(gctx, req.DestinationChainID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	fee := transferFee(gasLimit, gasPrice, originPrice, nativePrice, e.cfg.Markup)

	if e.cfg.NetFeeFromOutput {
		outputAmount.Sub(outputAmount, fee.Ceil().BigInt())
		if outputAmount.Sign() < 0 {
			// Fees exceed the transferred value; the output is clamped to
			// zero rather than returned negative.
			outputAmount.SetInt64(0)
		}
	}

	result := &types.QuoteResult{
		Fee:                     fee,
		DestinationOutputAmount: outputAmount,
		TimeEstimate:            blockTime * confirmationBlocks,
	}

	e.logger.WithFields(logrus.Fields{
		"requestId":          req.RequestID,
		"destinationChainId": req.DestinationChainID,
		"outputAmount":       result.DestinationOutputAmount.String(),
		"fee":                result.Fee.String(),
	}).Debug("Quote computed")

	return result, nil
}

// destinationOutput converts the origin amount into destination-currency
// units of equal USD value:
//
//	ceil(amount * originPrice / (destinationPrice * 10^originDecimals))
//
// The exact ceiling is taken over rational arithmetic so rounding always
// favors the rebalancer.
func destinationOutput(amount *big.Int, originPrice, destinationPrice decimal.Decimal, originDecimals int32) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(originDecimals)), nil)

	r := new(big.Rat).SetInt(amount)
	r.Mul(r, originPrice.Rat())
	r.Quo(r, destinationPrice.Rat())
	r.Quo(r, new(big.Rat).SetInt(scale))

	return ceilRat(r)
}

// transferFee prices the destination-chain transaction in origin-currency
// units:
//
//	gasLimit * gasPrice / 1e18 * (originPrice / nativePrice) * (1 + markup)
func transferFee(gasLimit uint64, gasPrice *big.Int, originPrice, nativePrice, markup decimal.Decimal) decimal.Decimal {
	feeInNative := decimal.NewFromBigInt(gasPrice, 0).
		Mul(decimal.NewFromBigInt(new(big.Int).SetUint64(gasLimit), 0)).
		Shift(-18)

	return feeInNative.
		Mul(originPrice).
		Div(nativePrice).
		Mul(decimal.NewFromInt(1).Add(markup))
}

// ceilRat returns the smallest integer >= r for non-negative r.
func ceilRat(r *big.Rat) *big.Int {
	q, rem := new(big.Int).QuoRem(r.Num(), r.Denom(), new(big.Int))
	if rem.Sign() > 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}
