package settle

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ClipFinance/rebalancer/feemodel"
	"github.com/ClipFinance/rebalancer/signer"
	"github.com/ClipFinance/rebalancer/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// well-known anvil test key, never funded on a real network
	testPrivateKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	recipientHex   = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	usdcOptimism   = "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85"
)

// fakeChainState serves canned chain state and records submitted
// transactions. The nonce advances only on submit, mirroring a node's
// pending-nonce behavior.
type fakeChainState struct {
	mu        sync.Mutex
	nonce     uint64
	gasLimit  uint64
	feeData   *types.FeeData
	submitted []*ethtypes.Transaction

	nonceErr  error
	gasErr    error
	feeErr    error
	submitErr error
}

func newFakeChainState() *fakeChainState {
	return &fakeChainState{
		gasLimit: 21000,
		feeData: &types.FeeData{
			MaxFeePerGas:         big.NewInt(30_000_000_000),
			MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
		},
	}
}

func (f *fakeChainState) PendingNonce(_ context.Context, _ uint64, _ common.Address) (uint64, error) {
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChainState) EstimateGas(_ context.Context, _ uint64, _, _ common.Address, _ *big.Int, _ []byte) (uint64, error) {
	if f.gasErr != nil {
		return 0, f.gasErr
	}
	return f.gasLimit, nil
}

func (f *fakeChainState) FeeData(_ context.Context, _ uint64) (*types.FeeData, error) {
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	return f.feeData, nil
}

func (f *fakeChainState) Submit(_ context.Context, _ uint64, tx *ethtypes.Transaction) (common.Hash, error) {
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, tx)
	f.nonce++
	return tx.Hash(), nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func newTestSubmitter(t *testing.T, state ChainState) *Submitter {
	t.Helper()

	builder, err := txbuilder.New(map[uint64]map[string]string{
		10: {"USDC": usdcOptimism},
	})
	require.NoError(t, err)

	resolver := feemodel.New(map[uint64]types.FeeModel{
		10: types.FeeModelPriorityFee,
		56: types.FeeModelLegacy,
	})

	txSigner, err := signer.NewFromHex(testPrivateKey)
	require.NoError(t, err)

	return NewSubmitter(quietLogger(), state, builder, resolver, txSigner)
}

func storedQuote(destCurrency, amount string) *types.QuoteRecord {
	out, _ := new(big.Int).SetString(amount, 10)
	return &types.QuoteRecord{
		Request: types.TransferRequest{
			RequestID:           "req-1",
			RecipientAddress:    recipientHex,
			OriginChainID:       1,
			DestinationChainID:  10,
			OriginCurrency:      "WETH",
			DestinationCurrency: destCurrency,
			Amount:              "1000000000000000000",
		},
		Result: types.QuoteResult{
			DestinationOutputAmount: out,
		},
		QuotedAt: time.Now().UTC(),
	}
}

func TestSettleNativeTransfer(t *testing.T) {
	state := newFakeChainState()
	submitter := newTestSubmitter(t, state)

	hash, err := submitter.Settle(context.Background(), storedQuote(types.NativeAsset, "2000"))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, hash)

	require.Len(t, state.submitted, 1)
	tx := state.submitted[0]

	// the submitted value is exactly the stored quote amount, never re-derived
	assert.Equal(t, "2000", tx.Value().String())
	assert.Empty(t, tx.Data())
	assert.Equal(t, uint64(0), tx.Nonce())
	// 10% pad over the 21000 estimate
	assert.Equal(t, uint64(23100), tx.Gas())
	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), tx.Type())

	// signed with the rebalancer key
	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(10)), tx)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), from)
}

func TestSettleTokenTransferUsesStoredAmount(t *testing.T) {
	state := newFakeChainState()
	submitter := newTestSubmitter(t, state)

	_, err := submitter.Settle(context.Background(), storedQuote("USDC", "123456"))
	require.NoError(t, err)

	require.Len(t, state.submitted, 1)
	tx := state.submitted[0]

	assert.Zero(t, tx.Value().Sign())
	require.Len(t, tx.Data(), 4+32+32)
	encodedAmount := new(big.Int).SetBytes(tx.Data()[4+32:])
	assert.Equal(t, "123456", encodedAmount.String())
	require.NotNil(t, tx.To())
	assert.Equal(t, common.HexToAddress(usdcOptimism), *tx.To())
}

func TestSettleLegacyChain(t *testing.T) {
	state := newFakeChainState()
	submitter := newTestSubmitter(t, state)

	record := storedQuote(types.NativeAsset, "5")
	record.Request.DestinationChainID = 56

	_, err := submitter.Settle(context.Background(), record)
	require.NoError(t, err)

	require.Len(t, state.submitted, 1)
	tx := state.submitted[0]
	assert.Equal(t, uint8(ethtypes.LegacyTxType), tx.Type())
	assert.Equal(t, state.feeData.MaxFeePerGas, tx.GasPrice())
}

func TestSettleSurfacesStage(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeChainState)
		stage commonerrors.Stage
	}{
		{"nonce fetch", func(f *fakeChainState) {
			f.nonceErr = commonerrors.NewRPCError(commonerrors.StageNonce, 10, errors.New("node down"))
		}, commonerrors.StageNonce},
		{"gas estimate", func(f *fakeChainState) {
			f.gasErr = commonerrors.NewRPCError(commonerrors.StageEstimateGas, 10, errors.New("revert"))
		}, commonerrors.StageEstimateGas},
		{"fee data", func(f *fakeChainState) {
			f.feeErr = commonerrors.NewRPCError(commonerrors.StageFeeData, 10, errors.New("timeout"))
		}, commonerrors.StageFeeData},
		{"submit", func(f *fakeChainState) {
			f.submitErr = commonerrors.NewRPCError(commonerrors.StageSubmit, 10, errors.New("underpriced"))
		}, commonerrors.StageSubmit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newFakeChainState()
			tt.setup(state)
			submitter := newTestSubmitter(t, state)

			_, err := submitter.Settle(context.Background(), storedQuote(types.NativeAsset, "1"))
			require.Error(t, err)

			var rpcErr *commonerrors.RPCError
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, tt.stage, rpcErr.Stage)
		})
	}
}

func TestSettleUnknownTokenMapping(t *testing.T) {
	state := newFakeChainState()
	submitter := newTestSubmitter(t, state)

	_, err := submitter.Settle(context.Background(), storedQuote("DAI", "1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, commonerrors.ErrUnknownTokenMapping))
	assert.Empty(t, state.submitted)
}

func TestSettleSerializesNonceAssignment(t *testing.T) {
	state := newFakeChainState()
	submitter := newTestSubmitter(t, state)

	const settlements = 8
	var wg sync.WaitGroup
	for i := 0; i < settlements; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := submitter.Settle(context.Background(), storedQuote(types.NativeAsset, "1"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Len(t, state.submitted, settlements)

	// every settlement must have observed a distinct nonce
	seen := make(map[uint64]bool, settlements)
	for _, tx := range state.submitted {
		assert.False(t, seen[tx.Nonce()], "duplicate nonce %d", tx.Nonce())
		seen[tx.Nonce()] = true
	}
}
