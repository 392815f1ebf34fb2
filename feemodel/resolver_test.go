package feemodel

import (
	"math/big"
	"testing"

	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ClipFinance/rebalancer/txbuilder"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testResolver() *Resolver {
	return New(map[uint64]types.FeeModel{
		1:     types.FeeModelPriorityFee,
		56:    types.FeeModelLegacy,
		42161: types.FeeModelPriorityFee,
	})
}

func testTemplate() *txbuilder.Template {
	return &txbuilder.Template{
		To:    common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8"),
		Value: big.NewInt(1000),
	}
}

func testFeeData() *types.FeeData {
	return &types.FeeData{
		MaxFeePerGas:         big.NewInt(30_000_000_000),
		MaxPriorityFeePerGas: big.NewInt(1_000_000_000),
	}
}

func TestResolveIsPure(t *testing.T) {
	resolver := testResolver()

	first := resolver.Resolve(56)
	for i := 0; i < 100; i++ {
		assert.Equal(t, first, resolver.Resolve(56))
	}
	assert.Equal(t, types.FeeModelLegacy, first)
}

func TestResolveDefaultsToPriorityFee(t *testing.T) {
	resolver := testResolver()
	assert.Equal(t, types.FeeModelPriorityFee, resolver.Resolve(424242))
}

func TestShapePriorityFee(t *testing.T) {
	resolver := testResolver()
	feeData := testFeeData()

	tx := resolver.Shape(1, testTemplate(), 7, 21000, feeData)

	assert.Equal(t, uint8(ethtypes.DynamicFeeTxType), tx.Type())
	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(21000), tx.Gas())
	assert.Equal(t, feeData.MaxFeePerGas, tx.GasFeeCap())
	assert.Equal(t, feeData.MaxPriorityFeePerGas, tx.GasTipCap())
	assert.Equal(t, big.NewInt(1), tx.ChainId())
}

func TestShapeLegacyReusesMaxFeeAsGasPrice(t *testing.T) {
	resolver := testResolver()
	feeData := testFeeData()

	tx := resolver.Shape(56, testTemplate(), 3, 60000, feeData)

	assert.Equal(t, uint8(ethtypes.LegacyTxType), tx.Type())
	assert.Equal(t, uint64(3), tx.Nonce())
	// legacy chains take the fee-data max fee verbatim as the flat gas price
	assert.Equal(t, feeData.MaxFeePerGas, tx.GasPrice())
}

func TestShapeCarriesTemplateFields(t *testing.T) {
	resolver := testResolver()
	tmpl := testTemplate()
	tmpl.Data = []byte{0xa9, 0x05, 0x9c, 0xbb}

	tx := resolver.Shape(1, tmpl, 0, 21000, testFeeData())

	require.NotNil(t, tx.To())
	assert.Equal(t, tmpl.To, *tx.To())
	assert.Equal(t, tmpl.Value, tx.Value())
	assert.Equal(t, tmpl.Data, tx.Data())
}
