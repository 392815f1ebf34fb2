package feemodel

import (
	"math/big"

	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ClipFinance/rebalancer/txbuilder"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
)

// Resolver maps destination chains to their fee model and shapes final
// transactions accordingly. The model table is static per-chain
// configuration; no request ever changes it.
type Resolver struct {
	models map[uint64]types.FeeModel
}

// New creates a resolver from the per-chain fee model table.
func New(models map[uint64]types.FeeModel) *Resolver {
	table := make(map[uint64]types.FeeModel, len(models))
	for chainID, model := range models {
		table[chainID] = model
	}
	return &Resolver{models: table}
}

// Resolve returns the fee model for a chain. Chains absent from the table
// default to the priority-fee model.
func (r *Resolver) Resolve(chainID uint64) types.FeeModel {
	if model, ok := r.models[chainID]; ok {
		return model
	}
	return types.FeeModelPriorityFee
}

// Shape assembles the final transaction from the transfer template, the
// fetched chain state and the chain's fee model. Priority-fee chains copy
// MaxFeePerGas and MaxPriorityFeePerGas verbatim; legacy chains reuse
// MaxFeePerGas as the flat gas price so the single fee-data fetch serves
// both models.
func (r *Resolver) Shape(chainID uint64, tmpl *txbuilder.Template, nonce uint64, gasLimit uint64, feeData *types.FeeData) *ethtypes.Transaction {
	to := tmpl.To

	if r.Resolve(chainID) == types.FeeModelLegacy {
		return ethtypes.NewTx(&ethtypes.LegacyTx{
			Nonce:    nonce,
			GasPrice: feeData.MaxFeePerGas,
			Gas:      gasLimit,
			To:       &to,
			Value:    tmpl.Value,
			Data:     tmpl.Data,
		})
	}

	return ethtypes.NewTx(&ethtypes.DynamicFeeTx{
		ChainID:   new(big.Int).SetUint64(chainID),
		Nonce:     nonce,
		GasTipCap: feeData.MaxPriorityFeePerGas,
		GasFeeCap: feeData.MaxFeePerGas,
		Gas:       gasLimit,
		To:        &to,
		Value:     tmpl.Value,
		Data:      tmpl.Data,
	})
}
