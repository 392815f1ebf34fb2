package types

import "math/big"

// FeeData holds the network fee parameters fetched from a chain's RPC
// endpoint. MaxFeePerGas and MaxPriorityFeePerGas are always populated; on
// legacy chains MaxFeePerGas doubles as the flat gas price so a single
// fee-data call serves both fee models.
type FeeData struct {
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}
