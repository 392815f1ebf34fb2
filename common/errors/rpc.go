package errors

import "fmt"

// Stage identifies the RPC call within a quote or settlement pipeline that
// failed. Callers use it to decide whether retrying is nonce-safe: a failure
// before StageSubmit never reached the network, a failure at StageSubmit may
// have (retrying it risks double-submission).
type Stage string

const (
	StageEstimateGas Stage = "estimate_gas"
	StageGasPrice    Stage = "gas_price"
	StageFeeData     Stage = "fee_data"
	StageNonce       Stage = "nonce"
	StageSubmit      Stage = "submit"
)

// RPCError represents a transport or node-level failure of a single RPC call.
// It is surfaced to the caller as-is; the engine performs no internal retries.
type RPCError struct {
	Stage   Stage
	ChainID uint64
	Err     error
}

// NewRPCError wraps an upstream RPC failure with the stage and chain at which
// it occurred.
func NewRPCError(stage Stage, chainID uint64, err error) *RPCError {
	return &RPCError{Stage: stage, ChainID: chainID, Err: err}
}

// Error returns the string representation of the RPC error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc call failed at stage %s on chain %d: %v", e.Stage, e.ChainID, e.Err)
}

// Unwrap returns the upstream error.
func (e *RPCError) Unwrap() error {
	return e.Err
}
