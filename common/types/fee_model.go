package types

// FeeModel represents the fee scheme a chain uses for transaction pricing.
type FeeModel string

const (
	// FeeModelPriorityFee represents EIP-1559 style chains where a transaction
	// carries a max total fee and a separate priority tip.
	FeeModelPriorityFee FeeModel = "PRIORITY_FEE"
	// FeeModelLegacy represents chains priced with a single flat gas price.
	FeeModelLegacy FeeModel = "LEGACY"
	// FeeModelUnknown represents an unrecognized fee model in the system.
	FeeModelUnknown FeeModel = "UNKNOWN"
)

// String converts FeeModel to string representation.
func (m FeeModel) String() string {
	return string(m)
}

// ParseFeeModel converts string to FeeModel representation.
func ParseFeeModel(s string) FeeModel {
	switch s {
	case FeeModelPriorityFee.String(), "EIP1559", "eip1559":
		return FeeModelPriorityFee
	case FeeModelLegacy.String(), "legacy":
		return FeeModelLegacy
	default:
		return FeeModelUnknown
	}
}
