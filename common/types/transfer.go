package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NativeAsset is the sentinel asset identifier for a chain's intrinsic
// gas-paying currency. Transfers of the native asset are plain value
// transfers, not token-contract calls.
const NativeAsset = "0x0000000000000000000000000000000000000000"

// IsNativeAsset reports whether the asset identifier denotes the chain's
// native currency rather than a token contract.
func IsNativeAsset(asset string) bool {
	return asset == "" || strings.EqualFold(asset, NativeAsset)
}

// TransferRequest represents a caller-provided cross-chain transfer to be
// quoted and later settled. It is never mutated by the engine.
//
// Amount is an arbitrary-precision non-negative integer string denominated in
// the smallest unit of the origin currency.
type TransferRequest struct {
	RequestID           string `json:"requestId" validate:"required"`
	RecipientAddress    string `json:"recipientAddress" validate:"required,eth_addr"`
	OriginChainID       uint64 `json:"originChainId" validate:"required"`
	DestinationChainID  uint64 `json:"destinationChainId" validate:"required"`
	OriginCurrency      string `json:"originCurrency" validate:"required"`
	DestinationCurrency string `json:"destinationCurrency" validate:"required"`
	Amount              string `json:"amount" validate:"required,number"`
}

// AmountInt parses the request amount as a non-negative integer.
func (r *TransferRequest) AmountInt() (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(r.Amount, 10)
	if !ok || amount.Sign() < 0 {
		return nil, false
	}
	return amount, true
}

// QuoteResult is the outcome of quoting a transfer. It is immutable once
// produced and acts as the contract for the subsequent settlement: the
// settlement transfers exactly DestinationOutputAmount.
//
// Fee is denominated in origin-currency units, DestinationOutputAmount in the
// smallest unit of the destination currency, TimeEstimate in seconds.
type QuoteResult struct {
	Fee                     decimal.Decimal `json:"fee"`
	DestinationOutputAmount *big.Int        `json:"destinationOutputAmount"`
	TimeEstimate            int64           `json:"timeEstimate"`
}

// QuoteRecord couples a transfer request with its quote result. It is the
// blob persisted between the quote and settle calls, keyed by the
// caller-supplied request ID.
type QuoteRecord struct {
	Request  TransferRequest `json:"request"`
	Result   QuoteResult     `json:"result"`
	QuotedAt time.Time       `json:"quotedAt"`
}
