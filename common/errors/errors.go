package errors

import "github.com/pkg/errors"

var (
	ErrInvalidConfig       = errors.New("invalid rebalancer configuration")
	ErrChainNotConfigured  = errors.New("chain has no configured rpc endpoints")
	ErrUnknownTokenMapping = errors.New("no token contract registered for currency on chain")
	ErrPriceUnavailable    = errors.New("currency price unavailable")
	ErrStaleQuote          = errors.New("no stored quote for request id")
	ErrInvalidAmount       = errors.New("amount must be a non-negative integer string")
	ErrSignerNotConfigured = errors.New("signing credential not configured")
)
