// Package pricefeed defines the price oracle capability consumed by the
// quote engine and the factory for its providers.
package pricefeed

import (
	"context"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/pricefeed/coingecko"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Oracle converts a currency identifier to its USD price. Prices are fetched
// fresh per quote; there is deliberately no caching layer.
type Oracle interface {
	// GetPrice returns the positive USD price of the currency, or an error
	// wrapping ErrPriceUnavailable.
	GetPrice(ctx context.Context, currency string) (decimal.Decimal, error)
}

// Provider identifies a price feed implementation.
type Provider string

// ProviderCoinGecko is the CoinGecko simple-price API.
const ProviderCoinGecko Provider = "coingecko"

// Config holds provider settings shared by all implementations.
type Config struct {
	BaseURL string
	APIKey  string
	// CoinIDs maps lowercased currency identifiers to provider coin ids.
	CoinIDs map[string]string
}

// New creates the oracle for the configured provider.
func New(provider Provider, cfg Config, logger *logrus.Logger) (Oracle, error) {
	switch provider {
	case ProviderCoinGecko:
		return coingecko.New(coingecko.Config{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			CoinIDs: cfg.CoinIDs,
		}, logger)
	default:
		return nil, errors.Wrapf(commonerrors.ErrInvalidConfig, "unknown price feed provider %q", provider)
	}
}
