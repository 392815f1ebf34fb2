package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	requestTimeout = 10 * time.Second
	// usdDecimals fixes the precision USD prices are truncated to, matching
	// the 6-decimal scaling of the price feed consumers.
	usdDecimals = 6
)

// Config holds the CoinGecko client settings.
type Config struct {
	BaseURL string
	APIKey  string
	// CoinIDs maps lowercased currency identifiers (token contract addresses
	// or the native-asset sentinel) to CoinGecko coin ids.
	CoinIDs map[string]string
}

// Client fetches USD prices from the CoinGecko simple-price API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	coinIDs    map[string]string
	logger     *logrus.Logger
}

// New creates a CoinGecko price feed client. A missing API key is a fatal
// configuration error.
func New(cfg Config, logger *logrus.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(commonerrors.ErrInvalidConfig, "missing coingecko api key")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	coinIDs := make(map[string]string, len(cfg.CoinIDs))
	for currency, id := range cfg.CoinIDs {
		coinIDs[strings.ToLower(currency)] = id
	}

	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		coinIDs:    coinIDs,
		logger:     logger,
	}, nil
}

// GetPrice returns the USD price of the currency truncated to 6 decimals.
func (c *Client) GetPrice(ctx context.Context, currency string) (decimal.Decimal, error) {
	coinID, ok := c.coinIDs[strings.ToLower(currency)]
	if !ok {
		return decimal.Zero, errors.Wrapf(commonerrors.ErrPriceUnavailable, "no coin id for currency %s", currency)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(coinID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "failed to create price request")
	}
	req.Header.Set("x-cg-demo-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrapf(commonerrors.ErrPriceUnavailable, "price request for %s: %v", coinID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.WithFields(logrus.Fields{
			"coinId": coinID,
			"status": resp.StatusCode,
		}).Warn("Price feed returned non-OK status")
		return decimal.Zero, errors.Wrapf(commonerrors.ErrPriceUnavailable, "price request for %s: status %d", coinID, resp.StatusCode)
	}

	var payload map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return decimal.Zero, errors.Wrapf(commonerrors.ErrPriceUnavailable, "failed to decode price response for %s: %v", coinID, err)
	}

	raw, ok := payload[coinID]["usd"]
	if !ok {
		return decimal.Zero, errors.Wrapf(commonerrors.ErrPriceUnavailable, "no usd price for %s in response", coinID)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil || !price.IsPositive() {
		return decimal.Zero, errors.Wrapf(commonerrors.ErrPriceUnavailable, "invalid usd price %q for %s", raw.String(), coinID)
	}

	return price.Truncate(usdDecimals), nil
}
