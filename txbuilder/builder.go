package txbuilder

import (
	"math/big"
	"strings"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ClipFinance/rebalancer/common/types"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// erc20TransferABI is the only fragment of the ERC-20 ABI the builder needs.
const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}]`

var erc20ABI abi.ABI

func init() {
	var err error
	erc20ABI, err = abi.JSON(strings.NewReader(erc20TransferABI))
	if err != nil {
		panic(errors.Wrap(err, "failed to parse ERC-20 transfer ABI"))
	}
}

// Template is an unsigned transfer payload. Data is non-empty iff the
// transfer targets a token contract; Value is non-zero iff the transfer is of
// the native asset.
type Template struct {
	To    common.Address
	Value *big.Int
	Data  []byte
}

// Builder constructs unsigned transfer templates for native and token
// transfers. The token table is read-only after construction.
type Builder struct {
	// tokens maps chain ID -> upper-cased symbol -> token contract address.
	tokens map[uint64]map[string]common.Address
}

// New creates a builder with the static per-chain-per-symbol token contract
// table. Malformed contract addresses are a fatal configuration error.
func New(tokens map[uint64]map[string]string) (*Builder, error) {
	table := make(map[uint64]map[string]common.Address, len(tokens))
	for chainID, symbols := range tokens {
		table[chainID] = make(map[string]common.Address, len(symbols))
		for symbol, address := range symbols {
			if !common.IsHexAddress(address) {
				return nil, errors.Wrapf(commonerrors.ErrInvalidConfig,
					"token %s on chain %d: invalid contract address %q", symbol, chainID, address)
			}
			table[chainID][strings.ToUpper(symbol)] = common.HexToAddress(address)
		}
	}
	return &Builder{tokens: table}, nil
}

// Build constructs the unsigned transfer template for the given currency,
// recipient and amount on the destination chain. The native-asset sentinel
// yields a plain value transfer; anything else yields an ERC-20 transfer
// call against the resolved token contract.
func (b *Builder) Build(chainID uint64, currency string, recipient common.Address, amount *big.Int) (*Template, error) {
	if types.IsNativeAsset(currency) {
		return &Template{
			To:    recipient,
			Value: new(big.Int).Set(amount),
		}, nil
	}

	contract, err := b.resolveContract(chainID, currency)
	if err != nil {
		return nil, err
	}

	data, err := erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return nil, errors.Wrap(err, "failed to pack transfer data")
	}

	return &Template{
		To:    contract,
		Value: big.NewInt(0),
		Data:  data,
	}, nil
}

// resolveContract maps a currency identifier to its token contract. Hex
// addresses are used directly; symbols go through the static table.
func (b *Builder) resolveContract(chainID uint64, currency string) (common.Address, error) {
	if common.IsHexAddress(currency) {
		return common.HexToAddress(currency), nil
	}

	contract, ok := b.tokens[chainID][strings.ToUpper(currency)]
	if !ok {
		return common.Address{}, errors.Wrapf(commonerrors.ErrUnknownTokenMapping,
			"currency %s on chain %d", currency, chainID)
	}
	return contract, nil
}
