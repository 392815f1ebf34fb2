package signer

import (
	"crypto/ecdsa"
	"math/big"
	"strings"

	commonerrors "github.com/ClipFinance/rebalancer/common/errors"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// Signer signs settlement transactions with the rebalancer's credential.
type Signer interface {
	// SignTx signs the given transaction for the specified chain ID.
	SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)

	// Address returns the rebalancer's account address.
	Address() common.Address
}

type signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewFromHex creates a signer from a hex-encoded private key, with or without
// the 0x prefix.
func NewFromHex(hexKey string) (Signer, error) {
	if hexKey == "" {
		return nil, commonerrors.ErrSignerNotConfigured
	}

	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse private key")
	}

	pubKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, errors.New("cannot assign public key to ECDSA")
	}

	return &signer{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(*pubKey),
	}, nil
}

// Address returns the rebalancer's account address.
func (s *signer) Address() common.Address {
	return s.address
}

// SignTx signs the given transaction for the specified chain ID.
func (s *signer) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(s.privateKey, chainID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create keyed transactor")
	}

	signedTx, err := auth.Signer(s.address, tx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	return signedTx, nil
}
