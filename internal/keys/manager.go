package keys

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"launchpilot/internal/config"
)

// Signer authorizes every outbound transaction for the operating wallet.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// FromConfig picks the keystore when one is configured, otherwise the raw key
// from the environment variable named in wallet.private_key_env.
func FromConfig(cfg *config.Config) (Signer, error) {
	if cfg.Wallet.KeystoreDir != "" {
		passphrase := os.Getenv(cfg.Wallet.PassphraseEnv)
		m, err := NewManager(cfg.Wallet.KeystoreDir, passphrase)
		if err != nil {
			return nil, err
		}
		return m.Signer(common.HexToAddress(cfg.Wallet.Address))
	}
	raw := strings.TrimSpace(os.Getenv(cfg.Wallet.PrivateKeyEnv))
	if raw == "" {
		return nil, &config.Error{Field: "wallet.private_key_env", Reason: fmt.Sprintf("env %s is empty", cfg.Wallet.PrivateKeyEnv)}
	}
	return NewPrivateKeySigner(raw)
}

type PrivateKeySigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewPrivateKeySigner(hexKey string) (*PrivateKeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		// The key itself must never end up in an error string.
		return nil, &config.Error{Field: "wallet.private_key", Reason: "not a valid secp256k1 hex key"}
	}
	return &PrivateKeySigner{key: key, addr: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

func (s *PrivateKeySigner) Address() common.Address {
	return s.addr
}

func (s *PrivateKeySigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
}

// Manager wraps an on-disk go-ethereum keystore.
type Manager struct {
	ks         *keystore.KeyStore
	passphrase string
}

func NewManager(dir string, passphrase string) (*Manager, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("keystore dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	ks := keystore.NewKeyStore(dir, keystore.StandardScryptN, keystore.StandardScryptP)
	return &Manager{ks: ks, passphrase: passphrase}, nil
}

func (m *Manager) FindAccount(addr common.Address) (accounts.Account, error) {
	for _, acct := range m.ks.Accounts() {
		if acct.Address == addr {
			return acct, nil
		}
	}
	return accounts.Account{}, fmt.Errorf("account %s not found in keystore", addr.Hex())
}

func (m *Manager) SignTransaction(addr common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	if m.passphrase == "" {
		return nil, errors.New("keystore passphrase is empty")
	}
	acct, err := m.FindAccount(addr)
	if err != nil {
		return nil, err
	}
	return m.ks.SignTxWithPassphrase(acct, m.passphrase, tx, chainID)
}

// Signer binds the manager to one account.
func (m *Manager) Signer(addr common.Address) (Signer, error) {
	if m.passphrase == "" {
		return nil, &config.Error{Field: "wallet.passphrase_env", Reason: "keystore passphrase is empty"}
	}
	if _, err := m.FindAccount(addr); err != nil {
		return nil, &config.Error{Field: "wallet.address", Reason: err.Error()}
	}
	return &keystoreSigner{m: m, addr: addr}, nil
}

type keystoreSigner struct {
	m    *Manager
	addr common.Address
}

func (s *keystoreSigner) Address() common.Address {
	return s.addr
}

func (s *keystoreSigner) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return s.m.SignTransaction(s.addr, tx, chainID)
}
