package account

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip32"
	"github.com/tyler-smith/go-bip39"

	"github.com/gateway-fm/accessledger/pkg/types"
)

// DefaultEntropyBits gives a 12-word mnemonic.
const DefaultEntropyBits = 128

// Identity is a freshly created keypair together with the phrase it came from.
type Identity struct {
	Mnemonic string
	*Account
}

// Factory creates identities from bip39 mnemonics along a fixed derivation path.
type Factory struct {
	path        accounts.DerivationPath
	entropyBits int
}

// NewFactory returns a factory deriving keys at path (e.g. "m/44'/60'/0'/0/0").
// An empty path selects the default Ethereum account path.
func NewFactory(path string) (*Factory, error) {
	dp := accounts.DefaultBaseDerivationPath
	if path != "" {
		parsed, err := accounts.ParseDerivationPath(path)
		if err != nil {
			return nil, fmt.Errorf("parse derivation path %q: %w", path, err)
		}
		dp = parsed
	}
	return &Factory{path: dp, entropyBits: DefaultEntropyBits}, nil
}

// Create derives an identity from phrase, or from a fresh random phrase when phrase is empty.
// An unusable phrase returns *types.InvalidSeedError.
func (f *Factory) Create(phrase string) (*Identity, error) {
	phrase = strings.Join(strings.Fields(phrase), " ")
	if phrase == "" {
		entropy, err := bip39.NewEntropy(f.entropyBits)
		if err != nil {
			return nil, fmt.Errorf("generate entropy: %w", err)
		}
		phrase, err = bip39.NewMnemonic(entropy)
		if err != nil {
			return nil, fmt.Errorf("generate mnemonic: %w", err)
		}
	}

	seed, err := bip39.NewSeedWithErrorChecking(phrase, "")
	if err != nil {
		return nil, &types.InvalidSeedError{Err: err}
	}

	key, err := deriveKey(seed, f.path)
	if err != nil {
		return nil, &types.InvalidSeedError{Err: err}
	}

	return &Identity{Mnemonic: phrase, Account: NewAccount(key)}, nil
}

// deriveKey walks a BIP-32 private derivation from seed along path.
func deriveKey(seed []byte, path accounts.DerivationPath) (*ecdsa.PrivateKey, error) {
	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, index := range path {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, fmt.Errorf("derive child %d: %w", index, err)
		}
	}
	return crypto.ToECDSA(key.Key)
}
