package ledger

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"

	"github.com/fluxapi/fluxgate"
)

// ParsePrivateKey parses an operator signing key from any of the supported
// encodings: a base58 string, a Solana keygen JSON byte array, or a BIP-39
// mnemonic phrase.
func ParsePrivateKey(raw string) (solana.PrivateKey, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fluxgate.ErrInvalidKey
	}

	// JSON array format: [123, 45, 67, ...]
	if strings.HasPrefix(raw, "[") {
		var keyBytes []byte
		if err := json.Unmarshal([]byte(raw), &keyBytes); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON key format", fluxgate.ErrInvalidKey)
		}
		if len(keyBytes) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("%w: invalid key length %d", fluxgate.ErrInvalidKey, len(keyBytes))
		}
		return solana.PrivateKey(keyBytes), nil
	}

	// Mnemonic phrases contain spaces; base58 keys never do.
	if strings.Contains(raw, " ") {
		return keyFromMnemonic(raw)
	}

	key, err := solana.PrivateKeyFromBase58(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fluxgate.ErrInvalidKey, err)
	}
	return key, nil
}

// keyFromMnemonic derives an ed25519 keypair from a BIP-39 mnemonic with an
// empty passphrase, using the first 32 seed bytes.
func keyFromMnemonic(mnemonic string) (solana.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("%w: invalid mnemonic", fluxgate.ErrInvalidKey)
	}
	seed := bip39.NewSeed(mnemonic, "")
	key := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return solana.PrivateKey(key), nil
}

// ValidAddress reports whether the string is a well-formed Solana public key
// lying on the ed25519 curve.
func ValidAddress(address string) bool {
	key, err := solana.PublicKeyFromBase58(strings.TrimSpace(address))
	if err != nil {
		return false
	}
	return key.IsOnCurve()
}
