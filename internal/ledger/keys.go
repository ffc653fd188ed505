/**
 * @description
 * Ed25519 key pairs and account address validation, backed by the network SDK's
 * keypair and strkey packages.
 *
 * @dependencies
 * - github.com/stellar/go/keypair: key generation, seed parsing and signing.
 * - github.com/stellar/go/strkey: "G..." address validation.
 */

package ledger

import (
	"fmt"
	"strings"

	"github.com/stellar/go/keypair"
	"github.com/stellar/go/strkey"
	"github.com/transfa/disbursement-service/internal/domain"
)

// KeyPair is a signing key with its encoded address and seed.
type KeyPair = keypair.Full

// RandomKeyPair generates a fresh key pair.
func RandomKeyPair() (*KeyPair, error) {
	kp, err := keypair.Random()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}
	return kp, nil
}

// ParseSecret decodes an encoded secret seed ("S...") into a key pair.
func ParseSecret(secret string) (*KeyPair, error) {
	kp, err := keypair.ParseFull(strings.TrimSpace(secret))
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidCredential, err, "signer credential is not a valid secret seed")
	}
	return kp, nil
}

// IsValidAddress reports whether address is a well-formed ed25519 account address.
func IsValidAddress(address string) bool {
	return strkey.IsValidEd25519PublicKey(strings.TrimSpace(address))
}
