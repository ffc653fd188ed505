/**
 * @description
 * Transaction envelopes are the network's XDR TransactionEnvelope, handled through
 * txnbuild. Envelopes travel as base64 XDR text and their id is the network hash of
 * the transaction body, so signatures never change it.
 *
 * @dependencies
 * - github.com/stellar/go/txnbuild: envelope model, hashing and XDR codec.
 * - github.com/stellar/go/network: network passphrases.
 */

package ledger

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/stellar/go/network"
	"github.com/stellar/go/txnbuild"
	"github.com/stellar/go/xdr"
	"github.com/transfa/disbursement-service/internal/domain"
)

// DefaultNetworkPassphrase identifies the public test network.
const DefaultNetworkPassphrase = network.TestNetworkPassphrase

// TxIDLength is the length of a hex transaction id.
const TxIDLength = 64

// Envelope is a transaction with the signatures collected so far. Values are
// immutable: adding a signature returns a new Envelope.
type Envelope = txnbuild.Transaction

// HasSignature reports whether sig is already attached to env.
func HasSignature(env *Envelope, sig xdr.DecoratedSignature) bool {
	for _, existing := range env.Signatures() {
		if existing.Hint == sig.Hint && bytes.Equal(existing.Signature, sig.Signature) {
			return true
		}
	}
	return false
}

// EncodeEnvelope serializes an envelope to base64 XDR.
func EncodeEnvelope(env *Envelope) (string, error) {
	encoded, err := env.Base64()
	if err != nil {
		return "", domain.Wrap(domain.KindInternal, err, "failed to encode envelope")
	}
	return encoded, nil
}

// DecodeEnvelope parses base64 XDR text. Fee-bump envelopes are not accepted.
func DecodeEnvelope(text string) (*Envelope, error) {
	generic, err := txnbuild.TransactionFromXDR(strings.TrimSpace(text))
	if err != nil {
		return nil, domain.Wrap(domain.KindInvalidInput, err, "envelope is not valid transaction XDR")
	}
	tx, ok := generic.Transaction()
	if !ok {
		return nil, domain.Errorf(domain.KindInvalidInput, "fee-bump envelopes are not supported")
	}
	return tx, nil
}

// IsValidTxID reports whether id looks like a transaction id.
func IsValidTxID(id string) bool {
	if len(id) != TxIDLength {
		return false
	}
	_, err := hex.DecodeString(id)
	return err == nil
}
