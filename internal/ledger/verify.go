package ledger

import (
	"github.com/stellar/go/keypair"
	"github.com/transfa/disbursement-service/internal/domain"
)

// SignatureWeight sums the weights of the account's signers that produced a valid
// signature on env. Each signer counts once no matter how often it signed.
func SignatureWeight(env *Envelope, passphrase string, account *Account) (int, error) {
	hash, err := env.Hash(passphrase)
	if err != nil {
		return 0, domain.Wrap(domain.KindInternal, err, "failed to hash transaction")
	}
	total := 0
	for _, signer := range account.Signers {
		if signer.Weight <= 0 {
			continue
		}
		// Pre-auth and hash-x signers are not ed25519 keys.
		kp, err := keypair.ParseAddress(signer.Key)
		if err != nil {
			continue
		}
		hint := kp.Hint()
		for _, sig := range env.Signatures() {
			if sig.Hint != hint {
				continue
			}
			if kp.Verify(hash[:], sig.Signature) == nil {
				total += signer.Weight
				break
			}
		}
	}
	return total, nil
}
