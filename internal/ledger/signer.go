/**
 * @description
 * Signature aggregation for multi-signature envelopes.
 *
 * @notes
 * - Apply is pure: it returns a new envelope and never mutates its input.
 * - Signatures cover only the transaction body, so the order in which credentials
 *   are applied does not change the transaction id or whether the ledger accepts it.
 * - ApplyAll computes signatures concurrently, then attaches them in one sequential
 *   pass in the order the credentials were supplied.
 *
 * @dependencies
 * - github.com/sourcegraph/conc/iter: ordered parallel map for signature computation.
 * - github.com/stellar/go/xdr: decorated signatures.
 */

package ledger

import (
	"context"
	"strconv"

	"github.com/sourcegraph/conc/iter"
	"github.com/stellar/go/xdr"
	"github.com/transfa/disbursement-service/internal/domain"
)

// Aggregator applies signer credentials to envelopes for one network.
type Aggregator struct {
	passphrase string
}

func NewAggregator(passphrase string) *Aggregator {
	if passphrase == "" {
		passphrase = DefaultNetworkPassphrase
	}
	return &Aggregator{passphrase: passphrase}
}

// ParseCredentials decodes secret seeds into key pairs. Any malformed seed fails the
// whole batch with InvalidCredential.
func ParseCredentials(secrets []string) ([]*KeyPair, error) {
	if len(secrets) == 0 {
		return nil, domain.Errorf(domain.KindInvalidCredential, "at least one signer credential is required")
	}
	keys := make([]*KeyPair, 0, len(secrets))
	for i, secret := range secrets {
		kp, err := ParseSecret(secret)
		if err != nil {
			if de, ok := domain.AsError(err); ok {
				return nil, de.With("credential_index", strconv.Itoa(i))
			}
			return nil, err
		}
		keys = append(keys, kp)
	}
	return keys, nil
}

// Sign produces the decorated signature of kp over env.
func (a *Aggregator) Sign(env *Envelope, kp *KeyPair) (xdr.DecoratedSignature, error) {
	hash, err := env.Hash(a.passphrase)
	if err != nil {
		return xdr.DecoratedSignature{}, domain.Wrap(domain.KindInternal, err, "failed to hash transaction")
	}
	return kp.SignDecorated(hash[:])
}

// Apply returns env with kp's signature attached. Signing twice with the same key is a no-op.
func (a *Aggregator) Apply(env *Envelope, kp *KeyPair) (*Envelope, error) {
	sig, err := a.Sign(env, kp)
	if err != nil {
		return nil, err
	}
	return attach(env, sig)
}

type signResult struct {
	sig xdr.DecoratedSignature
	err error
}

// ApplyAll authorizes every credential against the source account, computes the
// signatures in parallel and attaches them in caller order.
func (a *Aggregator) ApplyAll(ctx context.Context, built *BuiltEnvelope, keys []*KeyPair) (*Envelope, error) {
	if len(keys) == 0 {
		return nil, domain.Errorf(domain.KindInvalidCredential, "at least one signer credential is required")
	}
	for _, kp := range keys {
		if built.Account.SignerWeight(kp.Address()) <= 0 {
			return nil, domain.Errorf(domain.KindInvalidCredential, "%s is not an authorized signer of %s", kp.Address(), built.Account.Address).
				With("signer", kp.Address())
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, domain.Wrap(domain.KindTimeout, err, "signing aborted")
	}

	hash, err := built.Envelope.Hash(a.passphrase)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to hash transaction")
	}
	results := iter.Map(keys, func(kp **KeyPair) signResult {
		sig, err := (*kp).SignDecorated(hash[:])
		return signResult{sig: sig, err: err}
	})

	env := built.Envelope
	for i, r := range results {
		if r.err != nil {
			return nil, domain.Wrap(domain.KindInvalidCredential, r.err, "signing failed").
				With("signer", keys[i].Address())
		}
		if env, err = attach(env, r.sig); err != nil {
			return nil, err
		}
	}
	return env, nil
}

func attach(env *Envelope, sig xdr.DecoratedSignature) (*Envelope, error) {
	if HasSignature(env, sig) {
		return env, nil
	}
	out, err := env.AddSignatureDecorated(sig)
	if err != nil {
		return nil, domain.Wrap(domain.KindInternal, err, "failed to attach signature")
	}
	return out, nil
}
