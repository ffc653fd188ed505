package app

import (
	"context"
	"strings"

	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/ledger"
)

// ValidateAddress reports whether address is a well-formed ledger account address.
func (s *Service) ValidateAddress(address string) bool {
	return s.gateway.IsValidAddress(strings.TrimSpace(address))
}

// LedgerAccount loads an account's balances, signers and thresholds from the ledger.
func (s *Service) LedgerAccount(ctx context.Context, address string) (*ledger.Account, error) {
	address = strings.TrimSpace(address)
	if !s.gateway.IsValidAddress(address) {
		return nil, domain.Errorf(domain.KindInvalidInput, "%q is not a valid ledger address", address)
	}
	lctx, cancel := s.ledgerContext(ctx)
	defer cancel()
	return s.gateway.LoadAccount(lctx, address)
}
