package app

import (
	"context"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/internal/store"
	"go.uber.org/zap"
)

// CreateOrganizationRequest is the input of CreateOrganization.
type CreateOrganizationRequest struct {
	Name          string
	WalletAddress string
	Email         string
	Description   string
}

// UpdateOrganizationRequest carries the fields to change; nil leaves a field as is.
type UpdateOrganizationRequest struct {
	Name        *string
	Email       *string
	Description *string
	Verified    *bool
}

func validateEmail(email string) error {
	if email == "" {
		return nil
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return domain.Errorf(domain.KindInvalidInput, "email %q is not a valid address", email)
	}
	return nil
}

// CreateOrganization registers an unverified organization. Wallet addresses are unique.
func (s *Service) CreateOrganization(ctx context.Context, req CreateOrganizationRequest, actor string) (*domain.Organization, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.Errorf(domain.KindInvalidInput, "organization name is required")
	}
	wallet := strings.TrimSpace(req.WalletAddress)
	if !s.gateway.IsValidAddress(wallet) {
		return nil, domain.Errorf(domain.KindInvalidInput, "wallet address %q is not a valid address", wallet)
	}
	email := strings.TrimSpace(req.Email)
	if err := validateEmail(email); err != nil {
		return nil, err
	}

	now := s.timestamp()
	o := &domain.Organization{
		ID:            uuid.New(),
		Name:          name,
		WalletAddress: wallet,
		Email:         optionalString(email),
		Description:   optionalString(req.Description),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateOrganization(ctx, o); err != nil {
		return nil, storeError(err, "create organization")
	}
	s.audit(ctx, "organization", o.ID, "created", actor, map[string]string{"wallet_address": wallet})
	s.logger.Info("organization created", zap.String("organization_id", o.ID.String()), zap.String("wallet_address", wallet))
	return o, nil
}

func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (*domain.Organization, error) {
	o, err := s.repo.FindOrganizationByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "find organization "+id.String())
	}
	return o, nil
}

func (s *Service) GetOrganizationByWallet(ctx context.Context, wallet string) (*domain.Organization, error) {
	wallet = strings.TrimSpace(wallet)
	if !s.gateway.IsValidAddress(wallet) {
		return nil, domain.Errorf(domain.KindInvalidInput, "wallet address %q is not a valid address", wallet)
	}
	o, err := s.repo.FindOrganizationByWallet(ctx, wallet)
	if err != nil {
		return nil, storeError(err, "find organization by wallet "+wallet)
	}
	return o, nil
}

func (s *Service) ListOrganizations(ctx context.Context, filter store.OrganizationFilter) ([]domain.Organization, error) {
	organizations, err := s.repo.ListOrganizations(ctx, filter)
	if err != nil {
		return nil, storeError(err, "list organizations")
	}
	return organizations, nil
}

// UpdateOrganization changes an organization's profile or verification flag.
func (s *Service) UpdateOrganization(ctx context.Context, id uuid.UUID, req UpdateOrganizationRequest, actor string) (*domain.Organization, error) {
	details := map[string]string{}
	updated, err := s.repo.UpdateOrganization(ctx, id, func(o *domain.Organization) error {
		if req.Name != nil {
			name := strings.TrimSpace(*req.Name)
			if name == "" {
				return domain.Errorf(domain.KindInvalidInput, "organization name must not be empty")
			}
			o.Name = name
			details["name"] = name
		}
		if req.Email != nil {
			email := strings.TrimSpace(*req.Email)
			if err := validateEmail(email); err != nil {
				return err
			}
			o.Email = optionalString(email)
			details["email"] = email
		}
		if req.Description != nil {
			o.Description = optionalString(*req.Description)
			details["description"] = "changed"
		}
		if req.Verified != nil {
			o.Verified = *req.Verified
			details["verified"] = strconv.FormatBool(*req.Verified)
		}
		o.UpdatedAt = s.timestamp()
		return nil
	})
	if err != nil {
		return nil, storeError(err, "update organization")
	}
	s.audit(ctx, "organization", id, "updated", actor, details)
	return updated, nil
}
