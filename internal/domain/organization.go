package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization owns campaigns and receives their funds through its wallet.
type Organization struct {
	ID            uuid.UUID `json:"id"`
	Name          string    `json:"name"`
	WalletAddress string    `json:"wallet_address"`
	Verified      bool      `json:"verified"`
	Email         *string   `json:"email,omitempty"`
	Description   *string   `json:"description,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
