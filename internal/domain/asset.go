package domain

import "strings"

// NativeAssetCode is the code of the ledger's native asset, which has no issuer.
const NativeAssetCode = "XLM"

// DefaultAssetCode is used for campaigns created without an explicit asset.
const DefaultAssetCode = "USDC"

// Asset is a fungible asset identified by code and, for issued assets, issuer account.
type Asset struct {
	Code   string `json:"code"`
	Issuer string `json:"issuer,omitempty"`
}

func (a Asset) IsNative() bool {
	return strings.EqualFold(a.Code, NativeAssetCode) && a.Issuer == ""
}

func (a Asset) String() string {
	if a.IsNative() {
		return NativeAssetCode
	}
	return a.Code + ":" + a.Issuer
}
