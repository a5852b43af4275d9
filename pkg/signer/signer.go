// Package signer produces marketplace partner API request signatures.
package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Input is the material covered by a signature. AccessToken and ShopID are
// part of the signed base string when the call declares them through
// WithToken and WithShop, whatever their values.
type Input struct {
	PartnerID   int64
	Path        string
	Timestamp   int64
	AccessToken string
	ShopID      int64

	WithToken bool
	WithShop  bool
}

// Signer computes a request signature.
type Signer interface {
	Sign(in Input) string
}

// HMAC signs with HMAC-SHA256 keyed by the partner key over
// partner_id + path + timestamp [+ access_token] [+ shop_id], hex encoded.
type HMAC struct {
	key []byte
}

// NewHMAC creates an HMAC signer for the given partner key.
func NewHMAC(partnerKey string) *HMAC {
	return &HMAC{key: []byte(partnerKey)}
}

// Sign implements Signer.
func (h *HMAC) Sign(in Input) string {
	mac := hmac.New(sha256.New, h.key)
	mac.Write([]byte(BaseString(in)))
	return hex.EncodeToString(mac.Sum(nil))
}

// BaseString returns the string that gets signed.
func BaseString(in Input) string {
	base := strconv.FormatInt(in.PartnerID, 10) + in.Path + strconv.FormatInt(in.Timestamp, 10)
	if in.WithToken {
		base += in.AccessToken
	}
	if in.WithShop {
		base += strconv.FormatInt(in.ShopID, 10)
	}
	return base
}
