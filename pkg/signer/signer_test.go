package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestBaseString(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want string
	}{
		{
			name: "public call",
			in:   Input{PartnerID: 1001, Path: "/api/v2/auth/token/get", Timestamp: 1700000000},
			want: "1001/api/v2/auth/token/get1700000000",
		},
		{
			name: "token only",
			in:   Input{PartnerID: 1001, Path: "/api/v2/x", Timestamp: 1700000000, AccessToken: "tok", WithToken: true},
			want: "1001/api/v2/x1700000000tok",
		},
		{
			name: "token and shop",
			in:   Input{PartnerID: 1001, Path: "/api/v2/x", Timestamp: 1700000000, AccessToken: "tok", ShopID: 42, WithToken: true, WithShop: true},
			want: "1001/api/v2/x1700000000tok42",
		},
		{
			name: "undeclared values ignored",
			in:   Input{PartnerID: 1001, Path: "/api/v2/x", Timestamp: 1700000000, AccessToken: "tok", ShopID: 42},
			want: "1001/api/v2/x1700000000",
		},
		{
			name: "declared shop with empty token",
			in:   Input{PartnerID: 1001, Path: "/api/v2/x", Timestamp: 1700000000, ShopID: 42, WithToken: true, WithShop: true},
			want: "1001/api/v2/x170000000042",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BaseString(tt.in); got != tt.want {
				t.Errorf("BaseString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHMAC_Sign(t *testing.T) {
	s := NewHMAC("secret")
	in := Input{PartnerID: 1001, Path: "/api/v2/x", Timestamp: 1700000000, AccessToken: "tok", ShopID: 42, WithToken: true, WithShop: true}

	mac := hmac.New(sha256.New, []byte("secret"))
	mac.Write([]byte("1001/api/v2/x1700000000tok42"))
	want := hex.EncodeToString(mac.Sum(nil))

	if got := s.Sign(in); got != want {
		t.Errorf("Sign() = %q, want %q", got, want)
	}

	in.AccessToken = "other"
	if s.Sign(in) == want {
		t.Error("signature should change with the access token")
	}
}
